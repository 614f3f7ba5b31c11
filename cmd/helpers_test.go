package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
	"github.com/xkilldash9x/cookiekeeper/internal/credstore"
	"github.com/xkilldash9x/cookiekeeper/internal/policy"
	"github.com/xkilldash9x/cookiekeeper/internal/refresh"
	"github.com/xkilldash9x/cookiekeeper/internal/service"
)

// newTestConfig returns the default configuration with every path moved
// into a temporary directory.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Logger.LogFile = filepath.Join(dir, "cookiekeeper.log")
	cfg.Refresh.LockFile = filepath.Join(dir, "refresh.lock")
	cfg.Store.StateDir = filepath.Join(dir, "state")
	cfg.Publish.EnvFile = filepath.Join(dir, ".env")
	cfg.Identity = config.IdentityConfig{Account: "dj@example.com", Secret: "hunter2"}
	return cfg
}

// testJar is a small cookie set containing every default required name.
func testJar() []cookies.Cookie {
	var jar []cookies.Cookie
	for _, name := range cookies.DefaultRequired {
		jar = append(jar, cookies.Cookie{
			Domain: ".youtube.com", Path: "/", Secure: true, Expires: 1767225600,
			Name: name, Value: "v-" + name,
		})
	}
	cookies.Sort(jar)
	return jar
}

// commitTestArtifact publishes testJar through a real store.
func commitTestArtifact(t *testing.T, store *credstore.Store, fetchedAt time.Time) *credstore.Artifact {
	t.Helper()
	jar := testJar()
	encoded, err := cookies.Encode(jar)
	require.NoError(t, err)
	a, err := store.Commit(credstore.Artifact{
		FetchedAt:     fetchedAt,
		SourceAccount: credstore.MaskAccount("dj@example.com"),
		Encoded:       encoded,
		Cookies:       jar,
	})
	require.NoError(t, err)
	return a
}

// -- Mocks --

type MockRefresher struct {
	mock.Mock
	policy policy.Policy
}

func (m *MockRefresher) Run(ctx context.Context, now time.Time, opts ...refresh.RunOption) refresh.RunResult {
	args := m.Called(ctx, now, len(opts))
	return args.Get(0).(refresh.RunResult)
}

func (m *MockRefresher) Policy() policy.Policy { return m.policy }

type MockController struct {
	mock.Mock
}

func (m *MockController) Restart(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockController) Status(ctx context.Context) (service.State, error) {
	args := m.Called(ctx)
	return args.Get(0).(service.State), args.Error(1)
}

type MockComponentFactory struct {
	mock.Mock
}

func (m *MockComponentFactory) Create(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	args := m.Called(cfg, logger)
	c, _ := args.Get(0).(*Components)
	return c, args.Error(1)
}

// testHarness bundles mocks around a real credential store.
type testHarness struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *credstore.Store
	refresher  *MockRefresher
	controller *MockController
	factory    *MockComponentFactory
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := newTestConfig(t)
	logger := zaptest.NewLogger(t)
	h := &testHarness{
		cfg:        cfg,
		logger:     logger,
		store:      credstore.New(cfg.Store, cfg.Publish, logger),
		refresher:  &MockRefresher{policy: policy.New(cfg.Refresh.MaxAge)},
		controller: new(MockController),
		factory:    new(MockComponentFactory),
	}
	h.factory.On("Create", cfg, mock.AnythingOfType("*zap.Logger")).Return(&Components{
		Refresher:  h.refresher,
		Store:      h.store,
		Controller: h.controller,
	}, nil)
	return h
}
