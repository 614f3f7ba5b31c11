// File: internal/refresh/orchestrator.go
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/cookiekeeper/internal/browser"
	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
	"github.com/xkilldash9x/cookiekeeper/internal/credstore"
	"github.com/xkilldash9x/cookiekeeper/internal/lockfile"
	"github.com/xkilldash9x/cookiekeeper/internal/policy"
	"github.com/xkilldash9x/cookiekeeper/internal/service"
)

// BrowserSession is the browser capability a run drives. browser.Session is
// the production implementation.
type BrowserSession interface {
	Open(ctx context.Context, targetURL string) error
	Authenticate(ctx context.Context, id browser.Identity) error
	VisitWarmUpPages(ctx context.Context, urls []string) []browser.WarmUpFailure
	ExtractCookies(ctx context.Context) ([]cookies.Cookie, error)
	Close(ctx context.Context) error
}

// SessionFactory returns a fresh session for each run.
type SessionFactory func() BrowserSession

// CredentialStore is the durable credential the orchestrator reads and commits.
type CredentialStore interface {
	Read() (*credstore.Artifact, error)
	Commit(a credstore.Artifact) (*credstore.Artifact, error)
}

// RunOption adjusts a single run.
type RunOption func(*runOptions)

type runOptions struct {
	force bool
}

// WithForce refreshes even when the stored artifact is not due.
func WithForce() RunOption {
	return func(o *runOptions) { o.force = true }
}

// Orchestrator performs refresh runs. It is safe for concurrent use; at most
// one run proceeds at a time in this process, and the lock file extends that
// across processes.
type Orchestrator struct {
	store      CredentialStore
	newSession SessionFactory
	controller service.Controller
	policy     policy.Policy
	logger     *zap.Logger

	identity   browser.Identity
	loginURL   string
	warmUp     []string
	required   []string
	lockPath   string
	runTimeout time.Duration
	clock      func() time.Time

	running *semaphore.Weighted
}

// New creates an orchestrator from the loaded configuration and its
// collaborators.
func New(
	cfg *config.Config,
	store CredentialStore,
	newSession SessionFactory,
	controller service.Controller,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if cfg == nil || store == nil || newSession == nil || controller == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		store:      store,
		newSession: newSession,
		controller: controller,
		policy:     policy.New(cfg.Refresh.MaxAge),
		logger:     logger.Named("orchestrator"),
		identity:   browser.Identity{Account: cfg.Identity.Account, Secret: cfg.Identity.Secret},
		loginURL:   cfg.Browser.LoginURL,
		warmUp:     cfg.Browser.WarmUpPages,
		required:   cfg.Refresh.RequiredCookies,
		lockPath:   cfg.Refresh.LockFile,
		runTimeout: cfg.Refresh.RunTimeout,
		clock:      time.Now,
		running:    semaphore.NewWeighted(1),
	}, nil
}

// Policy returns the staleness policy in use.
func (o *Orchestrator) Policy() policy.Policy { return o.policy }

// Run performs one refresh cycle as of now. It never panics on operational
// failures and never returns an error: every outcome is in the RunResult,
// which is also written to the log as a single record.
func (o *Orchestrator) Run(ctx context.Context, now time.Time, opts ...RunOption) RunResult {
	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}

	started := o.clock()
	result := RunResult{RunID: uuid.NewString(), Now: now}
	logger := o.logger.With(zap.String("run_id", result.RunID))

	o.run(ctx, now, options, &result, logger)

	result.Duration = o.clock().Sub(started)
	o.report(logger, result)
	return result
}

func (o *Orchestrator) run(ctx context.Context, now time.Time, options runOptions, result *RunResult, logger *zap.Logger) {
	// 1. Exclusivity, in process and across processes.
	if !o.running.TryAcquire(1) {
		result.skip(SkipAlreadyRunning)
		return
	}
	defer o.running.Release(1)

	lock, err := lockfile.TryLock(o.lockPath)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			result.skip(SkipAlreadyRunning)
			return
		}
		result.fail(StageLock, err)
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("Failed to release run lock.", zap.String("path", lock.Path()), zap.Error(err))
		}
	}()

	// 2. Staleness. An unreadable artifact counts as absent.
	current, err := o.store.Read()
	if err != nil {
		logger.Warn("Stored artifact is unusable; treating it as absent.", zap.Error(err))
		current = nil
	}
	var fetchedAt time.Time
	if current != nil {
		fetchedAt = current.FetchedAt
	}
	if !options.force && !o.policy.Due(now, fetchedAt) {
		logger.Debug("Artifact is fresh.",
			zap.Duration("age", policy.Age(now, fetchedAt)),
			zap.Time("next_due", o.policy.NextDue(fetchedAt)),
		)
		result.skip(SkipNotDue)
		return
	}
	if err := o.checkIdentity(); err != nil {
		result.fail(StageIdentity, err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	// 3. Browser. The session is closed on every path before anything is
	// committed.
	jar, failures, stage, err := o.harvest(runCtx, logger)
	result.WarmUpFailures = failures
	if err != nil {
		result.fail(stage, err)
		return
	}
	if missing := cookies.MissingRequired(jar, o.required); len(missing) > 0 {
		logger.Warn("Extracted jar lacks required cookies; playback may still be refused.", zap.Strings("missing", missing))
		result.MissingRequired = missing
	}

	// 4. Encode and commit.
	encoded, err := cookies.Encode(jar)
	if err != nil {
		result.fail(StageEncode, err)
		return
	}
	committed, err := o.store.Commit(credstore.Artifact{
		FetchedAt:     now,
		SourceAccount: credstore.MaskAccount(o.identity.Account),
		Encoded:       encoded,
		Cookies:       jar,
	})
	if err != nil {
		result.fail(StageCommit, err)
		return
	}
	result.Outcome = OutcomeRefreshed
	result.Artifact = committed

	// 5. Restart. The new credential is already published, so a run deadline
	// must not prevent the bot from picking it up; the controller bounds its
	// own calls.
	restartCtx := context.WithoutCancel(ctx)
	if err := o.restart(restartCtx); err != nil {
		result.RestartFailed = true
		result.RestartErr = err
	}
}

func (o *Orchestrator) checkIdentity() error {
	if o.identity.Account == "" || o.identity.Secret == "" {
		return fmt.Errorf("no login identity configured")
	}
	return nil
}

// harvest runs the browser steps and always closes the session.
func (o *Orchestrator) harvest(ctx context.Context, logger *zap.Logger) ([]cookies.Cookie, []browser.WarmUpFailure, Stage, error) {
	session := o.newSession()
	defer func() {
		// The run context may be spent; Close carries its own timeout.
		if err := session.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Browser session did not close cleanly.", zap.Error(err))
		}
	}()

	if _, err := step(ctx, func(c context.Context) (struct{}, error) {
		return struct{}{}, session.Open(c, o.loginURL)
	}); err != nil {
		return nil, nil, StageOpen, err
	}
	if _, err := step(ctx, func(c context.Context) (struct{}, error) {
		return struct{}{}, session.Authenticate(c, o.identity)
	}); err != nil {
		return nil, nil, StageAuthenticate, err
	}

	// Warm-up failures are never fatal; a spent context shows up at extraction.
	failures, _ := step(ctx, func(c context.Context) ([]browser.WarmUpFailure, error) {
		return session.VisitWarmUpPages(c, o.warmUp), nil
	})
	for _, f := range failures {
		logger.Warn("Warm-up page failed; continuing.", zap.String("url", f.URL), zap.Error(f.Err))
	}

	jar, err := step(ctx, session.ExtractCookies)
	if err != nil {
		return nil, failures, StageExtract, err
	}
	return jar, failures, "", nil
}

type stepResult[T any] struct {
	value T
	err   error
}

// step runs fn and returns as soon as it finishes or ctx ends, whichever is
// first. A step that ignores its context is abandoned; the deferred Close
// tears its browser down.
func step[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan stepResult[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- stepResult[T]{v, err}
	}()
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		// Prefer the step's own error when it finished at the same moment.
		select {
		case r := <-done:
			if r.err != nil {
				return r.value, r.err
			}
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}

// restart restarts the bot and confirms it came back.
func (o *Orchestrator) restart(ctx context.Context) error {
	if err := o.controller.Restart(ctx); err != nil {
		return err
	}
	state, err := o.controller.Status(ctx)
	if err != nil {
		return err
	}
	if state != service.StateRunning {
		return fmt.Errorf("%w: service is %s after restart", service.ErrRestartFailed, state)
	}
	return nil
}

func (o *Orchestrator) report(logger *zap.Logger, r RunResult) {
	fields := r.fields()
	switch {
	case r.Outcome == OutcomeFailed:
		logger.Error("Refresh run failed.", fields...)
	case r.Outcome == OutcomeRefreshed && r.RestartFailed:
		logger.Warn("Credentials refreshed but the service restart failed.", fields...)
	case r.Outcome == OutcomeRefreshed:
		logger.Info("Credentials refreshed.", fields...)
	default:
		logger.Info("Refresh run skipped.", fields...)
	}
}

func (r *RunResult) skip(reason SkipReason) {
	r.Outcome = OutcomeSkipped
	r.SkipReason = reason
}

func (r *RunResult) fail(stage Stage, err error) {
	r.Outcome = OutcomeFailed
	r.Stage = stage
	r.Err = err
	r.Kind, r.TimedOut = classify(stage, err)
	if stage == StageIdentity {
		r.Kind = KindConfiguration
	}
}
