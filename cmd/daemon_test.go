package cmd

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cookiekeeper/internal/refresh"
)

// syncBuffer lets the scheduler goroutine and the test share output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunDaemon_RunsAtStartupAndStops(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Refresh.Schedule = "@every 1h"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.refresher.On("Run", mock.Anything, mock.Anything, 0).
		Return(refresh.RunResult{Outcome: refresh.OutcomeSkipped, SkipReason: refresh.SkipNotDue}).
		Run(func(mock.Arguments) { cancel() }).
		Once()

	core, logs := observer.New(zapcore.InfoLevel)
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, &out, h.cfg, true, h.factory, zap.New(core)) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop after its context was canceled")
	}

	assert.Equal(t, "Skipped: not_due\n", out.String())
	assert.Equal(t, 1, logs.FilterMessage("Scheduler started.").Len())
	assert.Equal(t, 1, logs.FilterMessage("Scheduler stopped.").Len())
	h.refresher.AssertExpectations(t)
}

func TestRunDaemon_WithoutRunNowWaitsForSchedule(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Refresh.Schedule = "@daily"
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := runDaemon(ctx, &bytes.Buffer{}, h.cfg, false, h.factory, h.logger)

	require.NoError(t, err)
	h.refresher.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunDaemon_InvalidSchedule(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Refresh.Schedule = "every now and then"

	err := runDaemon(context.Background(), &bytes.Buffer{}, h.cfg, true, h.factory, h.logger)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
	h.factory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCronLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := cronLogger{logger: zap.New(core)}

	l.Info("wake", "now", "later")
	l.Error(errors.New("boom"), "job panicked", "job", "refresh")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "later", entries[0].ContextMap()["now"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}
