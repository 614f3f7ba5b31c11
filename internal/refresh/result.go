package refresh

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cookiekeeper/internal/browser"
	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
	"github.com/xkilldash9x/cookiekeeper/internal/credstore"
	"github.com/xkilldash9x/cookiekeeper/internal/lockfile"
)

// Outcome is the top-level result of a run.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeFailed    Outcome = "failed"
)

// SkipReason explains a skipped run.
type SkipReason string

const (
	SkipNotDue         SkipReason = "not_due"
	SkipAlreadyRunning SkipReason = "already_running"
)

// Stage names the step a failed run stopped at.
type Stage string

const (
	StageLock         Stage = "lock"
	StageIdentity     Stage = "identity"
	StageOpen         Stage = "open"
	StageAuthenticate Stage = "authenticate"
	StageExtract      Stage = "extract"
	StageEncode       Stage = "encode"
	StageCommit       Stage = "commit"
)

// Kind classifies a failure for operators reading the run log.
type Kind string

const (
	KindNavigation        Kind = "NavigationError"
	KindChallengeRequired Kind = "ChallengeRequired"
	KindExtraction        Kind = "ExtractionError"
	KindMalformedArtifact Kind = "MalformedArtifactError"
	KindPersistence       Kind = "PersistenceError"
	KindConfiguration     Kind = "ConfigurationError"
	KindSessionState      Kind = "SessionStateError"
	KindLock              Kind = "LockError"
	KindCanceled          Kind = "Canceled"
	KindInternal          Kind = "InternalError"
)

// RunResult describes one invocation of Run. Exactly one Outcome is set;
// Stage, Kind and Err are only set for failed runs.
type RunResult struct {
	RunID      string
	Outcome    Outcome
	SkipReason SkipReason
	Stage      Stage
	Kind       Kind
	Err        error
	// TimedOut is set when the step ran out of time rather than failing outright.
	TimedOut bool

	Artifact        *credstore.Artifact
	MissingRequired []string
	WarmUpFailures  []browser.WarmUpFailure
	RestartFailed   bool
	RestartErr      error

	Now      time.Time
	Duration time.Duration
}

// timeoutKind is the failure kind reported when a step runs out of time
// without saying why. A login that never resolves is treated as intercepted.
var timeoutKind = map[Stage]Kind{
	StageOpen:         KindNavigation,
	StageAuthenticate: KindChallengeRequired,
	StageExtract:      KindExtraction,
	StageCommit:       KindPersistence,
}

// classify maps an error from stage onto a Kind.
func classify(stage Stage, err error) (Kind, bool) {
	timedOut := errors.Is(err, context.DeadlineExceeded)
	switch {
	case errors.Is(err, browser.ErrChallengeRequired):
		return KindChallengeRequired, timedOut
	case errors.Is(err, browser.ErrNavigation):
		return KindNavigation, timedOut
	case errors.Is(err, browser.ErrExtraction):
		return KindExtraction, timedOut
	case errors.Is(err, cookies.ErrMalformedArtifact):
		return KindMalformedArtifact, timedOut
	case errors.Is(err, credstore.ErrPersistence):
		return KindPersistence, timedOut
	case errors.Is(err, browser.ErrSessionState):
		return KindSessionState, timedOut
	case errors.Is(err, lockfile.ErrLocked):
		return KindLock, timedOut
	case timedOut:
		if kind, ok := timeoutKind[stage]; ok {
			return kind, true
		}
		return KindInternal, true
	case errors.Is(err, context.Canceled):
		return KindCanceled, false
	}
	return KindInternal, false
}

// fields renders the result as the structured run log record.
func (r RunResult) fields() []zap.Field {
	fs := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("outcome", string(r.Outcome)),
		zap.Duration("duration", r.Duration),
		zap.Time("now", r.Now),
	}
	switch r.Outcome {
	case OutcomeSkipped:
		fs = append(fs, zap.String("reason", string(r.SkipReason)))
	case OutcomeFailed:
		fs = append(fs,
			zap.String("stage", string(r.Stage)),
			zap.String("kind", string(r.Kind)),
			zap.Bool("timed_out", r.TimedOut),
			zap.Error(r.Err),
		)
	case OutcomeRefreshed:
		if r.Artifact != nil {
			fs = append(fs,
				zap.Uint64("version", r.Artifact.Version),
				zap.Int("cookie_count", r.Artifact.CookieCount),
			)
		}
		fs = append(fs, zap.Bool("restart_failed", r.RestartFailed))
		if r.RestartErr != nil {
			fs = append(fs, zap.NamedError("restart_error", r.RestartErr))
		}
		if len(r.MissingRequired) > 0 {
			fs = append(fs, zap.Strings("missing_required", r.MissingRequired))
		}
	}
	if len(r.WarmUpFailures) > 0 {
		urls := make([]string, 0, len(r.WarmUpFailures))
		for _, f := range r.WarmUpFailures {
			urls = append(urls, f.URL)
		}
		fs = append(fs, zap.Strings("warm_up_failures", urls))
	}
	return fs
}
