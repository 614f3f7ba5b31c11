package credstore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
)

// ErrPersistence wraps any failure to stage or publish an artifact. When it is
// returned, the previously published artifact is still in place.
var ErrPersistence = errors.New("credential persistence failed")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the durable home of the current credential. The record file is the
// versioned source of truth for freshness; the env file is the surface the bot
// reads at startup; the cookie and base64 files are diagnostic copies.
type Store struct {
	recordPath  string
	cookiesPath string
	encodedPath string
	env         EnvFile
	logger      *zap.Logger

	mu sync.Mutex
}

// New creates a store over the configured locations. No I/O happens until the
// first Read or Commit.
func New(storeCfg config.StoreConfig, publishCfg config.PublishConfig, logger *zap.Logger) *Store {
	resolve := func(name string) string {
		if name == "" || filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(storeCfg.StateDir, name)
	}
	return &Store{
		recordPath:  resolve(storeCfg.RecordFile),
		cookiesPath: resolve(storeCfg.CookiesFile),
		encodedPath: resolve(storeCfg.EncodedFile),
		env: EnvFile{
			Path:      publishCfg.EnvFile,
			Key:       publishCfg.EnvKey,
			ChunkSize: publishCfg.ChunkSize,
		},
		logger: logger.Named("credstore"),
	}
}

// RecordPath returns the location of the versioned artifact record.
func (s *Store) RecordPath() string { return s.recordPath }

// Env returns the env file surface the store publishes to.
func (s *Store) Env() EnvFile { return s.env }

// Read returns the current artifact, or nil when none has been committed. A
// record that fails its digest or cannot be decoded is reported with
// cookies.ErrMalformedArtifact.
func (s *Store) Read() (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() (*Artifact, error) {
	data, err := os.ReadFile(s.recordPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading artifact record: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: record: %v", cookies.ErrMalformedArtifact, err)
	}
	if a.Digest != digest(a.Encoded) {
		return nil, fmt.Errorf("%w: digest mismatch in %s", cookies.ErrMalformedArtifact, s.recordPath)
	}
	cs, err := cookies.Decode(a.Encoded)
	if err != nil {
		return nil, err
	}
	a.Cookies = cs
	return &a, nil
}

// Commit publishes a new artifact, all or nothing. The env file and the record
// are both staged before either is renamed; the env file goes first and is
// put back if the record cannot follow it. A crash between the two renames
// leaves fresh cookies under the old timestamp, which only causes an early
// refresh. Diagnostic copies are written once the commit has succeeded.
func (s *Store) Commit(a Artifact) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Encoded == "" {
		return nil, fmt.Errorf("%w: artifact has no encoded form", ErrPersistence)
	}
	if a.FetchedAt.IsZero() {
		return nil, fmt.Errorf("%w: artifact has no fetch time", ErrPersistence)
	}

	s.removeStaleStaging()

	prev, err := s.read()
	if err != nil {
		if !errors.Is(err, cookies.ErrMalformedArtifact) {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		s.logger.Warn("Existing artifact record is unreadable; superseding it.", zap.Error(err))
		prev = nil
	}
	if prev != nil {
		if a.FetchedAt.Before(prev.FetchedAt) {
			return nil, fmt.Errorf("%w: fetched_at %s precedes published %s",
				ErrPersistence, a.FetchedAt.Format("2006-01-02T15:04:05Z07:00"), prev.FetchedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		a.Version = prev.Version + 1
	} else {
		a.Version = 1
	}
	a.Digest = digest(a.Encoded)
	if a.Cookies != nil {
		a.CookieCount = len(a.Cookies)
	}

	record, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encoding record: %w", ErrPersistence, err)
	}

	envStaged, envPrev, err := s.env.stage(a.Encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: staging %s: %w", ErrPersistence, s.env.Path, err)
	}
	recordStaged, err := stageFile(s.recordPath, append(record, '\n'), 0o600)
	if err != nil {
		envStaged.discard()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := envStaged.publish(); err != nil {
		recordStaged.discard()
		return nil, fmt.Errorf("%w: publishing %s: %w", ErrPersistence, s.env.Path, err)
	}
	if err := recordStaged.publish(); err != nil {
		if restoreErr := s.env.restore(envPrev); restoreErr != nil {
			s.logger.Error("Could not restore the env file after a failed commit; it holds an unrecorded value.",
				zap.String("path", s.env.Path), zap.Error(restoreErr))
			return nil, fmt.Errorf("%w: %w (restoring %s: %w)", ErrPersistence, err, s.env.Path, restoreErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	// Not authoritative, so failures are only logged.
	s.writeDiagnostics(a.Encoded)

	s.logger.Info("Artifact committed.",
		zap.Uint64("version", a.Version),
		zap.Time("fetched_at", a.FetchedAt),
		zap.Int("cookie_count", a.CookieCount),
		zap.String("digest", a.Digest[:16]),
	)
	return &a, nil
}

func (s *Store) writeDiagnostics(encoded string) {
	if s.cookiesPath != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil {
			err = writeFileAtomic(s.cookiesPath, raw, 0o600)
		}
		if err != nil {
			s.logger.Warn("Could not write diagnostic cookie file.", zap.String("path", s.cookiesPath), zap.Error(err))
		}
	}
	if s.encodedPath != "" {
		if err := writeFileAtomic(s.encodedPath, []byte(encoded), 0o600); err != nil {
			s.logger.Warn("Could not write diagnostic encoded file.", zap.String("path", s.encodedPath), zap.Error(err))
		}
	}
}

// removeStaleStaging deletes staging files left behind by an interrupted run.
func (s *Store) removeStaleStaging() {
	dirs := map[string]struct{}{}
	for _, p := range []string{s.recordPath, s.cookiesPath, s.encodedPath, s.env.Path} {
		if p != "" {
			dirs[filepath.Dir(p)] = struct{}{}
		}
	}
	for dir := range dirs {
		matches, _ := filepath.Glob(filepath.Join(dir, ".*"+stagingSuffix))
		for _, m := range matches {
			if err := os.Remove(m); err == nil {
				s.logger.Debug("Removed stale staging file.", zap.String("path", m))
			}
		}
	}
}
