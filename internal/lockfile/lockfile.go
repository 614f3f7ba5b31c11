// Package lockfile provides a non-blocking, process-wide exclusive lock backed by
// a file on disk. The lock is tied to the open file description, so the kernel
// releases it when the holding process exits, even on SIGKILL.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another process")

// Lock is a held lock. Release it with Unlock.
type Lock struct {
	path string
	file *os.File
}

// TryLock attempts to take the lock at path without blocking. The parent
// directory is created if needed. The holder's PID is written into the file for
// operators; it carries no meaning for the locking itself.
func TryLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := tryLockFile(f); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{path: path, file: f}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Unlock releases the lock. The lock file itself is left in place; removing it
// would let a waiter lock an unlinked inode while a newcomer locks a fresh one.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("releasing lock: %w", unlockErr)
	}
	return closeErr
}
