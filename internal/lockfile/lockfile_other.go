//go:build !unix

package lockfile

import (
	"os"
	"sync"
)

// Platforms without flock fall back to an in-process registry keyed by path.
// This still serializes the daemon's own ticks but not separate processes.
var (
	heldMu sync.Mutex
	held   = map[string]bool{}
)

func tryLockFile(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	if held[f.Name()] {
		return ErrLocked
	}
	held[f.Name()] = true
	return nil
}

func unlockFile(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	delete(held, f.Name())
	return nil
}
