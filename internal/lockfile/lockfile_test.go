package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "refresh.lock")

	first, err := TryLock(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Unlock() })

	// flock locks belong to the open file description, so a second open in the
	// same process contends exactly like a second process would.
	second, err := TryLock(path)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Nil(t, second)
}

func TestTryLock_ReleasedAfterUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refresh.lock")

	first, err := TryLock(path)
	require.NoError(t, err)
	require.NoError(t, first.Unlock())

	again, err := TryLock(path)
	require.NoError(t, err)
	assert.Equal(t, path, again.Path())
	require.NoError(t, again.Unlock())
}

func TestTryLock_WritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refresh.lock")
	l, err := TryLock(path)
	require.NoError(t, err)
	defer l.Unlock()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
}

func TestUnlock_Idempotent(t *testing.T) {
	l, err := TryLock(filepath.Join(t.TempDir(), "refresh.lock"))
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
	assert.NoError(t, l.Unlock())

	var nilLock *Lock
	assert.NoError(t, nilLock.Unlock())
}
