package credstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// stagingSuffix marks temporary files written next to their published target.
const stagingSuffix = ".staging"

// beforeRename is a test seam: it runs after the staging file is durable and
// before it is renamed over the published path. Returning an error aborts the
// publish exactly as a crash at that point would leave the old file in place.
var beforeRename = func(stagingPath, finalPath string) error { return nil }

// stagedFile is durable content waiting next to its target for a rename.
type stagedFile struct {
	staging string
	path    string
}

// stageFile writes data to a synced staging file in path's directory. Nothing
// at path changes until publish. The staging file lives in the same directory
// so the rename never crosses filesystems.
func stageFile(path string, data []byte, perm os.FileMode) (*stagedFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*"+stagingSuffix)
	if err != nil {
		return nil, fmt.Errorf("creating staging file for %s: %w", path, err)
	}
	stagingPath := file.Name()

	// Write, sync, close, in that order. Any failure removes the staging file.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(stagingPath)
		return nil, fmt.Errorf("writing staging file for %s: %w", path, err)
	}
	if err := file.Chmod(perm); err != nil {
		file.Close()
		os.Remove(stagingPath)
		return nil, fmt.Errorf("setting mode on staging file for %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(stagingPath)
		return nil, fmt.Errorf("syncing staging file for %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(stagingPath)
		return nil, fmt.Errorf("closing staging file for %s: %w", path, err)
	}
	return &stagedFile{staging: stagingPath, path: path}, nil
}

// publish renames the staged content over its target. The staging file is
// gone afterwards whether or not the rename succeeded.
func (f *stagedFile) publish() error {
	if err := beforeRename(f.staging, f.path); err != nil {
		os.Remove(f.staging)
		return err
	}
	if err := os.Rename(f.staging, f.path); err != nil {
		os.Remove(f.staging)
		return fmt.Errorf("renaming %s into place: %w", f.path, err)
	}

	// Sync the parent directory so the rename survives a power loss.
	if parent, err := os.Open(filepath.Dir(f.path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// discard drops a staged file that will not be published. Safe on nil.
func (f *stagedFile) discard() {
	if f != nil {
		os.Remove(f.staging)
	}
}

// writeFileAtomic publishes data at path so that readers observe either the old
// content or the new content, never a partial write.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	staged, err := stageFile(path, data, perm)
	if err != nil {
		return err
	}
	return staged.publish()
}
