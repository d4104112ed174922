// Package atomicfile writes files so that readers observe either the old
// content or the new content, never a partial write.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirPerms is used when creating missing parent directories.
const DirPerms = 0o700

// syncDir flushes a directory entry table. Replaced in tests.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}

	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}

	return d.Close()
}

// Write replaces path with data using a temp file in the same directory,
// fsync, rename, and an fsync of the directory so the rename itself is
// durable. The same directory guarantees the same filesystem for rename(2).
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("atomicfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("atomicfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, perm); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: writing %s: %w", path, err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: syncing %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: closing %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicfile: renaming into %s: %w", path, err)
	}

	success = true

	if err := syncDir(dir); err != nil {
		return fmt.Errorf("atomicfile: syncing directory %s: %w", dir, err)
	}

	return nil
}
