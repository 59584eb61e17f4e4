// Package atomicfile writes files so readers see either the old content or the
// new content, never a partial write.
package atomicfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFile atomically replaces path with data
func WriteFile(path string, data []byte, perm os.FileMode) error {
	_, err := Copy(path, bytes.NewReader(data), perm)
	return err
}

// Copy streams r into a temporary file next to path, syncs it and renames
// it over path. The temporary file is removed on any failure.
func Copy(path string, r io.Reader, perm os.FileMode) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return n, fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, fmt.Errorf("failed to replace %s: %w", path, err)
	}
	committed = true
	return n, nil
}
