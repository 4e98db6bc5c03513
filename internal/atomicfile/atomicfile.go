// Package atomicfile writes whole files through a core.FS so that readers
// never observe a partially written file.
//
// Data is written to a uniquely named sibling file first and renamed into
// place once it has been fully written and closed. If any step fails the
// temporary file is removed and the destination is left untouched.
package atomicfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jmgilman/go/fs/core"
)

// TempSuffix marks in-flight temporary files. Anything carrying this suffix
// after a crash is garbage and can be removed with CleanupTemp.
const TempSuffix = ".partial"

// DirPerm is the permission used when creating parent directories.
const DirPerm fs.FileMode = 0o700

// FilePerm is the permission of files created by Write.
const FilePerm fs.FileMode = 0o600

// Write atomically replaces name with data.
func Write(fsys core.FS, name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := fsys.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(name)+"."+uuid.NewString()+TempSuffix)
	tmpFile, err := fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePerm)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = fsys.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if s, ok := tmpFile.(core.Syncer); ok {
		if err := s.Sync(); err != nil {
			_ = tmpFile.Close()
			_ = fsys.Remove(tmpPath)
			return fmt.Errorf("failed to sync temporary file: %w", err)
		}
	}

	if err := tmpFile.Close(); err != nil {
		_ = fsys.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	// Rename to final path (atomic on POSIX systems)
	if err := fsys.Rename(tmpPath, name); err != nil {
		_ = fsys.Remove(tmpPath)
		return fmt.Errorf("failed to rename %q: %w", name, err)
	}

	return nil
}

// IsTemp reports whether name is a temporary file produced by Write.
func IsTemp(name string) bool {
	return strings.HasSuffix(name, TempSuffix)
}

// CleanupTemp removes leftover temporary files directly inside dir and
// returns how many were removed. A missing directory is not an error.
func CleanupTemp(fsys core.FS, dir string) (int, error) {
	exists, err := fsys.Exists(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to check directory %q: %w", dir, err)
	}
	if !exists {
		return 0, nil
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory %q: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsTemp(entry.Name()) {
			continue
		}
		if err := fsys.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, core.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove temporary file %q: %w", entry.Name(), err)
		}
		removed++
	}

	return removed, nil
}
