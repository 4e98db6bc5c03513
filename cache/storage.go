package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/jmgilman/go/fs/core"
	"github.com/jmgilman/go/remotedocs/internal/atomicfile"
)

const (
	blobsDir      = "blobs"
	indexFileName = "index.json"
)

// storage reads and writes blob files below the cache root.
type storage struct {
	fs   core.FS
	root string
}

// blobName maps a composite key to a filesystem-safe name relative to the
// cache root.
func blobName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(blobsDir, hex.EncodeToString(sum[:]))
}

// checksum returns the integrity checksum recorded for a blob.
func checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func (s *storage) path(name string) string {
	return filepath.Join(s.root, name)
}

func (s *storage) indexPath() string {
	return s.path(indexFileName)
}

func (s *storage) blobsPath() string {
	return s.path(blobsDir)
}

// init creates the directory layout and removes files left behind by
// interrupted writes.
func (s *storage) init() error {
	if err := s.fs.MkdirAll(s.blobsPath(), atomicfile.DirPerm); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if _, err := atomicfile.CleanupTemp(s.fs, s.root); err != nil {
		return err
	}
	if _, err := atomicfile.CleanupTemp(s.fs, s.blobsPath()); err != nil {
		return err
	}
	return nil
}

// write atomically replaces the blob called name.
func (s *storage) write(name string, data []byte) error {
	return atomicfile.Write(s.fs, s.path(name), data)
}

// read returns the content of a blob, verifying its size and checksum.
func (s *storage) read(e *Entry) ([]byte, error) {
	data, err := s.fs.ReadFile(s.path(e.BlobName))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != e.SizeBytes {
		return nil, fmt.Errorf("blob size %d does not match recorded size %d", len(data), e.SizeBytes)
	}
	if checksum(data) != e.Checksum {
		return nil, errors.New("blob checksum mismatch")
	}
	return data, nil
}

// size returns the on-disk size of a blob.
func (s *storage) size(name string) (int64, error) {
	info, err := s.fs.Stat(s.path(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// remove deletes a blob. A blob that is already gone is not an error.
func (s *storage) remove(name string) error {
	if err := s.fs.Remove(s.path(name)); err != nil && !errors.Is(err, core.ErrNotExist) {
		return err
	}
	return nil
}

// orphans lists blob names present on disk but absent from keep.
func (s *storage) orphans(keep map[string]struct{}) ([]string, error) {
	entries, err := s.fs.ReadDir(s.blobsPath())
	if err != nil {
		if errors.Is(err, core.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := filepath.Join(blobsDir, entry.Name())
		if _, ok := keep[name]; !ok {
			out = append(out, name)
		}
	}
	return out, nil
}
