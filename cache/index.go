package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jmgilman/go/fs/core"
	"github.com/jmgilman/go/remotedocs/internal/atomicfile"
)

// indexVersion is bumped whenever the persisted layout changes. Metadata
// written with any other version is discarded at load.
const indexVersion = 1

// indexFile is the persisted form of the index.
type indexFile struct {
	Version                int              `json:"version"`
	Entries                []*Entry         `json:"entries"`
	TotalSizeBytes         int64            `json:"total_size_bytes"`
	PerRepositorySizeBytes map[string]int64 `json:"per_repository_size_bytes"`
}

// index is the in-memory accounting of all cached objects.
// It is not safe for concurrent use; the owning Cache serializes access.
type index struct {
	entries                map[string]*Entry
	totalSizeBytes         int64
	perRepositorySizeBytes map[string]int64
}

func newIndex() *index {
	return &index{
		entries:                make(map[string]*Entry),
		perRepositorySizeBytes: make(map[string]int64),
	}
}

// get returns the entry stored under key.
func (idx *index) get(key string) (*Entry, bool) {
	e, ok := idx.entries[key]
	return e, ok
}

// put inserts or replaces an entry, adjusting the totals by the size delta.
func (idx *index) put(e *Entry) {
	if old, ok := idx.entries[e.Key]; ok {
		idx.release(old)
	}
	idx.entries[e.Key] = e
	idx.totalSizeBytes += e.SizeBytes
	idx.perRepositorySizeBytes[e.RepositoryID] += e.SizeBytes
}

// remove deletes the entry stored under key and returns it.
func (idx *index) remove(key string) (*Entry, bool) {
	e, ok := idx.entries[key]
	if !ok {
		return nil, false
	}
	delete(idx.entries, key)
	idx.release(e)
	return e, true
}

func (idx *index) release(e *Entry) {
	idx.totalSizeBytes -= e.SizeBytes
	idx.perRepositorySizeBytes[e.RepositoryID] -= e.SizeBytes
	if idx.perRepositorySizeBytes[e.RepositoryID] <= 0 {
		delete(idx.perRepositorySizeBytes, e.RepositoryID)
	}
}

// repoSize returns the bytes currently attributed to a repository.
func (idx *index) repoSize(repositoryID string) int64 {
	return idx.perRepositorySizeBytes[repositoryID]
}

// sorted returns the entries matching filter in eviction order: ascending
// LastAccessedAt, ties broken by key.
func (idx *index) sorted(filter func(*Entry) bool) []*Entry {
	var out []*Entry
	for _, e := range idx.entries {
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAccessedAt.Equal(out[j].LastAccessedAt) {
			return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// snapshot copies the per-repository totals.
func (idx *index) snapshot() map[string]int64 {
	out := make(map[string]int64, len(idx.perRepositorySizeBytes))
	for k, v := range idx.perRepositorySizeBytes {
		out[k] = v
	}
	return out
}

// save atomically writes the index to name.
func (idx *index) save(fsys core.FS, name string) error {
	file := indexFile{
		Version:                indexVersion,
		Entries:                idx.sorted(nil),
		TotalSizeBytes:         idx.totalSizeBytes,
		PerRepositorySizeBytes: idx.perRepositorySizeBytes,
	}
	if file.Entries == nil {
		file.Entries = []*Entry{}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if err := atomicfile.Write(fsys, name, data); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	return nil
}

// loadIndex reads the index stored at name. A missing file yields an empty
// index. Unparseable or version-mismatched content yields an empty index and
// an error matching ErrCacheIndexCorrupted.
//
// Totals are always recomputed from the entries; the persisted totals are
// informational only. Entries failing validate are dropped.
func loadIndex(fsys core.FS, name string, validate func(*Entry) bool) (*index, int, error) {
	idx := newIndex()

	data, err := fsys.ReadFile(name)
	if err != nil {
		if errors.Is(err, core.ErrNotExist) {
			return idx, 0, nil
		}
		return idx, 0, fmt.Errorf("%w: %w", ErrCacheIndexCorrupted, err)
	}

	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return idx, 0, fmt.Errorf("%w: %w", ErrCacheIndexCorrupted, err)
	}
	if file.Version != indexVersion {
		return idx, 0, fmt.Errorf("%w: unsupported version %d", ErrCacheIndexCorrupted, file.Version)
	}

	dropped := 0
	for _, e := range file.Entries {
		if e == nil || !validate(e) {
			dropped++
			continue
		}
		if _, dup := idx.entries[e.Key]; dup {
			dropped++
			continue
		}
		idx.put(e)
	}

	return idx, dropped, nil
}
