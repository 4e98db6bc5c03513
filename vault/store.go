package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jmgilman/go/fs/core"
	"github.com/jmgilman/go/remotedocs/internal/atomicfile"
)

// storeVersion is the layout version of the store file.
const storeVersion = 1

// storeFile is the persisted form of the vault.
type storeFile struct {
	Version int      `json:"version"`
	Entries []*Entry `json:"entries"`
}

// rawStoreFile defers decoding of individual records so that a malformed
// record does not invalidate the rest of the file.
type rawStoreFile struct {
	Version int               `json:"version"`
	Entries []json.RawMessage `json:"entries"`
}

// loadStore reads the store at name. A missing file yields no entries. An
// unparseable file yields no entries and an error matching
// ErrCredentialStoreCorrupted. Malformed records are dropped and counted.
func loadStore(fsys core.FS, name string) (map[entryKey]*Entry, int, error) {
	entries := make(map[entryKey]*Entry)

	data, err := fsys.ReadFile(name)
	if err != nil {
		if errors.Is(err, core.ErrNotExist) {
			return entries, 0, nil
		}
		return entries, 0, fmt.Errorf("%w: %w", ErrCredentialStoreCorrupted, err)
	}

	var raw rawStoreFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return entries, 0, fmt.Errorf("%w: %w", ErrCredentialStoreCorrupted, err)
	}
	if raw.Version != storeVersion {
		return entries, 0, fmt.Errorf("%w: unsupported version %d", ErrCredentialStoreCorrupted, raw.Version)
	}

	dropped := 0
	for _, record := range raw.Entries {
		var e Entry
		if err := json.Unmarshal(record, &e); err != nil {
			dropped++
			continue
		}
		if e.RepositoryID == "" || !e.AuthMethod.Valid() || len(e.EncryptedToken) == 0 {
			dropped++
			continue
		}
		k := entryKey{repositoryID: e.RepositoryID, method: e.AuthMethod}
		if _, dup := entries[k]; dup {
			dropped++
			continue
		}
		entries[k] = &e
	}

	return entries, dropped, nil
}

// saveStore atomically writes entries to name in a stable order.
func saveStore(fsys core.FS, name string, entries map[entryKey]*Entry) error {
	file := storeFile{Version: storeVersion, Entries: make([]*Entry, 0, len(entries))}
	for _, e := range entries {
		file.Entries = append(file.Entries, e)
	}
	sort.Slice(file.Entries, func(i, j int) bool {
		a, b := file.Entries[i], file.Entries[j]
		if a.RepositoryID != b.RepositoryID {
			return a.RepositoryID < b.RepositoryID
		}
		return a.AuthMethod < b.AuthMethod
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential store: %w", err)
	}

	return atomicfile.Write(fsys, name, data)
}
