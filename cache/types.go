package cache

import (
	"strings"
	"time"
)

// Kind distinguishes the two object types held by the cache.
type Kind string

const (
	// KindFile is the raw content of a single file.
	KindFile Kind = "file"
	// KindTree is a serialized directory-tree snapshot.
	KindTree Kind = "tree"
)

// TreePath is the reserved path under which a tree snapshot is keyed. The
// leading NUL byte guarantees it never collides with a real file path.
const TreePath = "\x00tree"

// keySeparator joins the components of a composite key.
const keySeparator = "\x00"

// Entry describes a single cached object.
type Entry struct {
	Key            string    `json:"key"`
	RepositoryID   string    `json:"repository_id"`
	Branch         string    `json:"branch"`
	Path           string    `json:"path"`
	Kind           Kind      `json:"kind"`
	SizeBytes      int64     `json:"size_bytes"`
	FetchedAt      time.Time `json:"fetched_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	BlobName       string    `json:"blob_name"` // Relative to the cache root
	Checksum       uint64    `json:"checksum"`  // xxhash64 of the blob
}

// Tree is a directory-tree snapshot of one branch of a repository.
type Tree struct {
	RepositoryID string      `json:"repository_id"`
	Branch       string      `json:"branch"`
	Revision     string      `json:"revision,omitempty"`
	Entries      []TreeEntry `json:"entries"`
}

// TreeEntry is a single node of a Tree.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	Size int64  `json:"size,omitempty"`
	SHA  string `json:"sha,omitempty"`
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	TotalSizeBytes         int64
	EntryCount             int
	PerRepositorySizeBytes map[string]int64
	MaxTotalBytes          int64
	MaxRepoBytes           int64
}

// Key builds the composite key for a repository, branch and path.
func Key(repositoryID, branch, path string) string {
	return strings.Join([]string{repositoryID, branch, path}, keySeparator)
}

// TreeKey builds the composite key of the tree snapshot for a branch.
func TreeKey(repositoryID, branch string) string {
	return Key(repositoryID, branch, TreePath)
}

// printableKey renders a composite key for logs and error context.
func printableKey(key string) string {
	key = strings.Replace(key, TreePath, "<tree>", 1)
	return strings.ReplaceAll(key, keySeparator, "/")
}
