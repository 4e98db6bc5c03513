// Package cache provides a bounded, disk-backed cache of remote repository
// content.
//
// # Overview
//
// The cache stores two kinds of objects, each tagged by repository, branch
// and path:
//
//  1. File contents: the raw bytes of a single document
//  2. Tree snapshots: the directory listing of one branch, stored as JSON
//
// Two byte ceilings are enforced every time an object is stored: one per
// repository and one across the whole cache. When storing an object would
// break either ceiling, the least recently accessed entries are evicted
// until it fits, first within the object's repository and then globally.
//
// # Layout
//
//	~/.cache/remotedocs/
//	├── index.json     # Entries and size accounting
//	└── blobs/         # One file per entry, named by a hash of its key
//	    └── 3f0c...e1
//
// Blobs and the index are written to a temporary file and renamed into
// place, so an interrupted write never leaves a partial object visible. The
// index is rewritten after every mutation. An unreadable index at startup
// results in an empty cache.
//
// # Usage
//
//	c, err := cache.New("~/.cache/remotedocs",
//	    cache.WithMaxTotalBytes(500*1024*1024),
//	    cache.WithMaxRepoBytes(100*1024*1024))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if err := c.SetFile(ctx, "github.com/org/docs", "README.md", "main", content); err != nil {
//	    // Not cached; continue with the fetched content.
//	}
//
//	data, ok := c.GetFile(ctx, "github.com/org/docs", "README.md", "main")
//
// # Trees
//
// GetTree never blocks on the network; callers serve the returned snapshot
// immediately and refresh it separately with SetTree. A GetTree running
// concurrently with a SetTree for the same branch returns either the old or
// the new snapshot in full.
package cache
