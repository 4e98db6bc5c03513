package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/remotedocs/internal/logging"
	"github.com/jonboulle/clockwork"
)

// Cache is a disk-backed store of file contents and tree snapshots bounded
// by a per-repository and a global byte ceiling.
//
// All methods are safe for concurrent use. A single mutex serializes every
// index mutation, including the access-time update performed by lookups,
// and blob reads happen under the same lock so a lookup never observes a
// blob that is being evicted or replaced.
type Cache struct {
	mu sync.Mutex

	storage *storage
	index   *index
	logger  *logging.Logger
	metrics *metrics
	clock   clockwork.Clock

	maxTotalBytes int64
	maxRepoBytes  int64
}

// New opens the cache rooted at dir, creating it if necessary.
//
// Persisted metadata that cannot be read is discarded and the cache starts
// empty. Entries whose blob is missing or has the wrong size are dropped,
// blobs no entry refers to are deleted, and entries breaking the configured
// ceilings are evicted least recently used first.
//
// Example:
//
//	c, err := cache.New("/home/me/.cache/remotedocs",
//	    cache.WithMaxTotalBytes(200*1024*1024))
func New(dir string, opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if dir == "" {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "cache directory is required")
	}
	if o.maxTotalBytes <= 0 || o.maxRepoBytes <= 0 {
		return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig,
			"cache ceilings must be positive (total=%d, repository=%d)", o.maxTotalBytes, o.maxRepoBytes)
	}
	if o.fs == nil {
		// The local filesystem is rooted at "/".
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to resolve cache directory")
		}
		dir = abs
		o.fs = billy.NewLocal()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to register cache metrics")
	}

	c := &Cache{
		storage:       &storage{fs: o.fs, root: dir},
		index:         newIndex(),
		logger:        logging.New(o.logger).WithComponent("cache"),
		metrics:       m,
		clock:         o.clock,
		maxTotalBytes: o.maxTotalBytes,
		maxRepoBytes:  o.maxRepoBytes,
	}

	if err := c.storage.init(); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to initialize cache directory")
	}

	c.load(context.Background())

	return c, nil
}

// load replaces the in-memory index with the persisted one and reconciles
// it with the blobs on disk.
func (c *Cache) load(ctx context.Context) {
	logger := c.logger.WithOperation(logging.OpLoadIndex)

	idx, dropped, err := loadIndex(c.storage.fs, c.storage.indexPath(), c.validEntry)
	dirty := dropped > 0
	if err != nil {
		logger.Warn(ctx, "cache index unreadable, starting with an empty cache", "error", err)
		dirty = true
	}
	if dropped > 0 {
		logger.Warn(ctx, "dropped invalid cache entries", "count", dropped)
	}
	c.index = idx

	if c.enforceCeilings(ctx) > 0 {
		dirty = true
	}

	keep := make(map[string]struct{}, len(c.index.entries))
	for _, e := range c.index.entries {
		keep[e.BlobName] = struct{}{}
	}
	orphans, err := c.storage.orphans(keep)
	if err != nil {
		logger.Warn(ctx, "failed to scan for orphaned blobs", "error", err)
	}
	for _, name := range orphans {
		if err := c.storage.remove(name); err != nil {
			logger.Warn(ctx, "failed to remove orphaned blob", "blob", name, "error", err)
		}
	}

	if dirty {
		c.persist(ctx)
	}
	c.metrics.observe(c.index)

	logger.Debug(ctx, "cache index loaded",
		"entries", len(c.index.entries),
		"total_size_bytes", c.index.totalSizeBytes,
		"orphans_removed", len(orphans))
}

// validEntry reports whether a persisted entry is consistent with itself
// and with the blob it refers to.
func (c *Cache) validEntry(e *Entry) bool {
	if e.RepositoryID == "" || e.SizeBytes < 0 {
		return false
	}
	if e.Key != Key(e.RepositoryID, e.Branch, e.Path) || e.BlobName != blobName(e.Key) {
		return false
	}
	switch e.Kind {
	case KindTree:
		if e.Path != TreePath {
			return false
		}
	case KindFile:
		if e.Path == TreePath {
			return false
		}
	default:
		return false
	}
	size, err := c.storage.size(e.BlobName)
	return err == nil && size == e.SizeBytes
}

// enforceCeilings evicts entries until every repository and the cache as a
// whole fit their ceilings. It returns the number of evicted entries.
func (c *Cache) enforceCeilings(ctx context.Context) int {
	evicted := 0
	for repo := range c.index.snapshot() {
		plan := planEviction(c.index, repo, "", 0, c.maxRepoBytes, c.maxTotalBytes)
		for _, v := range plan.victims {
			c.evict(ctx, v, "limit_reduced")
			evicted++
		}
	}
	return evicted
}

// GetFile returns the cached content of a file.
//
// A hit refreshes the entry's access time. An entry whose blob cannot be
// read back intact is removed and reported as a miss. TreePath never
// matches a file.
func (c *Cache) GetFile(ctx context.Context, repositoryID, path, branch string) ([]byte, bool) {
	return c.get(ctx, logging.OpGetFile, KindFile, Key(repositoryID, branch, path), nil)
}

// SetFile stores the content of a file, evicting least recently used
// entries as needed to respect both ceilings.
//
// On failure the returned error matches ErrCacheWriteFailed and the cache is
// left exactly as it was before the call.
func (c *Cache) SetFile(ctx context.Context, repositoryID, path, branch string, content []byte) error {
	if path == "" || path == TreePath {
		return platformerrors.WithContext(
			platformerrors.New(platformerrors.CodeInvalidInput, "invalid file path"),
			"path", path,
		)
	}
	return c.set(ctx, logging.OpSetFile, KindFile, repositoryID, branch, path, content)
}

// GetTree returns the cached tree snapshot of a branch.
//
// The returned tree is always a complete value written by a single SetTree
// call, even when another SetTree for the same branch is in progress.
func (c *Cache) GetTree(ctx context.Context, repositoryID, branch string) (*Tree, bool) {
	var tree Tree
	decode := func(data []byte) error {
		return json.Unmarshal(data, &tree)
	}

	if _, ok := c.get(ctx, logging.OpGetTree, KindTree, TreeKey(repositoryID, branch), decode); !ok {
		return nil, false
	}

	return &tree, true
}

// SetTree stores the tree snapshot of a branch with the same contract as
// SetFile.
func (c *Cache) SetTree(ctx context.Context, repositoryID, branch string, tree *Tree) error {
	if tree == nil {
		return platformerrors.New(platformerrors.CodeInvalidInput, "tree is required")
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "failed to encode tree")
	}

	return c.set(ctx, logging.OpSetTree, KindTree, repositoryID, branch, TreePath, data)
}

// Has reports whether an entry exists without touching its access time.
func (c *Cache) Has(_ context.Context, repositoryID, path, branch string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.index.get(Key(repositoryID, branch, path))
	return ok
}

// Clear removes every entry of a repository. When branch is non-empty only
// that branch is removed. Clearing something that is not cached is a no-op.
func (c *Cache) Clear(ctx context.Context, repositoryID, branch string) error {
	if repositoryID == "" {
		return platformerrors.New(platformerrors.CodeInvalidInput, "repository id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.logger.WithOperation(logging.OpClear).WithRepository(repositoryID)

	victims := c.index.sorted(func(e *Entry) bool {
		return e.RepositoryID == repositoryID && (branch == "" || e.Branch == branch)
	})
	if len(victims) == 0 {
		return nil
	}

	var freed int64
	for _, e := range victims {
		c.index.remove(e.Key)
		if err := c.storage.remove(e.BlobName); err != nil {
			logger.Warn(ctx, "failed to delete blob", "key", printableKey(e.Key), "error", err)
		}
		freed += e.SizeBytes
	}

	c.persist(ctx)
	c.metrics.observe(c.index)

	logger.Info(ctx, "cleared cache entries", "branch", branch, "entries", len(victims), "freed_bytes", freed)

	return nil
}

// Stats returns a snapshot of cache usage.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		TotalSizeBytes:         c.index.totalSizeBytes,
		EntryCount:             len(c.index.entries),
		PerRepositorySizeBytes: c.index.snapshot(),
		MaxTotalBytes:          c.maxTotalBytes,
		MaxRepoBytes:           c.maxRepoBytes,
	}
}

// Entries returns copies of all entries, least recently used first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := c.index.sorted(nil)
	out := make([]Entry, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, *e)
	}
	return out
}

// Close flushes the index to disk.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.index.save(c.storage.fs, c.storage.indexPath()); err != nil {
		c.logger.WithOperation(logging.OpSaveIndex).Error(context.Background(), "failed to flush cache index", "error", err)
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to flush cache index")
	}
	return nil
}

// get looks up key and verifies its blob. When decode is non-nil it must
// accept the blob for the lookup to count as a hit.
func (c *Cache) get(
	ctx context.Context,
	op logging.Operation,
	kind Kind,
	key string,
	decode func([]byte) error,
) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index.get(key)
	if !ok || e.Kind != kind {
		c.metrics.recordMiss(kind)
		logging.LogCacheMiss(ctx, c.logger, op, printableKey(key), "not_found")
		return nil, false
	}

	data, err := c.storage.read(e)
	if err == nil && decode != nil {
		err = decode(data)
	}
	if err != nil {
		c.logger.Warn(ctx, "discarding unreadable cache entry", "key", printableKey(key), "error", err)
		c.removeLocked(ctx, e)
		c.persist(ctx)
		c.metrics.recordMiss(kind)
		logging.LogCacheMiss(ctx, c.logger, op, printableKey(key), "unreadable")
		return nil, false
	}

	c.touch(e)
	c.persist(ctx)

	c.metrics.recordHit(kind)
	logging.LogCacheHit(ctx, c.logger, op, printableKey(key), e.SizeBytes)

	return data, true
}

func (c *Cache) set(ctx context.Context, op logging.Operation, kind Kind, repositoryID, branch, path string, data []byte) error {
	if repositoryID == "" {
		return platformerrors.New(platformerrors.CodeInvalidInput, "repository id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := Key(repositoryID, branch, path)
	size := int64(len(data))
	start := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxRepoBytes {
		c.metrics.recordWriteFailure()
		return tooLarge(key, size, c.maxRepoBytes)
	}
	if size > c.maxTotalBytes {
		c.metrics.recordWriteFailure()
		return tooLarge(key, size, c.maxTotalBytes)
	}

	plan := planEviction(c.index, repositoryID, key, size, c.maxRepoBytes, c.maxTotalBytes)

	name := blobName(key)
	if err := c.storage.write(name, data); err != nil {
		c.metrics.recordWriteFailure()
		logging.LogCacheOperation(ctx, c.logger, op, c.clock.Since(start), false, size, err)
		return writeFailed(key, err)
	}

	for _, v := range plan.victims {
		c.evict(ctx, v, "size_limit")
	}

	now := c.clock.Now()
	e := &Entry{
		Key:            key,
		RepositoryID:   repositoryID,
		Branch:         branch,
		Path:           path,
		Kind:           kind,
		SizeBytes:      size,
		FetchedAt:      now,
		LastAccessedAt: now,
		BlobName:       name,
		Checksum:       checksum(data),
	}
	if old, ok := c.index.get(key); ok {
		e.FetchedAt = latest(old.FetchedAt, now)
		e.LastAccessedAt = latest(old.LastAccessedAt, now)
	}
	c.index.put(e)

	c.persist(ctx)
	c.metrics.observe(c.index)

	logging.LogCacheOperation(ctx, c.logger, op, c.clock.Since(start), true, size, nil)

	return nil
}

// evict removes an entry to make room for another one.
func (c *Cache) evict(ctx context.Context, e *Entry, reason string) {
	c.removeLocked(ctx, e)
	c.metrics.recordEviction(e.SizeBytes)
	logging.LogEviction(ctx, c.logger.WithOperation(logging.OpEvictEntry), printableKey(e.Key), e.SizeBytes, reason)
}

// removeLocked drops an entry from the index and deletes its blob. The index
// is authoritative, so a blob that cannot be deleted is only logged.
func (c *Cache) removeLocked(ctx context.Context, e *Entry) {
	c.index.remove(e.Key)
	if err := c.storage.remove(e.BlobName); err != nil {
		c.logger.Warn(ctx, "failed to delete blob", "key", printableKey(e.Key), "error", err)
	}
	c.metrics.observe(c.index)
}

// touch records an access, never moving the timestamp backwards.
func (c *Cache) touch(e *Entry) {
	e.LastAccessedAt = latest(e.LastAccessedAt, c.clock.Now())
}

// persist saves the index. The in-memory index stays authoritative when
// the write fails; the next mutation retries it.
func (c *Cache) persist(ctx context.Context) {
	if err := c.index.save(c.storage.fs, c.storage.indexPath()); err != nil {
		c.logger.WithOperation(logging.OpSaveIndex).Warn(ctx, "failed to persist cache index", "error", err)
	}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
