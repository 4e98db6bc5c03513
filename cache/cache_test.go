package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDir = "/cache"

// flakyFS fails blob or index creation on demand.
type flakyFS struct {
	core.FS
	failBlobs bool
	failIndex bool
}

func (f *flakyFS) OpenFile(name string, flag int, perm fs.FileMode) (core.File, error) {
	if f.failBlobs && strings.Contains(name, "/"+blobsDir+"/") {
		return nil, errors.New("no space left on device")
	}
	if f.failIndex && strings.Contains(name, indexFileName) {
		return nil, errors.New("no space left on device")
	}
	return f.FS.OpenFile(name, flag, perm)
}

func newTestCache(t *testing.T, fsys core.FS, clock clockwork.Clock, opts ...Option) *Cache {
	t.Helper()

	all := append([]Option{WithFilesystem(fsys), WithClock(clock)}, opts...)
	c, err := New(testDir, all...)
	require.NoError(t, err)
	return c
}

func newClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("x"), n)
}

// requireConsistent checks the accounting invariants against the entries.
func requireConsistent(t *testing.T, c *Cache) {
	t.Helper()

	stats := c.Stats()
	var total int64
	perRepo := make(map[string]int64)
	for _, e := range c.Entries() {
		total += e.SizeBytes
		perRepo[e.RepositoryID] += e.SizeBytes
	}

	require.Equal(t, total, stats.TotalSizeBytes)
	require.Equal(t, perRepo, stats.PerRepositorySizeBytes)
	require.LessOrEqual(t, stats.TotalSizeBytes, stats.MaxTotalBytes)
	for repo, size := range stats.PerRepositorySizeBytes {
		require.LessOrEqual(t, size, stats.MaxRepoBytes, "repository %s over ceiling", repo)
	}
}

func TestNew(t *testing.T) {
	t.Run("creates layout", func(t *testing.T) {
		fsys := billy.NewMemory()
		c := newTestCache(t, fsys, newClock())

		exists, err := fsys.Exists(filepath.Join(testDir, blobsDir))
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, DefaultMaxTotalBytes, c.Stats().MaxTotalBytes)
		assert.Equal(t, DefaultMaxRepoBytes, c.Stats().MaxRepoBytes)
	})

	t.Run("relative directory resolves against working directory", func(t *testing.T) {
		wd := t.TempDir()
		t.Chdir(wd)

		c, err := New("docs-cache")
		require.NoError(t, err)
		require.NoError(t, c.SetFile(context.Background(), "repoA", "a.md", "main", []byte("a")))

		_, err = os.Stat(filepath.Join(wd, "docs-cache", indexFileName))
		assert.NoError(t, err)
	})

	t.Run("rejects invalid configuration", func(t *testing.T) {
		_, err := New("", WithFilesystem(billy.NewMemory()))
		require.Error(t, err)
		assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))

		_, err = New(testDir, WithFilesystem(billy.NewMemory()), WithMaxRepoBytes(0))
		require.Error(t, err)
		assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))
	})
}

func TestCache_File(t *testing.T) {
	ctx := context.Background()

	t.Run("miss on empty cache", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock())

		data, ok := c.GetFile(ctx, "repoA", "README.md", "main")
		assert.False(t, ok)
		assert.Nil(t, data)
	})

	t.Run("returns exact bytes written", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock())
		content := []byte("# Title\n\nBody text.\n")

		require.NoError(t, c.SetFile(ctx, "repoA", "docs/intro.md", "main", content))

		data, ok := c.GetFile(ctx, "repoA", "docs/intro.md", "main")
		require.True(t, ok)
		assert.Equal(t, content, data)

		_, ok = c.GetFile(ctx, "repoA", "docs/intro.md", "develop")
		assert.False(t, ok, "branches are cached independently")

		stats := c.Stats()
		assert.Equal(t, int64(len(content)), stats.TotalSizeBytes)
		assert.Equal(t, 1, stats.EntryCount)
		requireConsistent(t, c)
	})

	t.Run("empty content is cached", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock())

		require.NoError(t, c.SetFile(ctx, "repoA", "empty.md", "main", nil))

		data, ok := c.GetFile(ctx, "repoA", "empty.md", "main")
		require.True(t, ok)
		assert.Empty(t, data)
	})

	t.Run("rejects reserved and empty paths", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock())

		err := c.SetFile(ctx, "repoA", TreePath, "main", []byte("x"))
		assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))

		err = c.SetFile(ctx, "repoA", "", "main", []byte("x"))
		assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))

		err = c.SetFile(ctx, "", "a.md", "main", []byte("x"))
		assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))
	})

	t.Run("tree snapshot is not readable as a file", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		c := newTestCache(t, billy.NewMemory(), newClock(), WithRegisterer(reg))
		require.NoError(t, c.SetTree(ctx, "repoA", "main", &Tree{RepositoryID: "repoA", Branch: "main"}))

		data, ok := c.GetFile(ctx, "repoA", TreePath, "main")
		assert.False(t, ok)
		assert.Nil(t, data)
		assert.Equal(t, 0.0, testutil.ToFloat64(c.metrics.hits.WithLabelValues(string(KindFile))))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses.WithLabelValues(string(KindFile))))

		_, ok = c.GetTree(ctx, "repoA", "main")
		assert.True(t, ok, "the tree itself is untouched")
	})

	t.Run("cancelled context stores nothing", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock())
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := c.SetFile(cctx, "repoA", "a.md", "main", []byte("x"))
		require.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, c.Stats().EntryCount)
	})

	t.Run("has does not refresh access time", func(t *testing.T) {
		clock := newClock()
		c := newTestCache(t, billy.NewMemory(), clock)

		require.NoError(t, c.SetFile(ctx, "repoA", "a.md", "main", []byte("a")))
		before := c.Entries()[0].LastAccessedAt

		clock.Advance(time.Minute)
		assert.True(t, c.Has(ctx, "repoA", "a.md", "main"))
		assert.False(t, c.Has(ctx, "repoA", "b.md", "main"))
		assert.Equal(t, before, c.Entries()[0].LastAccessedAt)

		_, ok := c.GetFile(ctx, "repoA", "a.md", "main")
		require.True(t, ok)
		assert.Equal(t, before.Add(time.Minute), c.Entries()[0].LastAccessedAt)
	})
}

func TestCache_Eviction(t *testing.T) {
	ctx := context.Background()

	t.Run("repository ceiling evicts older entry", func(t *testing.T) {
		clock := newClock()
		c := newTestCache(t, billy.NewMemory(), clock, WithMaxRepoBytes(100), WithMaxTotalBytes(1000))

		require.NoError(t, c.SetFile(ctx, "repo", "first.md", "main", payload(60)))
		clock.Advance(time.Second)
		require.NoError(t, c.SetFile(ctx, "repo", "second.md", "main", payload(60)))

		assert.False(t, c.Has(ctx, "repo", "first.md", "main"))
		assert.True(t, c.Has(ctx, "repo", "second.md", "main"))
		assert.Equal(t, int64(60), c.Stats().PerRepositorySizeBytes["repo"])
		requireConsistent(t, c)
	})

	t.Run("repository ceiling only evicts within the repository", func(t *testing.T) {
		clock := newClock()
		c := newTestCache(t, billy.NewMemory(), clock, WithMaxRepoBytes(100), WithMaxTotalBytes(1000))

		require.NoError(t, c.SetFile(ctx, "other", "old.md", "main", payload(50)))
		clock.Advance(time.Second)
		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(60)))
		clock.Advance(time.Second)
		require.NoError(t, c.SetFile(ctx, "repo", "b.md", "main", payload(60)))

		assert.True(t, c.Has(ctx, "other", "old.md", "main"))
		assert.False(t, c.Has(ctx, "repo", "a.md", "main"))
		requireConsistent(t, c)
	})

	t.Run("global ceiling evicts least recently used across repositories", func(t *testing.T) {
		clock := newClock()
		c := newTestCache(t, billy.NewMemory(), clock, WithMaxRepoBytes(100), WithMaxTotalBytes(150))

		for _, repo := range []string{"repoA", "repoB", "repoC"} {
			require.NoError(t, c.SetFile(ctx, repo, "index.md", "main", payload(60)))
			clock.Advance(time.Second)
		}

		assert.False(t, c.Has(ctx, "repoA", "index.md", "main"))
		assert.True(t, c.Has(ctx, "repoB", "index.md", "main"))
		assert.True(t, c.Has(ctx, "repoC", "index.md", "main"))
		assert.Equal(t, 2, c.Stats().EntryCount)
		assert.LessOrEqual(t, c.Stats().TotalSizeBytes, int64(150))
		requireConsistent(t, c)
	})

	t.Run("get changes eviction order", func(t *testing.T) {
		clock := newClock()
		c := newTestCache(t, billy.NewMemory(), clock, WithMaxRepoBytes(100), WithMaxTotalBytes(1000))

		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(40)))
		clock.Advance(time.Second)
		require.NoError(t, c.SetFile(ctx, "repo", "b.md", "main", payload(40)))
		clock.Advance(time.Second)

		_, ok := c.GetFile(ctx, "repo", "a.md", "main")
		require.True(t, ok)
		clock.Advance(time.Second)

		require.NoError(t, c.SetFile(ctx, "repo", "c.md", "main", payload(40)))

		assert.True(t, c.Has(ctx, "repo", "a.md", "main"))
		assert.False(t, c.Has(ctx, "repo", "b.md", "main"))
		assert.True(t, c.Has(ctx, "repo", "c.md", "main"))
	})

	t.Run("frees no more than needed", func(t *testing.T) {
		clock := newClock()
		c := newTestCache(t, billy.NewMemory(), clock, WithMaxRepoBytes(100), WithMaxTotalBytes(1000))

		for i := range 5 {
			require.NoError(t, c.SetFile(ctx, "repo", fmt.Sprintf("f%d.md", i), "main", payload(20)))
			clock.Advance(time.Second)
		}
		require.NoError(t, c.SetFile(ctx, "repo", "new.md", "main", payload(30)))

		// 100 used + 30 needed - 100 allowed = 30 short, so two 20 byte entries go.
		assert.False(t, c.Has(ctx, "repo", "f0.md", "main"))
		assert.False(t, c.Has(ctx, "repo", "f1.md", "main"))
		assert.True(t, c.Has(ctx, "repo", "f2.md", "main"))
		assert.Equal(t, int64(90), c.Stats().PerRepositorySizeBytes["repo"])
	})

	t.Run("ties are broken by key", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock(), WithMaxRepoBytes(100), WithMaxTotalBytes(1000))

		require.NoError(t, c.SetFile(ctx, "repo", "b.md", "main", payload(50)))
		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(50)))
		require.NoError(t, c.SetFile(ctx, "repo", "c.md", "main", payload(50)))

		assert.False(t, c.Has(ctx, "repo", "a.md", "main"))
		assert.True(t, c.Has(ctx, "repo", "b.md", "main"))
	})

	t.Run("overwrite is accounted by delta and never evicts itself", func(t *testing.T) {
		clock := newClock()
		c := newTestCache(t, billy.NewMemory(), clock, WithMaxRepoBytes(100), WithMaxTotalBytes(1000))

		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(60)))
		clock.Advance(time.Second)
		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(90)))

		data, ok := c.GetFile(ctx, "repo", "a.md", "main")
		require.True(t, ok)
		assert.Len(t, data, 90)
		assert.Equal(t, int64(90), c.Stats().TotalSizeBytes)
		assert.Equal(t, 1, c.Stats().EntryCount)
		requireConsistent(t, c)
	})

	t.Run("oversized object is rejected without evicting", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock(), WithMaxRepoBytes(100), WithMaxTotalBytes(150))

		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(50)))

		err := c.SetFile(ctx, "repo", "huge.md", "main", payload(101))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEntryTooLarge)
		assert.ErrorIs(t, err, ErrCacheWriteFailed)
		assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))

		assert.True(t, c.Has(ctx, "repo", "a.md", "main"))
		assert.Equal(t, int64(50), c.Stats().TotalSizeBytes)
	})
}

func TestCache_Close(t *testing.T) {
	ctx := context.Background()
	fsys := &flakyFS{FS: billy.NewMemory()}
	var logs bytes.Buffer
	c := newTestCache(t, fsys, newClock(), WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(10)))

	require.NoError(t, c.Close())

	fsys.failIndex = true
	err := c.Close()
	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeInternal, platformerrors.GetCode(err))
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
	assert.Contains(t, logs.String(), "failed to flush cache index")
}

func TestCache_WriteFailure(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	fsys := &flakyFS{FS: billy.NewMemory()}
	c := newTestCache(t, fsys, clock, WithMaxRepoBytes(100), WithMaxTotalBytes(1000))

	require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(60)))
	clock.Advance(time.Second)
	before := c.Stats()

	fsys.failBlobs = true
	err := c.SetFile(ctx, "repo", "b.md", "main", payload(60))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheWriteFailed)
	assert.Equal(t, platformerrors.CodeInternal, platformerrors.GetCode(err))

	assert.Equal(t, before, c.Stats())
	assert.True(t, c.Has(ctx, "repo", "a.md", "main"), "planned victims survive a failed write")
	assert.False(t, c.Has(ctx, "repo", "b.md", "main"))

	fsys.failBlobs = false
	data, ok := c.GetFile(ctx, "repo", "a.md", "main")
	require.True(t, ok)
	assert.Len(t, data, 60)
	requireConsistent(t, c)
}

func TestCache_SelfHeal(t *testing.T) {
	ctx := context.Background()

	t.Run("missing blob is a miss and drops the entry", func(t *testing.T) {
		fsys := billy.NewMemory()
		c := newTestCache(t, fsys, newClock())

		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", []byte("hello")))
		require.NoError(t, fsys.Remove(filepath.Join(testDir, blobName(Key("repo", "main", "a.md")))))

		_, ok := c.GetFile(ctx, "repo", "a.md", "main")
		assert.False(t, ok)
		assert.Zero(t, c.Stats().EntryCount)
		assert.Zero(t, c.Stats().TotalSizeBytes)
	})

	t.Run("tampered blob is a miss", func(t *testing.T) {
		fsys := billy.NewMemory()
		c := newTestCache(t, fsys, newClock())

		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", []byte("hello")))
		blob := filepath.Join(testDir, blobName(Key("repo", "main", "a.md")))
		require.NoError(t, fsys.WriteFile(blob, []byte("jello"), 0o600))

		_, ok := c.GetFile(ctx, "repo", "a.md", "main")
		assert.False(t, ok)
		assert.False(t, c.Has(ctx, "repo", "a.md", "main"))
	})

	t.Run("undecodable tree is a miss", func(t *testing.T) {
		fsys := billy.NewMemory()
		c := newTestCache(t, fsys, newClock())

		require.NoError(t, c.SetTree(ctx, "repo", "main", &Tree{RepositoryID: "repo", Branch: "main"}))

		// Corrupt the blob and the recorded checksum consistently so only decoding fails.
		key := TreeKey("repo", "main")
		garbage := []byte("{not json")
		require.NoError(t, fsys.WriteFile(filepath.Join(testDir, blobName(key)), garbage, 0o600))
		c.mu.Lock()
		e, _ := c.index.get(key)
		c.index.put(&Entry{
			Key: e.Key, RepositoryID: e.RepositoryID, Branch: e.Branch, Path: e.Path, Kind: e.Kind,
			SizeBytes: int64(len(garbage)), BlobName: e.BlobName, Checksum: checksum(garbage),
		})
		c.mu.Unlock()

		_, ok := c.GetTree(ctx, "repo", "main")
		assert.False(t, ok)
		assert.Zero(t, c.Stats().EntryCount)
	})
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	fsys := billy.NewMemory()
	c := newTestCache(t, fsys, newClock())

	require.NoError(t, c.SetFile(ctx, "repoA", "a.md", "main", []byte("aaa")))
	require.NoError(t, c.SetFile(ctx, "repoA", "a.md", "dev", []byte("aa")))
	require.NoError(t, c.SetTree(ctx, "repoA", "main", &Tree{RepositoryID: "repoA", Branch: "main"}))
	require.NoError(t, c.SetFile(ctx, "repoB", "b.md", "main", []byte("b")))

	t.Run("clears a single branch", func(t *testing.T) {
		require.NoError(t, c.Clear(ctx, "repoA", "dev"))

		assert.False(t, c.Has(ctx, "repoA", "a.md", "dev"))
		assert.True(t, c.Has(ctx, "repoA", "a.md", "main"))
		requireConsistent(t, c)
	})

	t.Run("clears a whole repository", func(t *testing.T) {
		require.NoError(t, c.Clear(ctx, "repoA", ""))

		_, ok := c.GetTree(ctx, "repoA", "main")
		assert.False(t, ok)
		assert.NotContains(t, c.Stats().PerRepositorySizeBytes, "repoA")
		assert.True(t, c.Has(ctx, "repoB", "b.md", "main"))

		exists, err := fsys.Exists(filepath.Join(testDir, blobName(Key("repoA", "main", "a.md"))))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("is idempotent", func(t *testing.T) {
		before := c.Stats()
		require.NoError(t, c.Clear(ctx, "repoA", ""))
		require.NoError(t, c.Clear(ctx, "unknown", ""))
		assert.Equal(t, before, c.Stats())
	})

	t.Run("requires a repository", func(t *testing.T) {
		err := c.Clear(ctx, "", "")
		assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))
	})
}

func TestCache_Tree(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock())
		tree := &Tree{
			RepositoryID: "repo",
			Branch:       "main",
			Revision:     "abc123",
			Entries: []TreeEntry{
				{Path: "docs", Type: "tree"},
				{Path: "docs/index.md", Type: "blob", Size: 42, SHA: "d1"},
			},
		}

		require.NoError(t, c.SetTree(ctx, "repo", "main", tree))

		got, ok := c.GetTree(ctx, "repo", "main")
		require.True(t, ok)
		assert.Equal(t, tree, got)

		// A file can never shadow the tree snapshot.
		assert.False(t, c.Has(ctx, "repo", "tree", "main"))
		assert.True(t, c.Has(ctx, "repo", TreePath, "main"))
	})

	t.Run("nil tree is rejected", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), newClock())
		err := c.SetTree(ctx, "repo", "main", nil)
		assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))
	})

	t.Run("concurrent get and set never observe a torn tree", func(t *testing.T) {
		c := newTestCache(t, billy.NewMemory(), clockwork.NewRealClock())

		makeTree := func(rev string, n int) *Tree {
			tree := &Tree{RepositoryID: "repo", Branch: "main", Revision: rev}
			for i := range n {
				tree.Entries = append(tree.Entries, TreeEntry{Path: fmt.Sprintf("%s/%d.md", rev, i), Type: "blob"})
			}
			return tree
		}
		v1 := makeTree("v1", 3)
		v2 := makeTree("v2", 200)
		require.NoError(t, c.SetTree(ctx, "repo", "main", v1))

		var wg sync.WaitGroup
		errs := make(chan error, 64)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				tree := v1
				if i%2 == 0 {
					tree = v2
				}
				if err := c.SetTree(ctx, "repo", "main", tree); err != nil {
					errs <- err
					return
				}
			}
		}()

		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					got, ok := c.GetTree(ctx, "repo", "main")
					if !ok {
						errs <- errors.New("tree missing")
						return
					}
					want := v1
					if got.Revision == "v2" {
						want = v2
					}
					if len(got.Entries) != len(want.Entries) || got.Entries[0] != want.Entries[0] {
						errs <- fmt.Errorf("torn tree: revision %s with %d entries", got.Revision, len(got.Entries))
						return
					}
				}
			}()
		}

		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
		requireConsistent(t, c)
	})
}

func TestCache_Persistence(t *testing.T) {
	ctx := context.Background()

	t.Run("reopen restores entries and totals", func(t *testing.T) {
		fsys := billy.NewMemory()
		clock := newClock()
		c := newTestCache(t, fsys, clock)

		require.NoError(t, c.SetFile(ctx, "repoA", "a.md", "main", []byte("alpha")))
		require.NoError(t, c.SetTree(ctx, "repoA", "main", &Tree{RepositoryID: "repoA", Branch: "main"}))
		require.NoError(t, c.SetFile(ctx, "repoB", "b.md", "main", []byte("beta")))
		require.NoError(t, c.Close())
		before := c.Stats()

		reopened := newTestCache(t, fsys, clock)
		assert.Equal(t, before, reopened.Stats())

		data, ok := reopened.GetFile(ctx, "repoA", "a.md", "main")
		require.True(t, ok)
		assert.Equal(t, "alpha", string(data))
		requireConsistent(t, reopened)
	})

	t.Run("corrupt index starts empty and removes orphans", func(t *testing.T) {
		fsys := billy.NewMemory()
		c := newTestCache(t, fsys, newClock())
		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", []byte("alpha")))

		require.NoError(t, fsys.WriteFile(filepath.Join(testDir, indexFileName), []byte("{truncated"), 0o600))

		reopened := newTestCache(t, fsys, newClock())
		assert.Zero(t, reopened.Stats().EntryCount)
		assert.Zero(t, reopened.Stats().TotalSizeBytes)

		entries, err := fsys.ReadDir(filepath.Join(testDir, blobsDir))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("unknown version starts empty", func(t *testing.T) {
		fsys := billy.NewMemory()
		require.NoError(t, fsys.MkdirAll(testDir, 0o700))
		require.NoError(t, fsys.WriteFile(filepath.Join(testDir, indexFileName), []byte(`{"version":99,"entries":[]}`), 0o600))

		c := newTestCache(t, fsys, newClock())
		assert.Zero(t, c.Stats().EntryCount)
	})

	t.Run("persisted totals are recomputed", func(t *testing.T) {
		fsys := billy.NewMemory()
		c := newTestCache(t, fsys, newClock())
		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", []byte("alpha")))

		indexPath := filepath.Join(testDir, indexFileName)
		data, err := fsys.ReadFile(indexPath)
		require.NoError(t, err)
		data = bytes.Replace(data, []byte(`"total_size_bytes": 5`), []byte(`"total_size_bytes": 9999`), 1)
		require.NoError(t, fsys.WriteFile(indexPath, data, 0o600))

		reopened := newTestCache(t, fsys, newClock())
		assert.Equal(t, int64(5), reopened.Stats().TotalSizeBytes)
	})

	t.Run("entries without blob are dropped", func(t *testing.T) {
		fsys := billy.NewMemory()
		c := newTestCache(t, fsys, newClock())
		require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", []byte("alpha")))
		require.NoError(t, c.SetFile(ctx, "repo", "b.md", "main", []byte("beta")))
		require.NoError(t, fsys.Remove(filepath.Join(testDir, blobName(Key("repo", "main", "a.md")))))

		reopened := newTestCache(t, fsys, newClock())
		assert.False(t, reopened.Has(ctx, "repo", "a.md", "main"))
		assert.True(t, reopened.Has(ctx, "repo", "b.md", "main"))
		assert.Equal(t, int64(4), reopened.Stats().TotalSizeBytes)
	})

	t.Run("reduced ceilings evict least recently used on open", func(t *testing.T) {
		fsys := billy.NewMemory()
		clock := newClock()
		c := newTestCache(t, fsys, clock)
		for i := range 4 {
			require.NoError(t, c.SetFile(ctx, "repo", fmt.Sprintf("f%d.md", i), "main", payload(30)))
			clock.Advance(time.Second)
		}

		reopened := newTestCache(t, fsys, clock, WithMaxRepoBytes(70), WithMaxTotalBytes(1000))
		assert.Equal(t, int64(60), reopened.Stats().TotalSizeBytes)
		assert.False(t, reopened.Has(ctx, "repo", "f0.md", "main"))
		assert.False(t, reopened.Has(ctx, "repo", "f1.md", "main"))
		assert.True(t, reopened.Has(ctx, "repo", "f3.md", "main"))
		requireConsistent(t, reopened)
	})

	t.Run("leftover temporary files are removed", func(t *testing.T) {
		fsys := billy.NewMemory()
		require.NoError(t, fsys.MkdirAll(filepath.Join(testDir, blobsDir), 0o700))
		leftover := filepath.Join(testDir, blobsDir, ".abc.1234.partial")
		require.NoError(t, fsys.WriteFile(leftover, []byte("half"), 0o600))

		newTestCache(t, fsys, newClock())

		exists, err := fsys.Exists(leftover)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestCache_Invariants(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := newTestCache(t, billy.NewMemory(), clock, WithMaxRepoBytes(120), WithMaxTotalBytes(300))

	rng := rand.New(rand.NewSource(42))
	repos := []string{"r1", "r2", "r3", "r4"}

	for i := range 500 {
		repo := repos[rng.Intn(len(repos))]
		path := fmt.Sprintf("f%d.md", rng.Intn(8))
		clock.Advance(time.Duration(rng.Intn(3)) * time.Second)

		switch op := rng.Intn(10); {
		case op < 6:
			require.NoError(t, c.SetFile(ctx, repo, path, "main", payload(rng.Intn(90))), "op %d", i)
		case op < 8:
			tree := &Tree{RepositoryID: repo, Branch: "main", Revision: fmt.Sprint(i)}
			require.NoError(t, c.SetTree(ctx, repo, "main", tree), "op %d", i)
		case op < 9:
			c.GetFile(ctx, repo, path, "main")
		default:
			require.NoError(t, c.Clear(ctx, repo, ""))
		}

		requireConsistent(t, c)
	}
}

func TestCache_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	clock := newClock()
	c := newTestCache(t, billy.NewMemory(), clock,
		WithRegisterer(reg), WithMaxRepoBytes(100), WithMaxTotalBytes(1000))

	require.NoError(t, c.SetFile(ctx, "repo", "a.md", "main", payload(60)))
	clock.Advance(time.Second)
	c.GetFile(ctx, "repo", "a.md", "main")
	c.GetFile(ctx, "repo", "missing.md", "main")
	c.GetTree(ctx, "repo", "main")
	require.NoError(t, c.SetFile(ctx, "repo", "b.md", "main", payload(60)))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.hits.WithLabelValues(string(KindFile))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses.WithLabelValues(string(KindFile))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses.WithLabelValues(string(KindTree))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.evictions))
	assert.Equal(t, 60.0, testutil.ToFloat64(c.metrics.evictedBytes))
	assert.Equal(t, 60.0, testutil.ToFloat64(c.metrics.bytesStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.entries))

	_, err := New(testDir, WithFilesystem(billy.NewMemory()), WithRegisterer(reg))
	assert.Error(t, err, "registering twice fails")
}
