package remotedocs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/remotedocs/cache"
	"github.com/jmgilman/go/remotedocs/internal/logging"
	"github.com/jmgilman/go/remotedocs/vault"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds a single provider fetch.
const DefaultFetchTimeout = 30 * time.Second

// Credentials supplies tokens for provider calls. *vault.Vault implements it.
type Credentials interface {
	Get(ctx context.Context, repositoryID string, method vault.AuthMethod) (string, bool, error)
}

// Coordinator serves repository content from the cache and keeps it fresh
// through a Provider.
//
// Trees follow a stale-while-revalidate policy: a cached tree is returned
// immediately and a refresh is started in the background. A refresh that
// fails leaves the cached tree in place. Concurrent fetches of the same tree
// or file are collapsed into one provider call. The shared call does not
// depend on any single caller's context: a caller that gives up stops
// waiting while the others still receive the result.
type Coordinator struct {
	provider    Provider
	cache       *cache.Cache
	credentials Credentials
	logger      *logging.Logger
	timeout     time.Duration

	group singleflight.Group

	// mu orders closed against wg.Add so that no work starts after Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*coordinatorOptions)

type coordinatorOptions struct {
	credentials Credentials
	logger      *slog.Logger
	timeout     time.Duration
}

// WithCredentials sets the token source used for provider calls. Without it
// every call is made with an empty token.
func WithCredentials(creds Credentials) CoordinatorOption {
	return func(opts *coordinatorOptions) {
		opts.credentials = creds
	}
}

// WithCoordinatorLogger sets the structured logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(opts *coordinatorOptions) {
		opts.logger = logger
	}
}

// WithFetchTimeout bounds each provider fetch.
func WithFetchTimeout(d time.Duration) CoordinatorOption {
	return func(opts *coordinatorOptions) {
		opts.timeout = d
	}
}

// NewCoordinator creates a Coordinator reading through c.
func NewCoordinator(provider Provider, c *cache.Cache, opts ...CoordinatorOption) (*Coordinator, error) {
	if provider == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidInput, "provider is required")
	}
	if c == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidInput, "cache is required")
	}

	o := &coordinatorOptions{timeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if o.timeout <= 0 {
		o.timeout = DefaultFetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		provider:    provider,
		cache:       c,
		credentials: o.credentials,
		logger:      logging.New(o.logger).WithComponent("coordinator"),
		timeout:     o.timeout,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Tree returns the tree of a branch.
//
// When a tree is cached it is returned at once with stale set to true and a
// background refresh is scheduled. Otherwise the tree is fetched, cached and
// returned with stale set to false.
func (c *Coordinator) Tree(ctx context.Context, repositoryID, branch string) (*cache.Tree, bool, error) {
	if tree, ok := c.cache.GetTree(ctx, repositoryID, branch); ok {
		c.refreshInBackground(repositoryID, branch)
		return tree, true, nil
	}

	tree, err := c.fetchTree(ctx, repositoryID, branch)
	if err != nil {
		return nil, false, err
	}
	return tree, false, nil
}

// File returns the content of a file, fetching and caching it on a miss.
// Content that cannot be cached is still returned.
func (c *Coordinator) File(ctx context.Context, repositoryID, path, branch string) ([]byte, error) {
	if data, ok := c.cache.GetFile(ctx, repositoryID, path, branch); ok {
		return data, nil
	}

	key := "file" + "\x00" + cache.Key(repositoryID, branch, path)
	v, err := c.do(ctx, key, func(ctx context.Context) (interface{}, error) {
		logger := c.logger.WithOperation(logging.OpFetchFile).WithRepository(repositoryID)

		token := c.token(ctx, repositoryID)
		data, err := c.provider.FetchFile(ctx, repositoryID, path, branch, token)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s@%s:%s: %w", repositoryID, branch, path, err)
		}

		if err := c.cache.SetFile(ctx, repositoryID, path, branch, data); err != nil {
			logger.Warn(ctx, "fetched file not cached", "path", path, "branch", branch, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// Wait blocks until all background refreshes and in-flight fetches have
// finished. It must not be called concurrently with Tree or File; use Close
// for that.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight fetches and waits for them to return. After Close
// cached trees are still served but nothing is fetched.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// acquire registers a unit of work with wg. It reports false once the
// coordinator is closed.
func (c *Coordinator) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Coordinator) refreshInBackground(repositoryID, branch string) {
	if !c.acquire() {
		return
	}

	go func() {
		defer c.wg.Done()

		if _, err := c.fetchTree(c.ctx, repositoryID, branch); err != nil {
			c.logger.WithOperation(logging.OpRefreshTree).WithRepository(repositoryID).
				Warn(c.ctx, "background refresh failed, keeping cached tree", "branch", branch, "error", err)
		}
	}()
}

// fetchTree fetches a tree and stores it. Concurrent calls for the same
// branch share a single provider call.
func (c *Coordinator) fetchTree(ctx context.Context, repositoryID, branch string) (*cache.Tree, error) {
	key := "tree" + "\x00" + cache.TreeKey(repositoryID, branch)
	v, err := c.do(ctx, key, func(ctx context.Context) (interface{}, error) {
		logger := c.logger.WithOperation(logging.OpRefreshTree).WithRepository(repositoryID)

		token := c.token(ctx, repositoryID)
		tree, err := c.provider.FetchTree(ctx, repositoryID, branch, token)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tree %s@%s: %w", repositoryID, branch, err)
		}
		if tree == nil {
			return nil, platformerrors.Newf(platformerrors.CodeNotFound, "provider returned no tree for %s@%s", repositoryID, branch)
		}

		if err := c.cache.SetTree(ctx, repositoryID, branch, tree); err != nil {
			logger.Warn(ctx, "fetched tree not cached", "branch", branch, "error", err)
		}

		logger.Debug(ctx, "tree refreshed", "branch", branch, "entries", len(tree.Entries))
		return tree, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*cache.Tree), nil
}

// do runs fn once per key across concurrent callers. fn receives a context
// that keeps the values of the first caller's ctx but is cancelled only by
// Close or the fetch timeout. Each caller stops waiting when its own ctx is
// done.
func (c *Coordinator) do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if !c.acquire() {
			return nil, platformerrors.New(platformerrors.CodeUnavailable, "coordinator is closed")
		}
		defer c.wg.Done()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		return fn(fctx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// token returns the preferred stored token for a repository, or an empty
// string when none is usable. Unavailable secure storage degrades to
// anonymous access.
func (c *Coordinator) token(ctx context.Context, repositoryID string) string {
	if c.credentials == nil {
		return ""
	}

	for _, method := range vault.Methods {
		token, ok, err := c.credentials.Get(ctx, repositoryID, method)
		if err != nil {
			if errors.Is(err, vault.ErrEncryptionUnavailable) {
				c.logger.Warn(ctx, "secure storage unavailable, fetching anonymously", "repository", repositoryID)
				return ""
			}
			c.logger.Warn(ctx, "failed to read credential", "repository", repositoryID, "method", string(method), "error", err)
			continue
		}
		if ok {
			return token
		}
	}

	return ""
}
