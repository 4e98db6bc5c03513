package remotedocs

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/jmgilman/go/fs/core"
	"github.com/jmgilman/go/remotedocs/cache"
	"github.com/jmgilman/go/remotedocs/config"
	"github.com/jmgilman/go/remotedocs/internal/logging"
	"github.com/jmgilman/go/remotedocs/vault"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Client bundles the content cache and the credential vault built from a
// single configuration.
type Client struct {
	Cache  *cache.Cache
	Vault  *vault.Vault
	Logger *slog.Logger
}

// Option configures Open.
type Option func(*clientOptions)

type clientOptions struct {
	fs         core.FS
	box        vault.SecureBox
	logWriter  io.Writer
	logger     *slog.Logger
	registerer prometheus.Registerer
	clock      clockwork.Clock
}

// WithFilesystem sets the filesystem for the cache and the credential store.
func WithFilesystem(fsys core.FS) Option {
	return func(opts *clientOptions) {
		opts.fs = fsys
	}
}

// WithSecureBox replaces the keyring-backed SecureBox.
func WithSecureBox(box vault.SecureBox) Option {
	return func(opts *clientOptions) {
		opts.box = box
	}
}

// WithLogWriter sets where logs built from the configuration are written.
// Defaults to standard error.
func WithLogWriter(w io.Writer) Option {
	return func(opts *clientOptions) {
		opts.logWriter = w
	}
}

// WithLogger uses logger as is, ignoring the log configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *clientOptions) {
		opts.logger = logger
	}
}

// WithRegisterer registers cache metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(opts *clientOptions) {
		opts.registerer = reg
	}
}

// WithClock replaces the clock of the cache and the vault.
func WithClock(clock clockwork.Clock) Option {
	return func(opts *clientOptions) {
		opts.clock = clock
	}
}

// Open builds a Client from cfg. Unset fields of cfg are defaulted and the
// result is validated.
//
// Example:
//
//	cfg, err := config.Load(billy.NewLocal(), "/etc/remotedocs.yaml")
//	if err != nil {
//	    return err
//	}
//	client, err := remotedocs.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	coord, err := client.Coordinator(provider)
func Open(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{logWriter: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(logging.NewHandler(o.logWriter, cfg.HandlerConfig()))
	}

	cacheOpts := []cache.Option{
		cache.WithMaxTotalBytes(int64(cfg.MaxTotalBytes)),
		cache.WithMaxRepoBytes(int64(cfg.MaxRepoBytes)),
		cache.WithLogger(logger),
		cache.WithRegisterer(o.registerer),
	}
	box := o.box
	if box == nil {
		box = vault.NewKeyringBox(cfg.KeyringService)
	}
	vaultOpts := []vault.Option{
		vault.WithSecureBox(box),
		vault.WithLogger(logger),
	}
	if o.fs != nil {
		cacheOpts = append(cacheOpts, cache.WithFilesystem(o.fs))
		vaultOpts = append(vaultOpts, vault.WithFilesystem(o.fs))
	}
	if o.clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(o.clock))
		vaultOpts = append(vaultOpts, vault.WithClock(o.clock))
	}

	c, err := cache.New(cfg.CacheDir, cacheOpts...)
	if err != nil {
		return nil, err
	}

	v, err := vault.New(cfg.CredentialStore, vaultOpts...)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	return &Client{Cache: c, Vault: v, Logger: logger}, nil
}

// Coordinator returns a Coordinator reading through the client's cache and
// authenticating with the client's vault.
func (cl *Client) Coordinator(provider Provider, opts ...CoordinatorOption) (*Coordinator, error) {
	all := append([]CoordinatorOption{
		WithCredentials(cl.Vault),
		WithCoordinatorLogger(cl.Logger),
	}, opts...)
	return NewCoordinator(provider, cl.Cache, all...)
}

// Disconnect forgets a repository: its cached content and stored
// credentials are removed.
func (cl *Client) Disconnect(ctx context.Context, repositoryID string) error {
	if err := cl.Cache.Clear(ctx, repositoryID, ""); err != nil {
		return err
	}
	return cl.Vault.Delete(ctx, repositoryID, "")
}

// Close flushes the cache index.
func (cl *Client) Close() error {
	return cl.Cache.Close()
}
