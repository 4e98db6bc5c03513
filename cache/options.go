package cache

import (
	"log/slog"

	"github.com/jmgilman/go/fs/core"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultMaxTotalBytes is the global ceiling used when none is configured.
	DefaultMaxTotalBytes int64 = 500 * 1024 * 1024
	// DefaultMaxRepoBytes is the per-repository ceiling used when none is configured.
	DefaultMaxRepoBytes int64 = 100 * 1024 * 1024
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	fs            core.FS
	maxTotalBytes int64
	maxRepoBytes  int64
	logger        *slog.Logger
	clock         clockwork.Clock
	registerer    prometheus.Registerer
}

func defaultOptions() *options {
	return &options{
		maxTotalBytes: DefaultMaxTotalBytes,
		maxRepoBytes:  DefaultMaxRepoBytes,
		clock:         clockwork.NewRealClock(),
	}
}

// WithFilesystem sets the filesystem holding the cache directory.
// If not provided, defaults to the local filesystem.
//
// This option is primarily useful for testing, allowing use of an in-memory
// filesystem.
//
// Example:
//
//	c, err := cache.New("/cache", cache.WithFilesystem(billy.NewMemory()))
func WithFilesystem(fsys core.FS) Option {
	return func(opts *options) {
		opts.fs = fsys
	}
}

// WithMaxTotalBytes sets the global byte ceiling across all repositories.
func WithMaxTotalBytes(n int64) Option {
	return func(opts *options) {
		opts.maxTotalBytes = n
	}
}

// WithMaxRepoBytes sets the byte ceiling of any single repository.
func WithMaxRepoBytes(n int64) Option {
	return func(opts *options) {
		opts.maxRepoBytes = n
	}
}

// WithLogger sets the structured logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithClock replaces the clock used for access and fetch timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(opts *options) {
		opts.clock = clock
	}
}

// WithRegisterer registers the cache metrics with reg.
// Without it metrics are still collected but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(opts *options) {
		opts.registerer = reg
	}
}
