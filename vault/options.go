package vault

import (
	"log/slog"

	"github.com/jmgilman/go/fs/core"
	"github.com/jonboulle/clockwork"
)

// Option configures a Vault.
type Option func(*options)

type options struct {
	fs     core.FS
	box    SecureBox
	logger *slog.Logger
	clock  clockwork.Clock
}

// WithFilesystem sets the filesystem holding the store file.
// If not provided, defaults to the local filesystem.
func WithFilesystem(fsys core.FS) Option {
	return func(opts *options) {
		opts.fs = fsys
	}
}

// WithSecureBox sets the encryption capability.
// If not provided, a KeyringBox using DefaultKeyringService is used.
func WithSecureBox(box SecureBox) Option {
	return func(opts *options) {
		opts.box = box
	}
}

// WithLogger sets the structured logger. Logging is disabled by default.
// Tokens are never logged.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithClock replaces the clock used for expiry checks.
func WithClock(clock clockwork.Clock) Option {
	return func(opts *options) {
		opts.clock = clock
	}
}
