package cache

import (
	"fmt"

	platformerrors "github.com/jmgilman/go/errors"
)

// ErrCacheWriteFailed is returned when an object could not be stored. The
// index is left exactly as it was before the attempt.
var ErrCacheWriteFailed = platformerrors.New(platformerrors.CodeInternal, "cache write failed")

// ErrEntryTooLarge is returned when a single object exceeds a ceiling on its
// own. It wraps ErrCacheWriteFailed.
var ErrEntryTooLarge = platformerrors.Wrap(ErrCacheWriteFailed, platformerrors.CodeInvalidInput, "entry exceeds cache size limit")

// ErrCacheIndexCorrupted describes unreadable persisted metadata. It is only
// logged; the cache starts empty instead.
var ErrCacheIndexCorrupted = platformerrors.New(platformerrors.CodeInternal, "cache index corrupted")

// writeFailed wraps an I/O failure so it matches ErrCacheWriteFailed while
// keeping the underlying cause in the chain.
func writeFailed(key string, err error) error {
	return platformerrors.WrapWithContext(
		fmt.Errorf("%w: %w", ErrCacheWriteFailed, err),
		platformerrors.CodeInternal,
		"failed to store cache entry",
		map[string]interface{}{"key": printableKey(key)},
	)
}

// tooLarge reports an object that no amount of eviction could make room for.
func tooLarge(key string, size, limit int64) error {
	return platformerrors.WrapWithContext(
		ErrEntryTooLarge,
		platformerrors.CodeInvalidInput,
		fmt.Sprintf("object of %d bytes exceeds limit of %d bytes", size, limit),
		map[string]interface{}{"key": printableKey(key)},
	)
}
