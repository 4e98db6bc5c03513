package vault

import (
	platformerrors "github.com/jmgilman/go/errors"
)

// ErrEncryptionUnavailable is returned when no secure storage capability is
// available. Credentials are never stored unencrypted in its place.
var ErrEncryptionUnavailable = platformerrors.New(platformerrors.CodeUnavailable, "secure storage unavailable")

// ErrCredentialStoreCorrupted describes an unreadable store file or entry.
// It is only logged; unreadable entries are dropped.
var ErrCredentialStoreCorrupted = platformerrors.New(platformerrors.CodeInternal, "credential store corrupted")

// ErrInvalidAuthMethod is returned for an auth method other than oauth or pat.
var ErrInvalidAuthMethod = platformerrors.New(platformerrors.CodeInvalidInput, "invalid auth method")
