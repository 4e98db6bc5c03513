package vault

import (
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
)

// AuthMethod identifies how a token was obtained.
type AuthMethod string

const (
	// AuthOAuth is a token obtained through an OAuth flow.
	AuthOAuth AuthMethod = "oauth"
	// AuthPAT is a personal access token supplied by the user.
	AuthPAT AuthMethod = "pat"
)

// Methods lists every supported AuthMethod in order of preference.
var Methods = []AuthMethod{AuthOAuth, AuthPAT}

// Valid reports whether m is a supported method.
func (m AuthMethod) Valid() bool {
	return m == AuthOAuth || m == AuthPAT
}

// ParseAuthMethod converts a string into an AuthMethod.
func ParseAuthMethod(s string) (AuthMethod, error) {
	m := AuthMethod(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", invalidMethod(m)
	}
	return m, nil
}

// Entry is a stored credential. The token is only ever held encrypted.
type Entry struct {
	RepositoryID   string     `json:"repository_id"`
	AuthMethod     AuthMethod `json:"auth_method"`
	EncryptedToken []byte     `json:"encrypted_token"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// expired reports whether the entry can no longer be used at now.
func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// entryKey uniquely identifies an Entry.
type entryKey struct {
	repositoryID string
	method       AuthMethod
}

func invalidMethod(m AuthMethod) error {
	return platformerrors.WrapWithContext(
		ErrInvalidAuthMethod,
		platformerrors.CodeInvalidInput,
		"unsupported auth method",
		map[string]interface{}{"method": string(m)},
	)
}
