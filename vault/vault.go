// Package vault stores access tokens for remote repositories encrypted at
// rest.
//
// A Vault holds at most one token per repository and auth method. Tokens are
// sealed through a SecureBox before they reach disk, and an optional expiry
// is enforced on every read: an expired token is deleted and reported as
// absent.
//
//	v, err := vault.New("/home/me/.config/remotedocs/credentials.json")
//	if err != nil {
//	    return err
//	}
//
//	if err := v.Save(ctx, "github.com/org/docs", vault.AuthOAuth, token, &expiry); err != nil {
//	    // errors.Is(err, vault.ErrEncryptionUnavailable): ask again next session.
//	}
//
//	token, ok, err := v.Get(ctx, "github.com/org/docs", vault.AuthOAuth)
package vault

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/jmgilman/go/remotedocs/internal/logging"
	"github.com/jonboulle/clockwork"
)

// Vault is a persistent, encrypted credential store. It is safe for
// concurrent use.
type Vault struct {
	mu sync.Mutex

	fs      core.FS
	path    string
	box     SecureBox
	clock   clockwork.Clock
	logger  *logging.Logger
	entries map[entryKey]*Entry
}

// New opens the credential store at path. A missing store is created on the
// first Save. An unreadable store is treated as empty and malformed records
// are dropped individually.
func New(path string, opts ...Option) (*Vault, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if path == "" {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "credential store path is required")
	}
	if o.fs == nil {
		// The local filesystem is rooted at "/".
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to resolve credential store path")
		}
		path = abs
		o.fs = billy.NewLocal()
	}
	if o.box == nil {
		o.box = NewKeyringBox(DefaultKeyringService)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	v := &Vault{
		fs:     o.fs,
		path:   path,
		box:    o.box,
		clock:  o.clock,
		logger: logging.New(o.logger).WithComponent("vault"),
	}

	v.load(context.Background())

	return v, nil
}

func (v *Vault) load(ctx context.Context) {
	logger := v.logger.WithOperation(logging.OpLoadStore)

	entries, dropped, err := loadStore(v.fs, v.path)
	if err != nil {
		logger.Warn(ctx, "credential store unreadable, starting empty", "error", err)
	}
	v.entries = entries

	if dropped > 0 {
		logger.Warn(ctx, "dropped malformed credential records",
			"count", dropped,
			"error", ErrCredentialStoreCorrupted.Error())
		if err := v.persist(); err != nil {
			logger.Warn(ctx, "failed to rewrite credential store", "error", err)
		}
	}

	logger.Debug(ctx, "credential store loaded", "entries", len(v.entries))
}

// Save encrypts and stores token, replacing any token already stored for
// the same repository and method. A nil expiresAt never expires.
func (v *Vault) Save(ctx context.Context, repositoryID string, method AuthMethod, token string, expiresAt *time.Time) error {
	if repositoryID == "" {
		return platformerrors.New(platformerrors.CodeInvalidInput, "repository id is required")
	}
	if !method.Valid() {
		return invalidMethod(method)
	}
	if token == "" {
		return platformerrors.New(platformerrors.CodeInvalidInput, "token is required")
	}

	if !v.box.Available() {
		return ErrEncryptionUnavailable
	}

	ciphertext, err := v.box.Encrypt([]byte(token))
	if err != nil {
		if errors.Is(err, ErrEncryptionUnavailable) {
			return err
		}
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to encrypt token")
	}

	e := &Entry{
		RepositoryID:   repositoryID,
		AuthMethod:     method,
		EncryptedToken: ciphertext,
		CreatedAt:      v.clock.Now().UTC(),
	}
	if expiresAt != nil {
		t := expiresAt.UTC()
		e.ExpiresAt = &t
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	k := entryKey{repositoryID: repositoryID, method: method}
	prev, had := v.entries[k]
	v.entries[k] = e

	if err := v.persist(); err != nil {
		if had {
			v.entries[k] = prev
		} else {
			delete(v.entries, k)
		}
		v.logger.WithOperation(logging.OpSaveToken).Error(ctx, "failed to save credential store",
			"repository", repositoryID,
			"method", string(method),
			"error", err)
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to save credential store")
	}

	v.logger.WithOperation(logging.OpSaveToken).Debug(ctx, "credential saved",
		"repository", repositoryID,
		"method", string(method),
		"expires", e.ExpiresAt != nil)

	return nil
}

// Get returns the plaintext token stored for a repository and method.
//
// The boolean is false when no usable token exists: nothing was stored, the
// token has expired, or its ciphertext cannot be decrypted. Expired and
// undecryptable entries are deleted. ErrEncryptionUnavailable is returned
// when the SecureBox cannot be used.
func (v *Vault) Get(ctx context.Context, repositoryID string, method AuthMethod) (string, bool, error) {
	if !method.Valid() {
		return "", false, invalidMethod(method)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	logger := v.logger.WithOperation(logging.OpGetToken).WithRepository(repositoryID)
	k := entryKey{repositoryID: repositoryID, method: method}

	e, ok := v.entries[k]
	if !ok {
		return "", false, nil
	}

	if e.expired(v.clock.Now()) {
		v.dropLocked(ctx, k)
		logger.Info(ctx, "expired credential removed", "method", string(method))
		return "", false, nil
	}

	if !v.box.Available() {
		return "", false, ErrEncryptionUnavailable
	}

	plaintext, err := v.box.Decrypt(e.EncryptedToken)
	if err != nil {
		if errors.Is(err, ErrEncryptionUnavailable) {
			return "", false, err
		}
		v.dropLocked(ctx, k)
		logger.Warn(ctx, "undecryptable credential removed",
			"method", string(method),
			"error", ErrCredentialStoreCorrupted.Error())
		return "", false, nil
	}

	return string(plaintext), true, nil
}

// Has reports whether Get would return a token, without exposing it.
func (v *Vault) Has(ctx context.Context, repositoryID string, method AuthMethod) (bool, error) {
	_, ok, err := v.Get(ctx, repositoryID, method)
	return ok, err
}

// Delete removes the token for a repository and method. An empty method
// removes the tokens of every method. Deleting nothing is not an error.
func (v *Vault) Delete(ctx context.Context, repositoryID string, method AuthMethod) error {
	if method != "" && !method.Valid() {
		return invalidMethod(method)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	methods := []AuthMethod{method}
	if method == "" {
		methods = Methods
	}

	removed := 0
	for _, m := range methods {
		k := entryKey{repositoryID: repositoryID, method: m}
		if _, ok := v.entries[k]; ok {
			delete(v.entries, k)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}

	if err := v.persist(); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to save credential store")
	}

	v.logger.WithOperation(logging.OpDeleteToken).Info(ctx, "credentials deleted",
		"repository", repositoryID,
		"count", removed)

	return nil
}

// Purge deletes every expired token and returns how many were removed.
func (v *Vault) Purge(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	removed := 0
	for k, e := range v.entries {
		if e.expired(now) {
			delete(v.entries, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := v.persist(); err != nil {
		return removed, platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to save credential store")
	}

	v.logger.WithOperation(logging.OpPurgeExpired).Info(ctx, "expired credentials purged", "count", removed)

	return removed, nil
}

// Repositories lists the repositories holding at least one stored token.
// Expiry is not checked.
func (v *Vault) Repositories() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for k := range v.entries {
		if _, ok := seen[k.repositoryID]; ok {
			continue
		}
		seen[k.repositoryID] = struct{}{}
		out = append(out, k.repositoryID)
	}
	sort.Strings(out)
	return out
}

// dropLocked deletes an entry and persists the store. A persistence failure
// is logged; the entry stays removed from memory.
func (v *Vault) dropLocked(ctx context.Context, k entryKey) {
	delete(v.entries, k)
	if err := v.persist(); err != nil {
		v.logger.Warn(ctx, "failed to save credential store", "error", err)
	}
}

func (v *Vault) persist() error {
	return saveStore(v.fs, v.path, v.entries)
}
