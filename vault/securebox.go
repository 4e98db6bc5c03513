package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
)

// SecureBox encrypts and decrypts secrets with a key held by the operating
// system.
type SecureBox interface {
	// Available reports whether the box can currently encrypt and decrypt.
	Available() bool
	// Encrypt seals plaintext.
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt opens a ciphertext produced by Encrypt.
	Decrypt(ciphertext []byte) ([]byte, error)
}

const (
	// DefaultKeyringService is the service name under which the data key is
	// stored in the OS credential manager.
	DefaultKeyringService = "remotedocs"

	keyringUser = "credential-vault-key"
)

// KeyringBox is a SecureBox whose 256-bit data key lives in the OS
// credential manager (macOS Keychain, Windows Credential Manager or the
// Secret Service on Linux). Secrets are sealed with XChaCha20-Poly1305.
//
// The key is created on first use and cached for the lifetime of the box.
type KeyringBox struct {
	service string

	mu   sync.Mutex
	aead cipher.AEAD
}

// NewKeyringBox returns a KeyringBox storing its key under service.
func NewKeyringBox(service string) *KeyringBox {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringBox{service: service}
}

// Available reports whether the data key can be obtained from the keyring.
func (b *KeyringBox) Available() bool {
	_, err := b.cipher()
	return err == nil
}

// Encrypt seals plaintext. The random nonce is prepended to the result.
func (b *KeyringBox) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := b.cipher()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (b *KeyringBox) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := b.cipher()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// cipher loads the data key, generating and storing one if none exists.
func (b *KeyringBox) cipher() (cipher.AEAD, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.aead != nil {
		return b.aead, nil
	}

	encoded, err := keyring.Get(b.service, keyringUser)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		encoded, err = b.createKey()
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, unavailable(err)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, unavailable(errors.New("stored data key is malformed"))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, unavailable(err)
	}

	b.aead = aead
	return aead, nil
}

func (b *KeyringBox) createKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", unavailable(err)
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := keyring.Set(b.service, keyringUser, encoded); err != nil {
		return "", unavailable(err)
	}

	return encoded, nil
}

// unavailable wraps cause so it matches ErrEncryptionUnavailable.
func unavailable(cause error) error {
	return fmt.Errorf("%w: %w", ErrEncryptionUnavailable, cause)
}
