// Package secretbox provides the application-level encryption used for
// credentials at rest: AES-256-GCM with the key derived from the operator's
// ENCRYPTION_KEY via HKDF-SHA256. Ciphertexts are nonce-prefixed and stored
// base64-encoded in plain text columns.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"pgmon/internal/domain"
)

const (
	// KeySize is the size of the derived AES key.
	KeySize = 32

	// gcmTagSize is the GCM authentication tag size.
	gcmTagSize = 16
)

// Box encrypts and decrypts credential fields. Immutable after New; safe
// for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// New derives the AES-256-GCM key from the operator-provided key material.
// An empty key is refused; callers treat that as fatal at startup.
func New(key string) (*Box, error) {
	if key == "" {
		return nil, domain.ErrMissingKey
	}

	// Info binds the derived key to this purpose; the salt is static
	// because the input key material is already unique per deployment.
	info := []byte("pgmon-credential-encryption-v1")
	salt := []byte("pgmon-static-salt-v1")

	hkdfReader := hkdf.New(sha256.New, []byte(key), salt, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdfReader, derived); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Encrypt encrypts plaintext bytes. Format: [nonce][ciphertext+tag].
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts nonce-prefixed ciphertext bytes. A wrong key or
// corrupted data yields domain.ErrDecryptFailed.
func (b *Box) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(ciphertext) < nonceSize+gcmTagSize {
		return nil, domain.ErrDecryptFailed
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, domain.ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptString encrypts a string to base64 ciphertext. Empty input stays
// empty so optional fields round-trip without noise.
func (b *Box) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	encrypted, err := b.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// DecryptString decrypts a base64 ciphertext produced by EncryptString.
func (b *Box) DecryptString(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", domain.ErrDecryptFailed
	}
	plaintext, err := b.Decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether s parses and authenticates as one of our
// ciphertexts. Used to keep writes idempotent: a value that is already
// encrypted is stored verbatim instead of being wrapped a second time.
func (b *Box) IsEncrypted(s string) bool {
	if s == "" {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	_, err = b.Decrypt(raw)
	return err == nil
}

// EnsureEncrypted returns s encrypted exactly once: ciphertext passes
// through untouched, plaintext is encrypted.
func (b *Box) EnsureEncrypted(s string) (string, error) {
	if s == "" || b.IsEncrypted(s) {
		return s, nil
	}
	return b.EncryptString(s)
}

// EnsureDecrypted returns the plaintext of s when it is one of our
// ciphertexts, and s unchanged otherwise.
func (b *Box) EnsureDecrypted(s string) string {
	if !b.IsEncrypted(s) {
		return s
	}
	plain, err := b.DecryptString(s)
	if err != nil {
		return s
	}
	return plain
}

// FixDoubleEncryption repairs a value that was wrapped twice by a buggy
// writer. When the first decryption yields something that is itself a
// valid ciphertext, the inner ciphertext is the correct stored form.
// Returns the repaired value and whether a repair happened.
func (b *Box) FixDoubleEncryption(s string) (string, bool) {
	if !b.IsEncrypted(s) {
		return s, false
	}
	inner, err := b.DecryptString(s)
	if err != nil {
		return s, false
	}
	if !b.IsEncrypted(inner) {
		return s, false
	}
	return inner, true
}
