package domain

import (
	"strings"
	"time"
)

// KeyType is the algorithm of a stored SSH key.
type KeyType string

const (
	// KeyTypeRSA is an RSA key (2048 or 4096 bits).
	KeyTypeRSA KeyType = "rsa"

	// KeyTypeEd25519 is an Ed25519 key.
	KeyTypeEd25519 KeyType = "ed25519"
)

// IsValid returns true if the key type is valid.
func (t KeyType) IsValid() bool {
	switch t {
	case KeyTypeRSA, KeyTypeEd25519:
		return true
	default:
		return false
	}
}

// SSHKey is a stored SSH private key with metadata. The private key is
// encrypted at rest; the fingerprint identifies the key material globally.
type SSHKey struct {
	// ID is a random UUID assigned at creation.
	ID string `json:"id"`

	// Name is the unique, human-chosen label.
	Name string `json:"name"`

	// Fingerprint is SHA256:<unpadded base64> over the public key wire bytes.
	Fingerprint string `json:"fingerprint"`

	// KeyType is the key algorithm.
	KeyType KeyType `json:"key_type"`

	// PublicKey is the OpenSSH authorized_keys form of the public half.
	PublicKey string `json:"public_key"`

	// PrivateKey is the PEM private key; encrypted at rest, decrypted only
	// on demand for SSH sessions. Never serialized in API responses.
	PrivateKey string `json:"-"`

	// HasPassphrase reports whether the PEM itself is passphrase protected.
	HasPassphrase bool `json:"has_passphrase"`

	// CreatedBy is the login that created or imported the key.
	CreatedBy string `json:"created_by"`

	// CreatedAt is when the key was stored.
	CreatedAt time.Time `json:"created_at"`

	// Description is optional free text.
	Description string `json:"description,omitempty"`

	// ServersCount is the number of servers referencing the key. Derived
	// by a join on read, never stored.
	ServersCount int `json:"servers_count"`
}

// Validate validates the key metadata.
func (k *SSHKey) Validate() error {
	if strings.TrimSpace(k.Name) == "" {
		return ErrInvalidInput
	}
	if !k.KeyType.IsValid() {
		return ErrInvalidKeyType
	}
	if k.Fingerprint == "" || !strings.HasPrefix(k.Fingerprint, "SHA256:") {
		return ErrInvalidPrivateKey
	}
	return nil
}
