// Package sshkeys generates, imports, and fingerprints the SSH key pairs
// held in the target registry. Private keys move through here as OpenSSH
// PEM text; encryption at rest is the registry's job.
package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"pgmon/internal/domain"
)

// keyComment marks public keys produced here in authorized_keys files.
const keyComment = "pgmon@activity-monitor"

// DefaultRSABits is the RSA size used when the caller does not choose one.
const DefaultRSABits = 2048

// Material is a key pair in storable form: the PEM private key (possibly
// passphrase protected), the authorized_keys public line, and the SHA256
// fingerprint identifying the key material.
type Material struct {
	KeyType       domain.KeyType
	PrivateKeyPEM string
	PublicKey     string
	Fingerprint   string
	HasPassphrase bool
}

// Generate creates a new key pair. bits applies to RSA only and must be
// 2048 or 4096 (zero selects the default). A non-empty passphrase encrypts
// the PEM block.
func Generate(keyType domain.KeyType, bits int, passphrase string) (*Material, error) {
	var private, public any

	switch keyType {
	case domain.KeyTypeRSA:
		if bits == 0 {
			bits = DefaultRSABits
		}
		if bits != 2048 && bits != 4096 {
			return nil, fmt.Errorf("%w: rsa key size %d (want 2048 or 4096)", domain.ErrInvalidInput, bits)
		}
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate rsa key: %w", err)
		}
		private, public = key, key.Public()

	case domain.KeyTypeEd25519:
		pub, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		private, public = key, pub

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidKeyType, keyType)
	}

	var (
		block *pem.Block
		err   error
	)
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(private, keyComment, []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(private, keyComment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(public)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return &Material{
		KeyType:       keyType,
		PrivateKeyPEM: string(pem.EncodeToMemory(block)),
		PublicKey:     authorizedLine(sshPub),
		Fingerprint:   ssh.FingerprintSHA256(sshPub),
		HasPassphrase: passphrase != "",
	}, nil
}

// ParsePrivate validates an imported PEM private key and derives its
// public half and fingerprint. An encrypted PEM without the right
// passphrase fails with domain.ErrWrongPassphrase.
func ParsePrivate(pemData, passphrase string) (*Material, error) {
	signer, encrypted, err := parse(pemData, passphrase)
	if err != nil {
		return nil, err
	}

	pub := signer.PublicKey()
	keyType, err := typeFromWire(pub.Type())
	if err != nil {
		return nil, err
	}

	return &Material{
		KeyType:       keyType,
		PrivateKeyPEM: pemData,
		PublicKey:     authorizedLine(pub),
		Fingerprint:   ssh.FingerprintSHA256(pub),
		HasPassphrase: encrypted,
	}, nil
}

// Signer parses a PEM private key into an ssh.Signer for session
// authentication.
func Signer(pemData, passphrase string) (ssh.Signer, error) {
	signer, _, err := parse(pemData, passphrase)
	return signer, err
}

// Fingerprint computes the SHA256 fingerprint of an authorized_keys line.
func Fingerprint(publicKey string) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidPrivateKey, err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// parse loads a PEM private key, reporting whether the PEM itself was
// encrypted.
func parse(pemData, passphrase string) (ssh.Signer, bool, error) {
	signer, err := ssh.ParsePrivateKey([]byte(pemData))
	if err == nil {
		return signer, false, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrInvalidPrivateKey, err)
	}
	if passphrase == "" {
		return nil, true, domain.ErrWrongPassphrase
	}

	signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(pemData), []byte(passphrase))
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", domain.ErrWrongPassphrase, err)
	}
	return signer, true, nil
}

// authorizedLine renders pub as a single authorized_keys line carrying the
// monitor's comment.
func authorizedLine(pub ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))) + " " + keyComment
}

func typeFromWire(wire string) (domain.KeyType, error) {
	switch wire {
	case ssh.KeyAlgoRSA:
		return domain.KeyTypeRSA, nil
	case ssh.KeyAlgoED25519:
		return domain.KeyTypeEd25519, nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidKeyType, wire)
	}
}
