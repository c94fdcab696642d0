package secretbox

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"pgmon/internal/domain"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	box, err := New("test-encryption-key-material")
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	return box
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(""); !errors.Is(err, domain.ErrMissingKey) {
		t.Errorf("New(\"\") error = %v, want ErrMissingKey", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := newTestBox(t)

	values := []string{
		"postgres-password",
		"a",
		"пароль с кириллицей",
		strings.Repeat("long", 1024),
	}

	for _, plain := range values {
		ciphertext, err := box.EncryptString(plain)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plain, err)
		}
		if ciphertext == plain {
			t.Errorf("ciphertext equals plaintext for %q", plain)
		}
		got, err := box.DecryptString(ciphertext)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plain, err)
		}
		if got != plain {
			t.Errorf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestEmptyStringPassesThrough(t *testing.T) {
	box := newTestBox(t)

	ciphertext, err := box.EncryptString("")
	if err != nil {
		t.Fatalf("encrypt empty: %v", err)
	}
	if ciphertext != "" {
		t.Errorf("EncryptString(\"\") = %q, want \"\"", ciphertext)
	}

	plain, err := box.DecryptString("")
	if err != nil {
		t.Fatalf("decrypt empty: %v", err)
	}
	if plain != "" {
		t.Errorf("DecryptString(\"\") = %q, want \"\"", plain)
	}
}

func TestNoncesDiffer(t *testing.T) {
	box := newTestBox(t)

	a, err := box.EncryptString("same input")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := box.EncryptString("same input")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	box := newTestBox(t)

	ciphertext, err := box.EncryptString("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := box.DecryptString(tampered); !errors.Is(err, domain.ErrDecryptFailed) {
		t.Errorf("decrypt tampered error = %v, want ErrDecryptFailed", err)
	}
}

func TestDecryptGarbage(t *testing.T) {
	box := newTestBox(t)

	cases := []string{
		"not base64 at all!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		base64.StdEncoding.EncodeToString(make([]byte, 64)),
	}
	for _, c := range cases {
		if _, err := box.DecryptString(c); !errors.Is(err, domain.ErrDecryptFailed) {
			t.Errorf("DecryptString(%q) error = %v, want ErrDecryptFailed", c, err)
		}
	}
}

func TestWrongKeyFailsDecryption(t *testing.T) {
	box := newTestBox(t)
	other, err := New("a-different-key")
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}

	ciphertext, err := box.EncryptString("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := other.DecryptString(ciphertext); !errors.Is(err, domain.ErrDecryptFailed) {
		t.Errorf("decrypt with wrong key error = %v, want ErrDecryptFailed", err)
	}
}

func TestIsEncrypted(t *testing.T) {
	box := newTestBox(t)

	ciphertext, err := box.EncryptString("value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if !box.IsEncrypted(ciphertext) {
		t.Error("IsEncrypted(ciphertext) = false, want true")
	}
	for _, s := range []string{"", "plain password", "bm90IGEgY2lwaGVydGV4dA=="} {
		if box.IsEncrypted(s) {
			t.Errorf("IsEncrypted(%q) = true, want false", s)
		}
	}
}

func TestEnsureEncryptedIsIdempotent(t *testing.T) {
	box := newTestBox(t)

	once, err := box.EnsureEncrypted("password")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	twice, err := box.EnsureEncrypted(once)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if once != twice {
		t.Error("EnsureEncrypted re-wrapped an already encrypted value")
	}

	plain, err := box.DecryptString(twice)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "password" {
		t.Errorf("decrypted = %q, want %q", plain, "password")
	}
}

func TestEnsureDecrypted(t *testing.T) {
	box := newTestBox(t)

	ciphertext, err := box.EncryptString("value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if got := box.EnsureDecrypted(ciphertext); got != "value" {
		t.Errorf("EnsureDecrypted(ciphertext) = %q, want %q", got, "value")
	}
	if got := box.EnsureDecrypted("already plain"); got != "already plain" {
		t.Errorf("EnsureDecrypted(plain) = %q, want unchanged", got)
	}
}

func TestFixDoubleEncryption(t *testing.T) {
	box := newTestBox(t)

	single, err := box.EncryptString("password")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	double, err := box.EncryptString(single)
	if err != nil {
		t.Fatalf("encrypt twice: %v", err)
	}

	fixed, repaired := box.FixDoubleEncryption(double)
	if !repaired {
		t.Fatal("FixDoubleEncryption(double) repaired = false, want true")
	}
	if fixed != single {
		t.Error("repaired value should be the inner single-encrypted form")
	}
	plain, err := box.DecryptString(fixed)
	if err != nil {
		t.Fatalf("decrypt repaired: %v", err)
	}
	if plain != "password" {
		t.Errorf("repaired plaintext = %q, want %q", plain, "password")
	}

	if _, repaired := box.FixDoubleEncryption(single); repaired {
		t.Error("FixDoubleEncryption(single) repaired = true, want false")
	}
	if _, repaired := box.FixDoubleEncryption("plain"); repaired {
		t.Error("FixDoubleEncryption(plain) repaired = true, want false")
	}
}
