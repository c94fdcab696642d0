package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pgmon/internal/config"
	"pgmon/internal/domain"
	"pgmon/internal/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	log, err := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	return New(config.AuthConfig{
		SecretKey:       "test-secret-key",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	}, nil, log)
}

func TestIssuePairRoundTrip(t *testing.T) {
	s := newTestService(t)
	user := &domain.User{Login: "alice", Role: domain.UserRoleOperator, IsActive: true}

	pair, err := s.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("IssuePair() returned empty tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens are identical")
	}

	claims, err := s.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want %q", claims.Username, "alice")
	}
	if claims.Role != domain.UserRoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, domain.UserRoleOperator)
	}
	if claims.JTI == "" {
		t.Error("JTI is empty")
	}
	if claims.Kind != TokenKindAccess {
		t.Errorf("Kind = %q, want %q", claims.Kind, TokenKindAccess)
	}

	refresh, err := s.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh() error = %v", err)
	}
	if refresh.Username != "alice" {
		t.Errorf("refresh Username = %q, want %q", refresh.Username, "alice")
	}
	if refresh.JTI == claims.JTI {
		t.Error("access and refresh tokens share a jti")
	}
	if refresh.Role != "" {
		t.Errorf("refresh Role = %q, want empty", refresh.Role)
	}

	if pair.AccessJTI != claims.JTI {
		t.Errorf("AccessJTI = %q, want %q", pair.AccessJTI, claims.JTI)
	}
	if pair.RefreshJTI != refresh.JTI {
		t.Errorf("RefreshJTI = %q, want %q", pair.RefreshJTI, refresh.JTI)
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	s := newTestService(t)
	pair, err := s.IssuePair(&domain.User{Login: "alice", Role: domain.UserRoleAdmin})
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	if _, err := s.VerifyAccess(pair.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("VerifyAccess(refresh token) error = %v, want ErrUnauthorized", err)
	}
	if _, err := s.VerifyRefresh(pair.AccessToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("VerifyRefresh(access token) error = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := newTestService(t)

	expired, err := s.sign(tokenClaims{
		Kind: TokenKindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("sign() error = %v", err)
	}

	if _, err := s.VerifyAccess(expired); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("VerifyAccess(expired) error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	s := newTestService(t)
	pair, err := s.IssuePair(&domain.User{Login: "alice", Role: domain.UserRoleViewer})
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	other := newTestService(t)
	other.secret = []byte("a different secret")
	if _, err := other.VerifyAccess(pair.AccessToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("VerifyAccess(wrong secret) error = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := newTestService(t)
	if _, err := s.VerifyAccess("not.a.token"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("VerifyAccess(garbage) error = %v, want ErrUnauthorized", err)
	}
}

func TestRevoke(t *testing.T) {
	s := newTestService(t)
	pair, err := s.IssuePair(&domain.User{Login: "alice", Role: domain.UserRoleAdmin})
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	claims, err := s.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}

	s.Revoke(claims)

	if _, err := s.VerifyAccess(pair.AccessToken); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Errorf("VerifyAccess(revoked) error = %v, want ErrTokenRevoked", err)
	}

	// The refresh token has its own jti and stays valid.
	if _, err := s.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Errorf("VerifyRefresh() after access revocation error = %v", err)
	}
}

func TestRevocationSet(t *testing.T) {
	r := NewRevocationSet()

	if r.Contains("missing") {
		t.Error("Contains(missing) = true on empty set")
	}

	r.Add("jti-1", time.Now().Add(time.Hour))
	if !r.Contains("jti-1") {
		t.Error("Contains(jti-1) = false after Add")
	}
	if got := r.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	// Empty ids are ignored.
	r.Add("", time.Now().Add(time.Hour))
	if got := r.Len(); got != 1 {
		t.Errorf("Len() = %d after empty Add, want 1", got)
	}

	// An entry past its expiry no longer counts as revoked.
	r.Add("jti-2", time.Now().Add(-time.Minute))
	if r.Contains("jti-2") {
		t.Error("Contains(jti-2) = true for expired entry")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("Allow() = false within burst at request %d", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Allow() = true past burst")
	}

	// Keys are independent.
	if !rl.Allow("10.0.0.2") {
		t.Error("Allow() = false for a fresh key")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.rps != 1 {
		t.Errorf("rps = %v, want 1", rl.rps)
	}
	if rl.burst != 5 {
		t.Errorf("burst = %d, want 5", rl.burst)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("HashPassword() returned the plaintext")
	}
	if !CheckPassword(hash, "s3cret") {
		t.Error("CheckPassword() = false for correct password")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("CheckPassword() = true for wrong password")
	}
}
