// Package auth issues and validates the API's JWT credentials, hashes
// passwords, and tracks revoked tokens between restarts of nothing but
// itself: the revocation set and rate limiter are in-process state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pgmon/internal/config"
	"pgmon/internal/domain"
	"pgmon/internal/logger"
	"pgmon/internal/storage/warehouse"
)

// Token kinds. Kind separates access from refresh so one cannot stand in
// for the other.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// Claims is the verified content of a token.
type Claims struct {
	Username  string
	Role      domain.UserRole
	JTI       string
	Kind      string
	ExpiresAt time.Time
}

// tokenClaims is the wire form.
type tokenClaims struct {
	Role string `json:"role,omitempty"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// TokenPair is what a successful login yields: a bearer access token and
// the refresh token destined for an HTTP-only cookie. The jtis are kept
// so callers can write them to the audit trail.
type TokenPair struct {
	AccessToken      string
	AccessJTI        string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshJTI       string
	RefreshExpiresAt time.Time
}

// Service authenticates logins and manages the token lifecycle.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	users      *warehouse.UserRepository
	revoked    *RevocationSet
	log        *logger.Logger
}

// New builds the auth service over the users repository.
func New(cfg config.AuthConfig, users *warehouse.UserRepository, log *logger.Logger) *Service {
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = 60 * time.Minute
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Service{
		secret:     []byte(cfg.SecretKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		users:      users,
		revoked:    NewRevocationSet(),
		log:        log.Component("auth"),
	}
}

// Authenticate checks credentials against the users table and stamps the
// last login on success. Unknown logins and wrong passwords come back as
// the same error.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*domain.User, error) {
	user, err := s.users.Get(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, domain.ErrInvalidCredentials
	}

	if err := s.users.TouchLastLogin(ctx, login); err != nil {
		s.log.Warn("failed to record last login", "login", login, "error", err)
	}
	return user, nil
}

// IssuePair mints a fresh access and refresh token for the user. The
// refresh token carries no role: the role is re-read from the users table
// at refresh time so demotions take effect.
func (s *Service) IssuePair(user *domain.User) (*TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)
	accessJTI := uuid.New().String()
	refreshJTI := uuid.New().String()

	access, err := s.sign(tokenClaims{
		Role: string(user.Role),
		Kind: TokenKindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Login,
			ID:        accessJTI,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.sign(tokenClaims{
		Kind: TokenKindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Login,
			ID:        refreshJTI,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		AccessJTI:        accessJTI,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshJTI:       refreshJTI,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates a bearer token: signature, expiry, kind, and
// revocation.
func (s *Service) VerifyAccess(token string) (*Claims, error) {
	return s.verify(token, TokenKindAccess)
}

// VerifyRefresh validates a refresh token from the rotation cookie.
func (s *Service) VerifyRefresh(token string) (*Claims, error) {
	return s.verify(token, TokenKindRefresh)
}

// Revoke blacklists a token's id until its natural expiry.
func (s *Service) Revoke(claims *Claims) {
	s.revoked.Add(claims.JTI, claims.ExpiresAt)
}

// RefreshTTL returns the configured refresh token lifetime, used for the
// cookie Max-Age.
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

func (s *Service) sign(claims tokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) verify(token, kind string) (*Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrUnauthorized
	}
	if !parsed.Valid || claims.Kind != kind {
		return nil, domain.ErrUnauthorized
	}
	if s.revoked.Contains(claims.ID) {
		return nil, domain.ErrTokenRevoked
	}

	out := &Claims{
		Username: claims.Subject,
		Role:     domain.UserRole(claims.Role),
		JTI:      claims.ID,
		Kind:     claims.Kind,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
