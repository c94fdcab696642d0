package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"pgmon/internal/auth"
	"pgmon/internal/domain"
)

// refreshCookie is the name of the HTTP-only rotation cookie.
const refreshCookie = "refresh_token"

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleLogin trades credentials for a token pair: the access token in the
// body, the refresh token in the rotation cookie. Accepts JSON and
// HTML-form bodies, rate limited per client IP.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		s.respondJSON(w, http.StatusTooManyRequests, errorPayload{Error: "too many login attempts"})
		return
	}

	creds, err := readCredentials(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	user, err := s.auth.Authenticate(r.Context(), creds.Username, creds.Password)
	if err != nil {
		s.audit(r, domain.AuditLoginFailed, creds.Username, "", err.Error())
		s.respondError(w, r, err)
		return
	}

	pair, err := s.auth.IssuePair(user)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.audit(r, domain.AuditLoginSuccess, user.Login, pair.AccessJTI, "")
	s.setRefreshCookie(w, pair)
	s.respondJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, TokenType: "bearer"})
}

// handleRefresh rotates the refresh cookie and mints a fresh access token.
// The presented token is spent immediately, so a replayed cookie fails
// even when the rotation itself succeeded.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookie)
	if err != nil {
		s.respondError(w, r, domain.ErrUnauthorized)
		return
	}
	claims, err := s.auth.VerifyRefresh(cookie.Value)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// The role is re-read from the users table so demotions and
	// deactivations take effect at rotation time.
	user, err := s.store.Users().Get(r.Context(), claims.Username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			err = domain.ErrUnauthorized
		}
		s.respondError(w, r, err)
		return
	}
	if !user.IsActive {
		s.respondError(w, r, domain.ErrUserInactive)
		return
	}

	s.auth.Revoke(claims)

	pair, err := s.auth.IssuePair(user)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.audit(r, domain.AuditTokenRefresh, user.Login, pair.AccessJTI, "")
	s.setRefreshCookie(w, pair)
	s.respondJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, TokenType: "bearer"})
}

// handleLogout revokes the access token and, when the cookie is present
// and valid, the refresh token too.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	s.auth.Revoke(claims)
	if cookie, err := r.Cookie(refreshCookie); err == nil {
		if refreshClaims, err := s.auth.VerifyRefresh(cookie.Value); err == nil {
			s.auth.Revoke(refreshClaims)
		}
	}
	s.clearRefreshCookie(w)
	s.audit(r, domain.AuditLogout, claims.Username, claims.JTI, "")
	s.respondJSON(w, http.StatusOK, messagePayload{Message: "logged out"})
}

func readCredentials(r *http.Request) (*credentialsRequest, error) {
	var creds credentialsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(r, &creds); err != nil {
			return nil, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, domain.ErrInvalidInput
		}
		creds.Username = r.PostFormValue("username")
		creds.Password = r.PostFormValue("password")
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, wrapInvalid("username and password are required")
	}
	return &creds, nil
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/api",
		Expires:  pair.RefreshExpiresAt,
		MaxAge:   int(time.Until(pair.RefreshExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/api",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// audit appends an authentication event. Failures only log: the audit
// trail never blocks the auth flow.
func (s *Server) audit(r *http.Request, event domain.AuditEventType, username, jti, details string) {
	entry := &domain.AuditEvent{
		EventType: event,
		Username:  username,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		JTI:       jti,
		Details:   details,
	}
	if err := s.store.Audit().Insert(r.Context(), entry); err != nil {
		s.log.Warn("failed to record audit event", "event", event, "error", err)
	}
}
