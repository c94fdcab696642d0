package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pgmon/internal/auth"
	"pgmon/internal/config"
	"pgmon/internal/domain"
	"pgmon/internal/logger"
	"pgmon/internal/remote"
	"pgmon/internal/storage/pgpool"
)

// newTestServer wires a server with live auth and an empty remote manager.
// The warehouse is intentionally absent: router tests stick to paths that
// are decided before any repository is touched.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.SecretKey = "test-secret"
	log := logger.Default()
	return NewServer(cfg, Deps{
		Remote: remote.NewManager(pgpool.Config{}, log),
		Auth:   auth.New(cfg.Auth, nil, log),
	}, log)
}

func do(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := do(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.PoolsCount != 0 {
		t.Errorf("pools_count = %d, want 0", body.PoolsCount)
	}
	if body.Version == "" {
		t.Error("version missing from health response")
	}
}

func TestRouterAuthScoping(t *testing.T) {
	s := newTestServer(t)

	t.Run("protected route without token", func(t *testing.T) {
		w := do(s, httptest.NewRequest(http.MethodGet, "/api/servers", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("write route with viewer token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/servers", strings.NewReader(`{}`))
		r.Header.Set("Authorization", "Bearer "+accessTokenFor(t, s.auth, domain.UserRoleViewer))
		w := do(s, r)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("admin route with operator token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		r.Header.Set("Authorization", "Bearer "+accessTokenFor(t, s.auth, domain.UserRoleOperator))
		w := do(s, r)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("refresh without cookie", func(t *testing.T) {
		w := do(s, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("login with empty credentials", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(`{}`))
		r.Header.Set("Content-Type", "application/json")
		w := do(s, r)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestRouterFallbacks(t *testing.T) {
	s := newTestServer(t)

	t.Run("unknown path", func(t *testing.T) {
		w := do(s, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
		var body errorPayload
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("404 body is not JSON: %v", err)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		w := do(s, httptest.NewRequest(http.MethodDelete, "/api/health", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("metrics served without auth", func(t *testing.T) {
		w := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("preflight answered before routing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/servers", nil)
		r.Header.Set("Origin", "http://localhost:3000")
		w := do(s, r)
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}

func TestLoginRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.SecretKey = "test-secret"
	cfg.Auth.LoginRateLimit = 0.001
	cfg.Auth.LoginBurst = 1
	log := logger.Default()
	s := NewServer(cfg, Deps{
		Remote: remote.NewManager(pgpool.Config{}, log),
		Auth:   auth.New(cfg.Auth, nil, log),
	}, log)

	request := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(`{}`))
		r.Header.Set("Content-Type", "application/json")
		r.RemoteAddr = "198.51.100.7:1234"
		return r
	}

	if w := do(s, request()); w.Code != http.StatusBadRequest {
		t.Fatalf("first attempt status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := do(s, request()); w.Code != http.StatusTooManyRequests {
		t.Errorf("second attempt status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}
