package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pgmon/internal/domain"
	"pgmon/internal/logger"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest},
		{"invalid server name", domain.ErrInvalidServerName, http.StatusBadRequest},
		{"invalid host", domain.ErrInvalidHost, http.StatusBadRequest},
		{"setting out of range", domain.ErrSettingOutOfRange, http.StatusBadRequest},
		{"last admin", domain.ErrLastAdmin, http.StatusBadRequest},
		{"invalid credentials", domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{"token expired", domain.ErrTokenExpired, http.StatusUnauthorized},
		{"token revoked", domain.ErrTokenRevoked, http.StatusUnauthorized},
		{"inactive user", domain.ErrUserInactive, http.StatusUnauthorized},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"server not found", domain.ErrServerNotFound, http.StatusNotFound},
		{"key not found", domain.ErrKeyNotFound, http.StatusNotFound},
		{"setting not found", domain.ErrSettingNotFound, http.StatusNotFound},
		{"server exists", domain.ErrServerExists, http.StatusConflict},
		{"key in use", domain.ErrKeyInUse, http.StatusConflict},
		{"wrapped", fmt.Errorf("context: %w", domain.ErrKeyExists), http.StatusConflict},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	s := &Server{log: logger.Default()}

	t.Run("domain error keeps its message", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/servers/x", nil)
		s.respondError(w, r, domain.ErrServerNotFound)

		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
		var body errorPayload
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		if body.Error != domain.ErrServerNotFound.Error() {
			t.Errorf("error = %q, want %q", body.Error, domain.ErrServerNotFound.Error())
		}
	})

	t.Run("internal errors are masked", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
		s.respondError(w, r, errors.New("pq: connection reset while talking to 10.0.0.5"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		var body errorPayload
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		if body.Error != "internal server error" {
			t.Errorf("error = %q, want generic message", body.Error)
		}
		if strings.Contains(body.Error, "10.0.0.5") {
			t.Errorf("error leaked internal detail: %q", body.Error)
		}
	})
}

func TestRespondJSONContentType(t *testing.T) {
	s := &Server{log: logger.Default()}
	w := httptest.NewRecorder()
	s.respondJSON(w, http.StatusOK, messagePayload{Message: "hi"})

	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"a"}`))
		var v struct {
			Username string `json:"username"`
		}
		if err := decodeJSON(r, &v); err != nil {
			t.Fatalf("decodeJSON() error = %v", err)
		}
		if v.Username != "a" {
			t.Errorf("username = %q, want %q", v.Username, "a")
		}
	})

	t.Run("garbage body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
		var v map[string]any
		err := decodeJSON(r, &v)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("decodeJSON() error = %v, want ErrInvalidInput", err)
		}
	})
}
