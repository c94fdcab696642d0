package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"pgmon/internal/domain"
)

// errorPayload is the uniform JSON error body.
type errorPayload struct {
	Error string `json:"error"`
}

// messagePayload is the body of mutations that confirm in prose.
type messagePayload struct {
	Message string `json:"message"`
}

// respondJSON writes v with the given status. Encoding failures are already
// past the status line, so they only log.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

// respondError maps a domain error to its HTTP status and writes the
// uniform error body. Unmapped errors are internal: the detail goes to the
// log, not the client.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	s.respondJSON(w, status, errorPayload{Error: msg})
}

// statusFor classifies a domain error by behavioral kind: input violations
// are 400, authentication failures 401, permission failures 403, missing
// resources 404, uniqueness and reference conflicts 409.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidServerName),
		errors.Is(err, domain.ErrInvalidHost),
		errors.Is(err, domain.ErrInvalidAuthType),
		errors.Is(err, domain.ErrInvalidKeyType),
		errors.Is(err, domain.ErrInvalidPrivateKey),
		errors.Is(err, domain.ErrWrongPassphrase),
		errors.Is(err, domain.ErrInvalidUserRole),
		errors.Is(err, domain.ErrSettingOutOfRange),
		errors.Is(err, domain.ErrInvalidSettingType),
		errors.Is(err, domain.ErrLastAdmin):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenRevoked),
		errors.Is(err, domain.ErrUserInactive):
		return http.StatusUnauthorized

	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, domain.ErrServerNotFound),
		errors.Is(err, domain.ErrKeyNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrSettingNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrServerExists),
		errors.Is(err, domain.ErrKeyExists),
		errors.Is(err, domain.ErrKeyInUse),
		errors.Is(err, domain.ErrUserExists),
		errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a request body into v, limited to a megabyte of JSON.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// wrapForbidden tags a permission failure with its reason.
func wrapForbidden(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrForbidden, reason)
}

// wrapInvalid tags an input failure with its reason.
func wrapInvalid(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, reason)
}
