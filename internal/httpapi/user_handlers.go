package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"pgmon/internal/auth"
	"pgmon/internal/domain"
	"pgmon/internal/storage/warehouse"
)

type createUserRequest struct {
	Login    string          `json:"login"`
	Password string          `json:"password"`
	Role     domain.UserRole `json:"role"`
	Email    string          `json:"email"`
}

// handleCurrentUser returns the account behind the presented token.
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	user, err := s.store.Users().Get(r.Context(), claims.Username)
	if err != nil {
		// A token for a deleted account is just an invalid token.
		if errors.Is(err, domain.ErrUserNotFound) {
			err = domain.ErrUnauthorized
		}
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

// handleListUsers returns every account.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.Users().List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, users)
}

// handleCreateUser registers an account. The role defaults to viewer.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	req.Login = strings.TrimSpace(req.Login)
	if req.Login == "" || req.Password == "" {
		s.respondError(w, r, wrapInvalid("login and password are required"))
		return
	}
	if req.Role == "" {
		req.Role = domain.UserRoleViewer
	}
	if !req.Role.IsValid() {
		s.respondError(w, r, fmt.Errorf("%w: %q", domain.ErrInvalidUserRole, req.Role))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	user := &domain.User{
		Login:        req.Login,
		PasswordHash: hash,
		Role:         req.Role,
		Email:        req.Email,
		IsActive:     true,
	}
	if err := s.store.Users().Create(r.Context(), user); err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info("user created",
		"login", user.Login, "role", user.Role, "by", claimsFrom(r).Username)
	s.respondJSON(w, http.StatusOK, user)
}

// handleUpdateUser applies a partial account update. Demoting or
// deactivating the last active admin is refused by the repository.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	var patch domain.UserPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}
	if patch.Password == nil && patch.Role == nil && patch.Email == nil && patch.IsActive == nil {
		s.respondError(w, r, wrapInvalid("no fields to update"))
		return
	}
	if patch.Role != nil && !patch.Role.IsValid() {
		s.respondError(w, r, fmt.Errorf("%w: %q", domain.ErrInvalidUserRole, *patch.Role))
		return
	}

	update := warehouse.UserUpdate{Role: patch.Role, Email: patch.Email, IsActive: patch.IsActive}
	if patch.Password != nil {
		if *patch.Password == "" {
			s.respondError(w, r, wrapInvalid("password cannot be empty"))
			return
		}
		hash, err := auth.HashPassword(*patch.Password)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		update.PasswordHash = &hash
	}

	if err := s.store.Users().Update(r.Context(), login, update); err != nil {
		s.respondError(w, r, err)
		return
	}
	user, err := s.store.Users().Get(r.Context(), login)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info("user updated", "login", login, "by", claimsFrom(r).Username)
	s.respondJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes an account. Deleting yourself is refused; so is
// deleting the last active admin.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	if claimsFrom(r).Username == login {
		s.respondError(w, r, wrapInvalid("cannot delete your own account"))
		return
	}
	if err := s.store.Users().Delete(r.Context(), login); err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info("user deleted", "login", login, "by", claimsFrom(r).Username)
	s.respondJSON(w, http.StatusOK, messagePayload{Message: fmt.Sprintf("User %s deleted", login)})
}
