package domain

import (
	"strings"
	"time"
)

// UserRole represents the permission level of an operator account.
type UserRole string

const (
	// UserRoleAdmin has full administrative access.
	UserRoleAdmin UserRole = "admin"

	// UserRoleOperator can manage servers and keys but not users or settings.
	UserRoleOperator UserRole = "operator"

	// UserRoleViewer has read-only access.
	UserRoleViewer UserRole = "viewer"
)

// IsValid returns true if the role is valid.
func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleAdmin, UserRoleOperator, UserRoleViewer:
		return true
	default:
		return false
	}
}

// User is an operator account for the HTTP API.
type User struct {
	// Login is the unique account name.
	Login string `json:"login"`

	// PasswordHash is the bcrypt hash of the password. Never serialized.
	PasswordHash string `json:"-"`

	// Role is the permission level.
	Role UserRole `json:"role"`

	// Email is the optional contact address.
	Email string `json:"email,omitempty"`

	// IsActive gates authentication; inactive accounts cannot log in.
	IsActive bool `json:"is_active"`

	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the account was last modified.
	UpdatedAt time.Time `json:"updated_at"`

	// LastLogin is when the account last authenticated, if ever.
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Validate validates the account.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Login) == "" {
		return ErrInvalidInput
	}
	if !u.Role.IsValid() {
		return ErrInvalidUserRole
	}
	return nil
}

// IsAdmin returns true if the user has admin role.
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// CanWrite returns true if the user can mutate servers and keys.
func (u *User) CanWrite() bool {
	return u.Role == UserRoleAdmin || u.Role == UserRoleOperator
}

// UserPatch is a partial user update. Nil fields keep their stored value.
type UserPatch struct {
	Password *string   `json:"password,omitempty"`
	Role     *UserRole `json:"role,omitempty"`
	Email    *string   `json:"email,omitempty"`
	IsActive *bool     `json:"is_active,omitempty"`
}
