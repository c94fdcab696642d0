package domain

import "errors"

// Domain errors
var (
	// Server (monitored target) errors
	ErrServerNotFound    = errors.New("server not found")
	ErrServerExists      = errors.New("server already exists")
	ErrInvalidServerName = errors.New("invalid server name")
	ErrInvalidHost       = errors.New("invalid host")
	ErrInvalidAuthType   = errors.New("invalid ssh auth type")

	// SSH key errors
	ErrKeyNotFound       = errors.New("ssh key not found")
	ErrKeyExists         = errors.New("ssh key already exists")
	ErrKeyInUse          = errors.New("ssh key is referenced by servers")
	ErrInvalidKeyType    = errors.New("invalid key type")
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrWrongPassphrase   = errors.New("wrong or missing passphrase")

	// User errors
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrUserInactive    = errors.New("user account is inactive")
	ErrInvalidUserRole = errors.New("invalid user role")
	ErrLastAdmin       = errors.New("cannot remove the last active admin")

	// Auth errors
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")

	// Encryption errors
	ErrDecryptFailed = errors.New("decryption failed")
	ErrMissingKey    = errors.New("encryption key is not set")

	// Settings errors
	ErrSettingNotFound    = errors.New("setting not found")
	ErrSettingOutOfRange  = errors.New("setting value out of range")
	ErrInvalidSettingType = errors.New("invalid setting value type")

	// Generic input errors
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
)
