package domain

import (
	"strings"
	"time"
)

// SSHAuthType selects how the monitor authenticates to a server's host.
type SSHAuthType string

const (
	// SSHAuthPassword authenticates with the stored SSH password.
	SSHAuthPassword SSHAuthType = "password"

	// SSHAuthKey authenticates with a stored private key.
	SSHAuthKey SSHAuthType = "key"
)

// IsValid returns true if the auth type is valid.
func (t SSHAuthType) IsValid() bool {
	switch t {
	case SSHAuthPassword, SSHAuthKey:
		return true
	default:
		return false
	}
}

// Server is a monitored PostgreSQL instance. The name is the stable join
// key for all collected rows; credentials are stored encrypted and carried
// decrypted in memory after a registry read.
type Server struct {
	// Name is the unique, human-chosen identifier.
	Name string `json:"name"`

	// Host is the address of the PostgreSQL instance and its SSH host.
	Host string `json:"host"`

	// Port is the PostgreSQL port.
	Port int `json:"port"`

	// User is the PostgreSQL role used for monitoring queries.
	User string `json:"user"`

	// Password is the PostgreSQL password (encrypted at rest).
	Password string `json:"password"`

	// SSHUser is the login for host-level disk metrics.
	SSHUser string `json:"ssh_user"`

	// SSHPassword is the SSH password (encrypted at rest); empty in key mode.
	SSHPassword string `json:"ssh_password"`

	// SSHPort is the SSH port, 22 by default.
	SSHPort int `json:"ssh_port"`

	// SSHAuthType selects password or key authentication.
	SSHAuthType SSHAuthType `json:"ssh_auth_type"`

	// SSHKeyID references a stored key when SSHAuthType is key.
	SSHKeyID string `json:"ssh_key_id,omitempty"`

	// SSHKeyPassphrase unlocks the referenced key (encrypted at rest).
	SSHKeyPassphrase string `json:"ssh_key_passphrase,omitempty"`

	// CreatedAt is when the server was registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the server was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates the server definition.
func (s *Server) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrInvalidServerName
	}
	if strings.TrimSpace(s.Host) == "" {
		return ErrInvalidHost
	}
	if s.Port <= 0 || s.Port > 65535 {
		return ErrInvalidHost
	}
	if s.SSHPort <= 0 || s.SSHPort > 65535 {
		return ErrInvalidHost
	}
	if !s.SSHAuthType.IsValid() {
		return ErrInvalidAuthType
	}
	if s.SSHAuthType == SSHAuthKey && s.SSHKeyID == "" {
		return ErrInvalidAuthType
	}
	return nil
}

// UsesKey returns true if the server authenticates over SSH with a stored key.
func (s *Server) UsesKey() bool {
	return s.SSHAuthType == SSHAuthKey && s.SSHKeyID != ""
}

// ServerPatch is a partial server update. Nil fields keep their stored
// value; password fields that arrive already encrypted are stored verbatim.
type ServerPatch struct {
	Host             *string      `json:"host,omitempty"`
	Port             *int         `json:"port,omitempty"`
	User             *string      `json:"user,omitempty"`
	Password         *string      `json:"password,omitempty"`
	SSHUser          *string      `json:"ssh_user,omitempty"`
	SSHPassword      *string      `json:"ssh_password,omitempty"`
	SSHPort          *int         `json:"ssh_port,omitempty"`
	SSHAuthType      *SSHAuthType `json:"ssh_auth_type,omitempty"`
	SSHKeyID         *string      `json:"ssh_key_id,omitempty"`
	SSHKeyPassphrase *string      `json:"ssh_key_passphrase,omitempty"`
}

// Empty returns true when the patch carries no changes.
func (p *ServerPatch) Empty() bool {
	return p.Host == nil && p.Port == nil && p.User == nil && p.Password == nil &&
		p.SSHUser == nil && p.SSHPassword == nil && p.SSHPort == nil &&
		p.SSHAuthType == nil && p.SSHKeyID == nil && p.SSHKeyPassphrase == nil
}
