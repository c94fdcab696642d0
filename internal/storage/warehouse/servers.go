package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pgmon/internal/domain"

	"github.com/jackc/pgx/v5"
)

// ServerRepository is the encrypted target registry. Credentials are
// encrypted on write and decrypted on read; nothing outside this type sees
// ciphertext.
type ServerRepository struct {
	store *Store
}

const serverColumns = `name, host, port, pg_user, password_enc, ssh_user, ssh_password_enc,
	ssh_port, ssh_auth_type, ssh_key_id, ssh_key_passphrase_enc, created_at, updated_at`

// List returns all registered servers with decrypted credentials, ordered
// by name.
func (r *ServerRepository) List(ctx context.Context) ([]domain.Server, error) {
	rows, err := r.store.pool.Query(ctx,
		"SELECT "+serverColumns+" FROM servers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query servers: %w", err)
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		srv, err := r.scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read servers: %w", err)
	}
	rows.Close()

	for i := range servers {
		if err := r.decryptInPlace(ctx, &servers[i]); err != nil {
			return nil, err
		}
	}
	return servers, nil
}

// Get returns one server with decrypted credentials.
func (r *ServerRepository) Get(ctx context.Context, name string) (*domain.Server, error) {
	row := r.store.pool.QueryRow(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE name = $1", name)

	srv, err := r.scanServer(row)
	if err != nil {
		return nil, err
	}
	if err := r.decryptInPlace(ctx, srv); err != nil {
		return nil, err
	}
	return srv, nil
}

// Create registers a server. Credential fields are encrypted exactly once:
// values that already parse as our ciphertext are stored verbatim.
func (r *ServerRepository) Create(ctx context.Context, srv *domain.Server) error {
	if err := srv.Validate(); err != nil {
		return err
	}

	passwordEnc, err := r.store.box.EnsureEncrypted(srv.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	sshPasswordEnc, err := r.store.box.EnsureEncrypted(srv.SSHPassword)
	if err != nil {
		return fmt.Errorf("failed to encrypt ssh password: %w", err)
	}
	passphraseEnc, err := r.store.box.EnsureEncrypted(srv.SSHKeyPassphrase)
	if err != nil {
		return fmt.Errorf("failed to encrypt passphrase: %w", err)
	}

	err = r.store.pool.QueryRow(ctx, `
		INSERT INTO servers (name, host, port, pg_user, password_enc, ssh_user,
			ssh_password_enc, ssh_port, ssh_auth_type, ssh_key_id, ssh_key_passphrase_enc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`,
		srv.Name,
		srv.Host,
		srv.Port,
		srv.User,
		nullString(passwordEnc),
		srv.SSHUser,
		nullString(sshPasswordEnc),
		srv.SSHPort,
		string(srv.SSHAuthType),
		nullString(srv.SSHKeyID),
		nullString(passphraseEnc),
	).Scan(&srv.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrServerExists
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: ssh key %s", domain.ErrKeyNotFound, srv.SSHKeyID)
		}
		return fmt.Errorf("failed to create server: %w", err)
	}
	return nil
}

// Update applies a partial update; nil patch fields keep their stored
// values. Credential fields arriving already encrypted are stored verbatim
// so a client echoing a read back never double-wraps.
func (r *ServerRepository) Update(ctx context.Context, name string, patch *domain.ServerPatch) error {
	if patch.Empty() {
		return fmt.Errorf("%w: empty update", domain.ErrInvalidInput)
	}
	if patch.SSHAuthType != nil && !patch.SSHAuthType.IsValid() {
		return domain.ErrInvalidAuthType
	}

	setParts := []string{}
	args := []any{name}
	argIdx := 2

	add := func(column string, value any) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if patch.Host != nil {
		add("host", *patch.Host)
	}
	if patch.Port != nil {
		add("port", *patch.Port)
	}
	if patch.User != nil {
		add("pg_user", *patch.User)
	}
	if patch.Password != nil {
		enc, err := r.store.box.EnsureEncrypted(*patch.Password)
		if err != nil {
			return fmt.Errorf("failed to encrypt password: %w", err)
		}
		add("password_enc", nullString(enc))
	}
	if patch.SSHUser != nil {
		add("ssh_user", *patch.SSHUser)
	}
	if patch.SSHPassword != nil {
		enc, err := r.store.box.EnsureEncrypted(*patch.SSHPassword)
		if err != nil {
			return fmt.Errorf("failed to encrypt ssh password: %w", err)
		}
		add("ssh_password_enc", nullString(enc))
	}
	if patch.SSHPort != nil {
		add("ssh_port", *patch.SSHPort)
	}
	if patch.SSHAuthType != nil {
		add("ssh_auth_type", string(*patch.SSHAuthType))
	}
	if patch.SSHKeyID != nil {
		add("ssh_key_id", nullString(*patch.SSHKeyID))
	}
	if patch.SSHKeyPassphrase != nil {
		enc, err := r.store.box.EnsureEncrypted(*patch.SSHKeyPassphrase)
		if err != nil {
			return fmt.Errorf("failed to encrypt passphrase: %w", err)
		}
		add("ssh_key_passphrase_enc", nullString(enc))
	}

	query := "UPDATE servers SET "
	for i, part := range setParts {
		if i > 0 {
			query += ", "
		}
		query += part
	}
	query += ", updated_at = now() WHERE name = $1"

	affected, err := r.store.pool.Exec(ctx, query, args...)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: ssh key", domain.ErrKeyNotFound)
		}
		return fmt.Errorf("failed to update server %s: %w", name, err)
	}
	if affected == 0 {
		return domain.ErrServerNotFound
	}
	return nil
}

// Delete removes a server from the registry. Collected history is removed
// separately via DeleteServerData.
func (r *ServerRepository) Delete(ctx context.Context, name string) error {
	affected, err := r.store.pool.Exec(ctx, "DELETE FROM servers WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("failed to delete server %s: %w", name, err)
	}
	if affected == 0 {
		return domain.ErrServerNotFound
	}
	return nil
}

// Exists reports whether a server name is registered.
func (r *ServerRepository) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.store.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM servers WHERE name = $1)", name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check server %s: %w", name, err)
	}
	return exists, nil
}

// scanServer reads one row; credentials stay encrypted until
// decryptInPlace runs.
func (r *ServerRepository) scanServer(row pgx.Row) (*domain.Server, error) {
	var (
		srv           domain.Server
		passwordEnc   *string
		sshPassEnc    *string
		authType      string
		sshKeyID      *string
		passphraseEnc *string
		updatedAt     *time.Time
	)

	err := row.Scan(
		&srv.Name,
		&srv.Host,
		&srv.Port,
		&srv.User,
		&passwordEnc,
		&srv.SSHUser,
		&sshPassEnc,
		&srv.SSHPort,
		&authType,
		&sshKeyID,
		&passphraseEnc,
		&srv.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrServerNotFound
		}
		return nil, fmt.Errorf("failed to scan server: %w", err)
	}

	srv.SSHAuthType = domain.SSHAuthType(authType)
	if passwordEnc != nil {
		srv.Password = *passwordEnc
	}
	if sshPassEnc != nil {
		srv.SSHPassword = *sshPassEnc
	}
	if sshKeyID != nil {
		srv.SSHKeyID = *sshKeyID
	}
	if passphraseEnc != nil {
		srv.SSHKeyPassphrase = *passphraseEnc
	}
	if updatedAt != nil {
		srv.UpdatedAt = *updatedAt
	}
	return &srv, nil
}

// decryptInPlace replaces the encrypted credential fields with plaintext.
// A value that was wrapped twice by an old writer is repaired to single
// encryption and rewritten before decrypting.
func (r *ServerRepository) decryptInPlace(ctx context.Context, srv *domain.Server) error {
	repaired := false

	fix := func(value *string) {
		fixed, wasDouble := r.store.box.FixDoubleEncryption(*value)
		if wasDouble {
			*value = fixed
			repaired = true
		}
	}
	fix(&srv.Password)
	fix(&srv.SSHPassword)
	fix(&srv.SSHKeyPassphrase)

	if repaired {
		r.store.log.Error("repaired double-encrypted credentials", "server", srv.Name)
		if err := r.rewriteCredentials(ctx, srv); err != nil {
			return err
		}
	}

	var err error
	if srv.Password, err = r.store.box.DecryptString(srv.Password); err != nil {
		return fmt.Errorf("server %s password: %w", srv.Name, err)
	}
	if srv.SSHPassword, err = r.store.box.DecryptString(srv.SSHPassword); err != nil {
		return fmt.Errorf("server %s ssh password: %w", srv.Name, err)
	}
	if srv.SSHKeyPassphrase, err = r.store.box.DecryptString(srv.SSHKeyPassphrase); err != nil {
		return fmt.Errorf("server %s passphrase: %w", srv.Name, err)
	}
	return nil
}

func (r *ServerRepository) rewriteCredentials(ctx context.Context, srv *domain.Server) error {
	_, err := r.store.pool.Exec(ctx, `
		UPDATE servers
		SET password_enc = $2, ssh_password_enc = $3, ssh_key_passphrase_enc = $4
		WHERE name = $1
	`,
		srv.Name,
		nullString(srv.Password),
		nullString(srv.SSHPassword),
		nullString(srv.SSHKeyPassphrase),
	)
	if err != nil {
		return fmt.Errorf("failed to rewrite credentials for %s: %w", srv.Name, err)
	}
	return nil
}
