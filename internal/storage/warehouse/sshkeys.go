package warehouse

import (
	"context"
	"errors"
	"fmt"

	"pgmon/internal/domain"

	"github.com/jackc/pgx/v5"
)

// SSHKeyRepository stores SSH key material. Private keys are encrypted at
// rest and only leave the repository through PrivateKey; list and get
// return metadata plus the public half.
type SSHKeyRepository struct {
	store *Store
}

const sshKeyColumns = `k.id, k.name, k.fingerprint, k.key_type, k.public_key,
	k.created_by, k.created_at, k.has_passphrase, k.description, COUNT(s.name)`

const sshKeyJoin = `FROM ssh_keys k LEFT JOIN servers s ON s.ssh_key_id = k.id`

const sshKeyGroup = `GROUP BY k.id`

// List returns all stored keys with their reference counts, oldest first.
func (r *SSHKeyRepository) List(ctx context.Context) ([]domain.SSHKey, error) {
	rows, err := r.store.pool.Query(ctx,
		"SELECT "+sshKeyColumns+" "+sshKeyJoin+" "+sshKeyGroup+" ORDER BY k.created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query ssh keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.SSHKey
	for rows.Next() {
		key, err := scanSSHKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ssh keys: %w", err)
	}
	return keys, nil
}

// Get returns one key's metadata by id.
func (r *SSHKeyRepository) Get(ctx context.Context, id string) (*domain.SSHKey, error) {
	row := r.store.pool.QueryRow(ctx,
		"SELECT "+sshKeyColumns+" "+sshKeyJoin+" WHERE k.id = $1 "+sshKeyGroup, id)
	return scanSSHKey(row)
}

// GetByFingerprint returns the key holding the given fingerprint, if any.
// Import uses this to name the existing key on a duplicate.
func (r *SSHKeyRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.SSHKey, error) {
	row := r.store.pool.QueryRow(ctx,
		"SELECT "+sshKeyColumns+" "+sshKeyJoin+" WHERE k.fingerprint = $1 "+sshKeyGroup, fingerprint)
	return scanSSHKey(row)
}

// Create stores a key; the private PEM is encrypted before it touches the
// wire.
func (r *SSHKeyRepository) Create(ctx context.Context, key *domain.SSHKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	privateEnc, err := r.store.box.EnsureEncrypted(key.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt private key: %w", err)
	}

	err = r.store.pool.QueryRow(ctx, `
		INSERT INTO ssh_keys (id, name, fingerprint, key_type, public_key,
			private_key_enc, created_by, has_passphrase, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`,
		key.ID,
		key.Name,
		key.Fingerprint,
		string(key.KeyType),
		key.PublicKey,
		privateEnc,
		key.CreatedBy,
		key.HasPassphrase,
		nullString(key.Description),
	).Scan(&key.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrKeyExists
		}
		return fmt.Errorf("failed to create ssh key: %w", err)
	}
	return nil
}

// Update changes the mutable metadata: name and description. Nil patch
// fields keep their stored values.
func (r *SSHKeyRepository) Update(ctx context.Context, id string, name, description *string) error {
	if name == nil && description == nil {
		return fmt.Errorf("%w: empty update", domain.ErrInvalidInput)
	}

	setParts := []string{}
	args := []any{id}
	argIdx := 2

	if name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *name)
		argIdx++
	}
	if description != nil {
		setParts = append(setParts, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, nullString(*description))
		argIdx++
	}

	query := "UPDATE ssh_keys SET "
	for i, part := range setParts {
		if i > 0 {
			query += ", "
		}
		query += part
	}
	query += " WHERE id = $1"

	affected, err := r.store.pool.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrKeyExists
		}
		return fmt.Errorf("failed to update ssh key %s: %w", id, err)
	}
	if affected == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}

// Delete removes a key. Keys still referenced by servers are refused with
// ErrKeyInUse; callers list the referencing servers for the error message.
func (r *SSHKeyRepository) Delete(ctx context.Context, id string) error {
	count, err := r.ServersCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrKeyInUse
	}

	affected, err := r.store.pool.Exec(ctx, "DELETE FROM ssh_keys WHERE id = $1", id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrKeyInUse
		}
		return fmt.Errorf("failed to delete ssh key %s: %w", id, err)
	}
	if affected == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}

// PrivateKey returns the decrypted private PEM for SSH sessions.
func (r *SSHKeyRepository) PrivateKey(ctx context.Context, id string) (string, error) {
	var enc string
	err := r.store.pool.QueryRow(ctx,
		"SELECT private_key_enc FROM ssh_keys WHERE id = $1", id,
	).Scan(&enc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to read private key %s: %w", id, err)
	}

	if fixed, repaired := r.store.box.FixDoubleEncryption(enc); repaired {
		r.store.log.Error("repaired double-encrypted private key", "key_id", id)
		if _, err := r.store.pool.Exec(ctx,
			"UPDATE ssh_keys SET private_key_enc = $2 WHERE id = $1", id, fixed,
		); err != nil {
			return "", fmt.Errorf("failed to rewrite private key %s: %w", id, err)
		}
		enc = fixed
	}

	pem, err := r.store.box.DecryptString(enc)
	if err != nil {
		return "", fmt.Errorf("ssh key %s: %w", id, err)
	}
	return pem, nil
}

// ServersCount returns how many servers reference the key.
func (r *SSHKeyRepository) ServersCount(ctx context.Context, id string) (int, error) {
	var count int
	err := r.store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM servers WHERE ssh_key_id = $1", id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count key references: %w", err)
	}
	return count, nil
}

// ServersUsing returns the names of servers referencing the key.
func (r *SSHKeyRepository) ServersUsing(ctx context.Context, id string) ([]string, error) {
	rows, err := r.store.pool.Query(ctx,
		"SELECT name FROM servers WHERE ssh_key_id = $1 ORDER BY name", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query key references: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan server name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read key references: %w", err)
	}
	return names, nil
}

func scanSSHKey(row pgx.Row) (*domain.SSHKey, error) {
	var (
		key         domain.SSHKey
		keyType     string
		description *string
	)

	err := row.Scan(
		&key.ID,
		&key.Name,
		&key.Fingerprint,
		&keyType,
		&key.PublicKey,
		&key.CreatedBy,
		&key.CreatedAt,
		&key.HasPassphrase,
		&description,
		&key.ServersCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to scan ssh key: %w", err)
	}

	key.KeyType = domain.KeyType(keyType)
	if description != nil {
		key.Description = *description
	}
	return &key, nil
}
