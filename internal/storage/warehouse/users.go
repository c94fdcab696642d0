package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pgmon/internal/domain"

	"github.com/jackc/pgx/v5"
)

// UserRepository stores operator accounts. Password hashing happens in the
// auth service; this repository only ever sees bcrypt hashes.
type UserRepository struct {
	store *Store
}

// UserUpdate is a partial account update at the storage level. Nil fields
// keep their stored values.
type UserUpdate struct {
	PasswordHash *string
	Role         *domain.UserRole
	Email        *string
	IsActive     *bool
}

const userColumns = `login, password_hash, role, email, is_active, created_at, updated_at, last_login`

// List returns all accounts ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.store.pool.Query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}

// Get returns one account by login.
func (r *UserRepository) Get(ctx context.Context, login string) (*domain.User, error) {
	row := r.store.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE login = $1", login)
	return scanUser(row)
}

// Create adds an account. The caller provides the bcrypt hash.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if user.PasswordHash == "" {
		return fmt.Errorf("%w: password hash required", domain.ErrInvalidInput)
	}

	err := r.store.pool.QueryRow(ctx, `
		INSERT INTO users (login, password_hash, role, email, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`,
		user.Login,
		user.PasswordHash,
		string(user.Role),
		nullString(user.Email),
		user.IsActive,
	).Scan(&user.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Update applies a partial update. Demoting or deactivating the last
// active admin is refused so the deployment cannot lock itself out.
func (r *UserRepository) Update(ctx context.Context, login string, update UserUpdate) error {
	if update.PasswordHash == nil && update.Role == nil && update.Email == nil && update.IsActive == nil {
		return fmt.Errorf("%w: empty update", domain.ErrInvalidInput)
	}
	if update.Role != nil && !update.Role.IsValid() {
		return domain.ErrInvalidUserRole
	}

	demotes := update.Role != nil && *update.Role != domain.UserRoleAdmin
	deactivates := update.IsActive != nil && !*update.IsActive
	if demotes || deactivates {
		if err := r.guardLastAdmin(ctx, login); err != nil {
			return err
		}
	}

	setParts := []string{}
	args := []any{login}
	argIdx := 2

	add := func(column string, value any) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if update.PasswordHash != nil {
		add("password_hash", *update.PasswordHash)
	}
	if update.Role != nil {
		add("role", string(*update.Role))
	}
	if update.Email != nil {
		add("email", nullString(*update.Email))
	}
	if update.IsActive != nil {
		add("is_active", *update.IsActive)
	}

	query := "UPDATE users SET "
	for i, part := range setParts {
		if i > 0 {
			query += ", "
		}
		query += part
	}
	query += ", updated_at = now() WHERE login = $1"

	affected, err := r.store.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", login, err)
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Delete removes an account, refusing to remove the last active admin.
func (r *UserRepository) Delete(ctx context.Context, login string) error {
	if err := r.guardLastAdmin(ctx, login); err != nil {
		return err
	}

	affected, err := r.store.pool.Exec(ctx, "DELETE FROM users WHERE login = $1", login)
	if err != nil {
		return fmt.Errorf("failed to delete user %s: %w", login, err)
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// TouchLastLogin records a successful authentication.
func (r *UserRepository) TouchLastLogin(ctx context.Context, login string) error {
	_, err := r.store.pool.Exec(ctx,
		"UPDATE users SET last_login = now() WHERE login = $1", login)
	if err != nil {
		return fmt.Errorf("failed to touch last_login for %s: %w", login, err)
	}
	return nil
}

// Count returns the number of accounts; the daemon seeds an initial admin
// when this is zero.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.store.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// guardLastAdmin returns ErrLastAdmin when login is the only remaining
// active admin.
func (r *UserRepository) guardLastAdmin(ctx context.Context, login string) error {
	var isTargetActiveAdmin bool
	err := r.store.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM users WHERE login = $1 AND role = 'admin' AND is_active
		)
	`, login).Scan(&isTargetActiveAdmin)
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if !isTargetActiveAdmin {
		return nil
	}

	var activeAdmins int
	err = r.store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM users WHERE role = 'admin' AND is_active",
	).Scan(&activeAdmins)
	if err != nil {
		return fmt.Errorf("failed to count active admins: %w", err)
	}
	if activeAdmins <= 1 {
		return domain.ErrLastAdmin
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user      domain.User
		role      string
		email     *string
		updatedAt *time.Time
	)

	err := row.Scan(
		&user.Login,
		&user.PasswordHash,
		&role,
		&email,
		&user.IsActive,
		&user.CreatedAt,
		&updatedAt,
		&user.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.Role = domain.UserRole(role)
	if email != nil {
		user.Email = *email
	}
	if updatedAt != nil {
		user.UpdatedAt = *updatedAt
	}
	return &user, nil
}
