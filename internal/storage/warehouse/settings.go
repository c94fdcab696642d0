package warehouse

import (
	"context"
	"errors"
	"fmt"

	"pgmon/internal/domain"

	"github.com/jackc/pgx/v5"
)

// SettingsRepository stores the runtime-tunable settings the scheduler
// re-reads on every iteration.
type SettingsRepository struct {
	store *Store
}

// All returns every setting ordered by key.
func (r *SettingsRepository) All(ctx context.Context) ([]domain.Setting, error) {
	rows, err := r.store.pool.Query(ctx,
		"SELECT key, value, value_type, description, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []domain.Setting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return settings, nil
}

// Get returns one setting.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*domain.Setting, error) {
	row := r.store.pool.QueryRow(ctx,
		"SELECT key, value, value_type, description, updated_at FROM settings WHERE key = $1", key)
	return scanSetting(row)
}

// GetInt returns an integer setting, falling back to def when the row is
// missing or does not parse. The scheduler calls this every cycle, so a
// corrupted row degrades to the configured default instead of stopping
// collection.
func (r *SettingsRepository) GetInt(ctx context.Context, key string, def int64) int64 {
	s, err := r.Get(ctx, key)
	if err != nil {
		return def
	}
	n, ok := s.Value.Int()
	if !ok {
		return def
	}
	return n
}

// Update validates and applies a batch of setting changes atomically.
// Unknown keys, type mismatches, and out-of-bounds values are all refused
// before anything is written.
func (r *SettingsRepository) Update(ctx context.Context, updates map[string]domain.SettingValue) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: no settings provided", domain.ErrInvalidInput)
	}

	for key, value := range updates {
		current, err := r.Get(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrSettingNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrSettingNotFound, key)
			}
			return err
		}
		if value.Type() != current.Value.Type() {
			return fmt.Errorf("%w: %s expects %s", domain.ErrInvalidSettingType, key, current.Value.Type())
		}
		if err := domain.ValidateSetting(key, value); err != nil {
			return err
		}
	}

	return r.store.pool.Execute(ctx, func(tx pgx.Tx) error {
		for key, value := range updates {
			if _, err := tx.Exec(ctx,
				"UPDATE settings SET value = $1, updated_at = now() WHERE key = $2",
				value.String(), key,
			); err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// Seed inserts the default settings rows, leaving existing values alone.
func (r *SettingsRepository) Seed(ctx context.Context) error {
	return r.store.pool.Execute(ctx, func(tx pgx.Tx) error {
		for _, s := range domain.DefaultSettings() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO settings (key, value, value_type, description)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (key) DO NOTHING
			`, s.Key, s.Value.String(), string(s.Value.Type()), s.Description); err != nil {
				return fmt.Errorf("failed to seed setting %s: %w", s.Key, err)
			}
		}
		return nil
	})
}

func scanSetting(row pgx.Row) (*domain.Setting, error) {
	var (
		s           domain.Setting
		raw         string
		valueType   string
		description *string
	)

	err := row.Scan(&s.Key, &raw, &valueType, &description, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSettingNotFound
		}
		return nil, fmt.Errorf("failed to scan setting: %w", err)
	}

	value, err := domain.ParseSettingValue(domain.SettingType(valueType), raw)
	if err != nil {
		return nil, fmt.Errorf("setting %s: %w", s.Key, err)
	}
	s.Value = value
	if description != nil {
		s.Description = *description
	}
	return &s, nil
}
