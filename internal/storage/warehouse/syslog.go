package warehouse

import (
	"context"
	"fmt"
	"time"

	"pgmon/internal/domain"
)

// SystemLogRepository stores the scheduler's per-cycle journal, readable
// through the logs API.
type SystemLogRepository struct {
	store *Store
}

// Insert appends one entry.
func (r *SystemLogRepository) Insert(ctx context.Context, entry *domain.SystemLogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO system_log (timestamp, level, source, message, details)
		VALUES ($1, $2, $3, $4, $5)
	`,
		ts,
		string(entry.Level),
		entry.Source,
		entry.Message,
		nullString(entry.Details),
	)
	if err != nil {
		return fmt.Errorf("failed to insert system log entry: %w", err)
	}
	return nil
}

// List returns a filtered page of entries, newest first, plus the unpaged
// total.
func (r *SystemLogRepository) List(ctx context.Context, filter domain.SystemLogFilter) (*domain.SystemLogPage, error) {
	where := ""
	args := []any{}
	argIdx := 1

	and := func(cond string, values ...any) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		idx := make([]any, len(values))
		for i := range values {
			idx[i] = argIdx + i
		}
		where += fmt.Sprintf(cond, idx...)
		args = append(args, values...)
		argIdx += len(values)
	}

	if filter.Level != "" {
		and("level = $%d", string(filter.Level))
	}
	if filter.Source != "" {
		and("source = $%d", filter.Source)
	}
	if filter.Search != "" {
		and("(message ILIKE $%d OR details ILIKE $%d)", "%"+filter.Search+"%", "%"+filter.Search+"%")
	}
	if !filter.From.IsZero() {
		and("timestamp >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		and("timestamp <= $%d", filter.To)
	}

	var total int
	err := r.store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM system_log"+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count system log entries: %w", err)
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT timestamp, level, source, message, details
		FROM system_log%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query system log: %w", err)
	}
	defer rows.Close()

	items := []domain.SystemLogEntry{}
	for rows.Next() {
		var (
			e       domain.SystemLogEntry
			level   string
			details *string
		)
		if err := rows.Scan(&e.Timestamp, &level, &e.Source, &e.Message, &details); err != nil {
			return nil, fmt.Errorf("failed to scan system log entry: %w", err)
		}
		e.Level = domain.LogLevel(level)
		if details != nil {
			e.Details = *details
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read system log: %w", err)
	}

	return &domain.SystemLogPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Stats aggregates log volume for the logs dashboard.
func (r *SystemLogRepository) Stats(ctx context.Context) (*domain.SystemLogStats, error) {
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var stats domain.SystemLogStats
	err := r.store.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE level = 'error' AND timestamp >= $1),
			COUNT(*) FILTER (WHERE level = 'warning' AND timestamp >= $1)
		FROM system_log
	`, todayStart).Scan(&stats.Total, &stats.ErrorsToday, &stats.WarningsToday)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate system log stats: %w", err)
	}
	return &stats, nil
}

// PurgeOlderThan removes entries past the retention window. Returns the
// number of rows removed.
func (r *SystemLogRepository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	removed, err := r.store.pool.Exec(ctx,
		"DELETE FROM system_log WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge system log: %w", err)
	}
	return removed, nil
}
