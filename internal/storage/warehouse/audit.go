package warehouse

import (
	"context"
	"fmt"
	"time"

	"pgmon/internal/domain"
)

// AuditRepository is the append-only authentication audit trail.
type AuditRepository struct {
	store *Store
}

// Insert appends one event. Audit writes never fail the operation being
// audited; callers log and continue on error.
func (r *AuditRepository) Insert(ctx context.Context, event *domain.AuditEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO audit_sessions (timestamp, event_type, username, ip_address, user_agent, jti, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		ts,
		string(event.EventType),
		event.Username,
		nullString(event.IPAddress),
		nullString(event.UserAgent),
		nullString(event.JTI),
		nullString(event.Details),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// List returns a filtered page of events, newest first, plus the unpaged
// total.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) (*domain.AuditPage, error) {
	where := ""
	args := []any{}
	argIdx := 1

	and := func(cond string, value any) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, argIdx)
		args = append(args, value)
		argIdx++
	}

	if filter.Username != "" {
		and("username = $%d", filter.Username)
	}
	if filter.EventType != "" {
		and("event_type = $%d", string(filter.EventType))
	}
	if !filter.From.IsZero() {
		and("timestamp >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		and("timestamp <= $%d", filter.To)
	}

	var total int
	err := r.store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_sessions"+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT id, timestamp, event_type, username, ip_address, user_agent, jti, details
		FROM audit_sessions%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	items := []domain.AuditEvent{}
	for rows.Next() {
		var (
			e         domain.AuditEvent
			eventType string
			ip        *string
			agent     *string
			jti       *string
			details   *string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &e.Username, &ip, &agent, &jti, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.EventType = domain.AuditEventType(eventType)
		if ip != nil {
			e.IPAddress = *ip
		}
		if agent != nil {
			e.UserAgent = *agent
		}
		if jti != nil {
			e.JTI = *jti
		}
		if details != nil {
			e.Details = *details
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}

	return &domain.AuditPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Stats aggregates login activity for the sessions dashboard.
func (r *AuditRepository) Stats(ctx context.Context) (*domain.AuditStats, error) {
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekAgo := now.AddDate(0, 0, -7)

	var stats domain.AuditStats
	err := r.store.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE event_type = 'login_success' AND timestamp >= $1),
			COUNT(DISTINCT username) FILTER (WHERE event_type = 'login_success' AND timestamp >= $2),
			COUNT(*) FILTER (WHERE event_type = 'login_failed'),
			COUNT(*) FILTER (WHERE event_type = 'login_failed' AND timestamp >= $1)
		FROM audit_sessions
	`, todayStart, weekAgo).Scan(
		&stats.TotalEvents,
		&stats.LoginsToday,
		&stats.UniqueUsersWeek,
		&stats.FailedTotal,
		&stats.FailedToday,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit stats: %w", err)
	}
	return &stats, nil
}

// PurgeOlderThan removes events past the retention window. Returns the
// number of rows removed.
func (r *AuditRepository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	removed, err := r.store.pool.Exec(ctx,
		"DELETE FROM audit_sessions WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return removed, nil
}

// pageBounds clamps pagination to limit 1-500 (default 50), offset >= 0.
func pageBounds(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
