package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// partitionPattern matches managed monthly partitions of statistics.
var partitionPattern = regexp.MustCompile(`^statistics_(\d{4})_(\d{2})$`)

// partitionName returns the partition holding samples from t's month.
func partitionName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("statistics_%d_%02d", t.Year(), int(t.Month()))
}

// monthRange returns the UTC bounds [first of month, first of next month)
// for the month containing t.
func monthRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// parsePartitionName extracts year and month from a managed partition name.
func parsePartitionName(name string) (year, month int, ok bool) {
	m := partitionPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	month, err = strconv.Atoi(m[2])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, false
	}
	return year, month, true
}

// olderThanMonth reports whether (year, month) is strictly before
// (cutoffYear, cutoffMonth).
func olderThanMonth(year, month, cutoffYear, cutoffMonth int) bool {
	return year < cutoffYear || (year == cutoffYear && month < cutoffMonth)
}

// EnsurePartitions creates the partitions for the current month and the
// next two, so a collector never writes into a missing range.
func (s *Store) EnsurePartitions(ctx context.Context) error {
	return s.ensurePartitionsAt(ctx, time.Now().UTC())
}

func (s *Store) ensurePartitionsAt(ctx context.Context, now time.Time) error {
	for offset := 0; offset < 3; offset++ {
		month := now.AddDate(0, offset, 0)
		name := partitionName(month)
		start, end := monthRange(month)

		var exists bool
		err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM pg_class WHERE relname = $1)", name,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check partition %s: %w", name, err)
		}
		if exists {
			continue
		}

		// The name is built from validated integers, never from input.
		stmt := fmt.Sprintf(
			"CREATE TABLE %s PARTITION OF statistics FOR VALUES FROM ('%s') TO ('%s')",
			name, start.Format(time.RFC3339), end.Format(time.RFC3339),
		)
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create partition %s: %w", name, err)
		}
		s.log.Info("created partition", "partition", name)
	}
	return nil
}

// CleanupOldPartitions drops managed partitions whose month is strictly
// older than retentionMonths before the current month. Tables that merely
// resemble partitions but do not parse are left alone.
func (s *Store) CleanupOldPartitions(ctx context.Context, retentionMonths int) (int, error) {
	return s.cleanupOldPartitionsAt(ctx, time.Now().UTC(), retentionMonths)
}

func (s *Store) cleanupOldPartitionsAt(ctx context.Context, now time.Time, retentionMonths int) (int, error) {
	if retentionMonths < 1 {
		retentionMonths = 1
	}
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	cutoff := firstOfMonth.AddDate(0, -retentionMonths, 0)
	cutoffYear, cutoffMonth := cutoff.Year(), int(cutoff.Month())

	rows, err := s.pool.Query(ctx, `
		SELECT relname FROM pg_class
		WHERE relname ~ '^statistics_\d{4}_\d{2}$' AND relkind = 'r'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, fmt.Errorf("failed to scan partition name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read partitions: %w", err)
	}
	rows.Close()

	dropped := 0
	for _, name := range names {
		year, month, ok := parsePartitionName(name)
		if !ok {
			continue
		}
		if !olderThanMonth(year, month, cutoffYear, cutoffMonth) {
			continue
		}
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
			return dropped, fmt.Errorf("failed to drop partition %s: %w", name, err)
		}
		s.log.Info("dropped expired partition", "partition", name)
		dropped++
	}
	return dropped, nil
}

// DeleteServerData removes every trace of a server from the time series.
// Called when the server is deregistered.
func (s *Store) DeleteServerData(ctx context.Context, serverName string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM statistics WHERE server_name = $1", serverName); err != nil {
		return fmt.Errorf("failed to delete statistics for %s: %w", serverName, err)
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM db_info WHERE server_name = $1", serverName); err != nil {
		return fmt.Errorf("failed to delete db_info for %s: %w", serverName, err)
	}
	return nil
}

// DeleteDatabaseData removes one database's history, used when a database
// is dropped or recreated on a monitored server.
func (s *Store) DeleteDatabaseData(ctx context.Context, serverName, datname string) error {
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM statistics WHERE server_name = $1 AND datname = $2",
		serverName, datname,
	); err != nil {
		return fmt.Errorf("failed to delete statistics for %s/%s: %w", serverName, datname, err)
	}
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM db_info WHERE server_name = $1 AND datname = $2",
		serverName, datname,
	); err != nil {
		return fmt.Errorf("failed to delete db_info for %s/%s: %w", serverName, datname, err)
	}
	return nil
}
