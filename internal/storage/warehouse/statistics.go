package warehouse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"pgmon/internal/domain"
)

// StatisticsRepository owns the partitioned statistics table: sample
// appends from the collectors and the aggregated reads behind the stats
// API.
type StatisticsRepository struct {
	store *Store
}

// bucketExprs maps each aggregation level to its SQL time-bucket
// expressions. Level names never reach the SQL text; only these fixed
// expressions do.
var bucketExprs = map[domain.AggregationLevel]struct {
	trunc string
	group string
}{
	domain.AggregationRaw: {
		trunc: "ts",
		group: "ts",
	},
	domain.AggregationHour: {
		trunc: "date_trunc('hour', ts)",
		group: "date_trunc('hour', ts)",
	},
	domain.AggregationFourHour: {
		trunc: "to_timestamp(floor(extract(epoch from ts) / 14400) * 14400)",
		group: "floor(extract(epoch from ts) / 14400)",
	},
	domain.AggregationDay: {
		trunc: "date_trunc('day', ts)",
		group: "date_trunc('day', ts)",
	},
}

// InsertSamples appends one collection cycle's samples under a single
// warehouse timestamp. Rows are inserted individually on one connection so
// a bad row costs only itself; per-row failures come back as messages, not
// an error.
func (r *StatisticsRepository) InsertSamples(ctx context.Context, samples []domain.StatSample) (int, []string, error) {
	if len(samples) == 0 {
		return 0, nil, nil
	}

	conn, err := r.store.pool.Acquire(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer conn.Release()

	// All rows of a cycle share the warehouse clock, not per-insert now(),
	// so a cycle groups into exactly one raw timeline point.
	var ts time.Time
	if err := conn.QueryRow(ctx, "SELECT now()").Scan(&ts); err != nil {
		return 0, nil, fmt.Errorf("failed to read warehouse clock: %w", err)
	}

	inserted := 0
	var failures []string
	for _, s := range samples {
		_, err := conn.Exec(ctx, `
			INSERT INTO statistics
				(server_name, ts, datname, numbackends, xact_commit, disk_free, disk_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			s.ServerName, ts, s.Datname, s.NumBackends, s.XactCommit, s.DiskFree, s.DiskTotal,
		)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", s.Datname, err))
			continue
		}
		inserted++
	}
	return inserted, failures, nil
}

// FillMissingSizes stamps a measured size onto every sample of a database
// still waiting for one. Returns the number of rows updated.
func (r *StatisticsRepository) FillMissingSizes(ctx context.Context, serverName, datname string, size int64) (int64, error) {
	updated, err := r.store.pool.Exec(ctx, `
		UPDATE statistics SET db_size = $1
		WHERE server_name = $2 AND datname = $3 AND db_size IS NULL
	`, size, serverName, datname)
	if err != nil {
		return 0, fmt.Errorf("failed to update db_size for %s/%s: %w", serverName, datname, err)
	}
	return updated, nil
}

// LastUpdate returns the newest sample timestamp for a server, or nil when
// none exist. Empty datname means any database.
func (r *StatisticsRepository) LastUpdate(ctx context.Context, serverName, datname string) (*time.Time, error) {
	var (
		last *time.Time
		err  error
	)
	if datname == "" {
		err = r.store.pool.QueryRow(ctx,
			"SELECT MAX(ts) FROM statistics WHERE server_name = $1",
			serverName,
		).Scan(&last)
	} else {
		err = r.store.pool.QueryRow(ctx,
			"SELECT MAX(ts) FROM statistics WHERE server_name = $1 AND datname = $2",
			serverName, datname,
		).Scan(&last)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sample time: %w", err)
	}
	return last, nil
}

// ServerTimeline returns the bucketed connection/size series for a server
// over [from, to], one point per bucket per database, and the aggregation
// level chosen for the range.
func (r *StatisticsRepository) ServerTimeline(ctx context.Context, serverName string, from, to time.Time) ([]domain.ServerTimelinePoint, domain.AggregationLevel, error) {
	level := domain.ChooseAggregation(from, to)
	agg := bucketExprs[level]

	query := fmt.Sprintf(`
		SELECT %s AS ts, datname,
		       AVG(numbackends)::float8,
		       MAX(db_size::float8 / (1048576 * 1024))
		FROM statistics
		WHERE server_name = $1 AND ts BETWEEN $2 AND $3
		GROUP BY %s, datname
		ORDER BY 1
	`, agg.trunc, agg.group)

	rows, err := r.store.pool.Query(ctx, query, serverName, from, to)
	if err != nil {
		return nil, level, fmt.Errorf("failed to query server timeline: %w", err)
	}
	defer rows.Close()

	points := []domain.ServerTimelinePoint{}
	for rows.Next() {
		var (
			p      domain.ServerTimelinePoint
			avg    *float64
			sizeGB *float64
		)
		if err := rows.Scan(&p.TS, &p.Datname, &avg, &sizeGB); err != nil {
			return nil, level, fmt.Errorf("failed to scan timeline point: %w", err)
		}
		if avg != nil {
			p.Connections = int(math.Round(*avg))
		}
		if sizeGB != nil {
			p.SizeGB = *sizeGB
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, level, fmt.Errorf("failed to read timeline: %w", err)
	}
	return points, level, nil
}

// ServerOverview summarizes a server's stored activity over [from, to].
// The Exists flags on Databases are left false; only a live target check
// can fill them.
func (r *StatisticsRepository) ServerOverview(ctx context.Context, serverName string, from, to time.Time) (*domain.ServerOverview, error) {
	overview := &domain.ServerOverview{
		Databases:          []domain.DatabaseStatus{},
		ConnectionTimeline: []domain.ServerTimelinePoint{},
	}

	last, err := r.LastUpdate(ctx, serverName, "")
	if err != nil {
		return nil, err
	}
	overview.LastStatUpdate = last

	var (
		totalConns  *int64
		totalSizeGB *float64
	)
	err = r.store.pool.QueryRow(ctx, `
		SELECT SUM(numbackends), SUM(db_size::float8 / (1048576 * 1024))
		FROM statistics
		WHERE server_name = $1 AND ts BETWEEN $2 AND $3
	`, serverName, from, to).Scan(&totalConns, &totalSizeGB)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate server stats: %w", err)
	}
	if totalConns != nil {
		overview.TotalConnections = *totalConns
	}
	if totalSizeGB != nil {
		overview.TotalSizeGB = *totalSizeGB
	}

	rows, err := r.store.pool.Query(ctx, `
		SELECT DISTINCT s.datname, d.creation_time
		FROM statistics s
		LEFT JOIN db_info d ON s.server_name = d.server_name AND s.datname = d.datname
		WHERE s.server_name = $1 AND s.ts BETWEEN $2 AND $3
	`, serverName, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list server databases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var db domain.DatabaseStatus
		if err := rows.Scan(&db.Name, &db.CreationTime); err != nil {
			return nil, fmt.Errorf("failed to scan database row: %w", err)
		}
		overview.Databases = append(overview.Databases, db)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read database rows: %w", err)
	}
	rows.Close()

	points, level, err := r.ServerTimeline(ctx, serverName, from, to)
	if err != nil {
		return nil, err
	}
	overview.ConnectionTimeline = points
	overview.Aggregation = level

	return overview, nil
}

// DatabaseTimeline returns the bucketed series for one database over
// [from, to] and the aggregation level chosen for the range.
func (r *StatisticsRepository) DatabaseTimeline(ctx context.Context, serverName, datname string, from, to time.Time) ([]domain.DatabaseTimelinePoint, domain.AggregationLevel, error) {
	level := domain.ChooseAggregation(from, to)
	agg := bucketExprs[level]

	query := fmt.Sprintf(`
		SELECT %s AS ts,
		       AVG(numbackends)::float8,
		       MAX(db_size::float8 / 1048576),
		       SUM(xact_commit)::bigint
		FROM statistics
		WHERE server_name = $1 AND datname = $2 AND ts BETWEEN $3 AND $4
		GROUP BY %s
		ORDER BY 1
	`, agg.trunc, agg.group)

	rows, err := r.store.pool.Query(ctx, query, serverName, datname, from, to)
	if err != nil {
		return nil, level, fmt.Errorf("failed to query database timeline: %w", err)
	}
	defer rows.Close()

	points := []domain.DatabaseTimelinePoint{}
	for rows.Next() {
		var (
			p       domain.DatabaseTimelinePoint
			avg     *float64
			sizeMB  *float64
			commits *int64
		)
		if err := rows.Scan(&p.TS, &avg, &sizeMB, &commits); err != nil {
			return nil, level, fmt.Errorf("failed to scan timeline point: %w", err)
		}
		if avg != nil {
			p.Connections = int(math.Round(*avg))
		}
		if sizeMB != nil {
			p.SizeMB = *sizeMB
		}
		if commits != nil {
			p.Commits = *commits
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, level, fmt.Errorf("failed to read timeline: %w", err)
	}
	return points, level, nil
}

// DatabaseOverview summarizes one database's stored activity over
// [from, to].
func (r *StatisticsRepository) DatabaseOverview(ctx context.Context, serverName, datname string, from, to time.Time) (*domain.DatabaseOverview, error) {
	overview := &domain.DatabaseOverview{
		Timeline: []domain.DatabaseTimelinePoint{},
	}

	last, err := r.LastUpdate(ctx, serverName, datname)
	if err != nil {
		return nil, err
	}
	overview.LastStatUpdate = last

	var (
		totalConns  *int64
		totalCommit *int64
		totalSizeMB *float64
		maxConns    *int
		minConns    *int
	)
	err = r.store.pool.QueryRow(ctx, `
		SELECT SUM(numbackends), SUM(xact_commit)::bigint, SUM(db_size::float8 / 1048576),
		       MAX(numbackends), MIN(numbackends)
		FROM statistics
		WHERE server_name = $1 AND datname = $2 AND ts BETWEEN $3 AND $4
	`, serverName, datname, from, to).Scan(&totalConns, &totalCommit, &totalSizeMB, &maxConns, &minConns)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate database stats: %w", err)
	}
	if totalConns != nil {
		overview.TotalConnections = *totalConns
	}
	if totalCommit != nil {
		overview.TotalCommits = *totalCommit
	}
	if totalSizeMB != nil {
		overview.TotalSizeMB = *totalSizeMB
	}
	if maxConns != nil {
		overview.MaxConnections = *maxConns
	}
	if minConns != nil {
		overview.MinConnections = *minConns
	}

	var creation *time.Time
	err = r.store.pool.QueryRow(ctx,
		"SELECT creation_time FROM db_info WHERE server_name = $1 AND datname = $2",
		serverName, datname,
	).Scan(&creation)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read creation time: %w", err)
	}
	overview.CreationTime = creation

	points, level, err := r.DatabaseTimeline(ctx, serverName, datname, from, to)
	if err != nil {
		return nil, err
	}
	overview.Timeline = points
	overview.Aggregation = level

	return overview, nil
}

// DatabaseDetail returns the newest sized sample of one database. A
// database with no sized samples yet returns zero values; callers fall
// back to a live size probe.
func (r *StatisticsRepository) DatabaseDetail(ctx context.Context, serverName, datname string) (*domain.DatabaseDetail, error) {
	detail := &domain.DatabaseDetail{}

	var (
		conns   *int
		commits *int64
		ts      time.Time
	)
	err := r.store.pool.QueryRow(ctx, `
		SELECT numbackends, db_size::float8 / 1048576, xact_commit, ts
		FROM statistics
		WHERE server_name = $1 AND datname = $2 AND db_size IS NOT NULL
		ORDER BY ts DESC
		LIMIT 1
	`, serverName, datname).Scan(&conns, &detail.SizeMB, &commits, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return detail, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read database detail: %w", err)
	}
	if conns != nil {
		detail.Connections = *conns
	}
	if commits != nil {
		detail.Commits = *commits
	}
	detail.LastUpdate = &ts
	return detail, nil
}
