// Package collector implements the per-target collection passes: activity
// stats, database sizes, and topology sync. Every pass returns a Result
// instead of an error so one bad target never aborts a cycle.
package collector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"pgmon/internal/domain"
	"pgmon/internal/logger"
	"pgmon/internal/metrics"
	"pgmon/internal/remote"
	"pgmon/internal/sshexec"
	"pgmon/internal/storage/pgpool"
	"pgmon/internal/storage/warehouse"
)

// Result is one target's outcome for one collection pass.
type Result struct {
	Server    string   `json:"server_name"`
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Added     int      `json:"added"`
	Deleted   int      `json:"deleted"`
	Recreated int      `json:"recreated"`
	Errors    []string `json:"errors"`
}

// Failed reports whether the pass recorded any error.
func (r *Result) Failed() bool { return len(r.Errors) > 0 }

// Collector runs collection passes against monitored targets, writing
// samples into the warehouse.
type Collector struct {
	store  *warehouse.Store
	remote *remote.Manager
	ssh    *sshexec.Executor
	log    *logger.Logger

	statusMu    sync.Mutex
	statusCache map[string]statusEntry
}

// New wires a collector over the warehouse, the remote pools, and the SSH
// executor.
func New(store *warehouse.Store, rm *remote.Manager, ssh *sshexec.Executor, log *logger.Logger) *Collector {
	return &Collector{
		store:       store,
		remote:      rm,
		ssh:         ssh,
		log:         log.Component("collector"),
		statusCache: make(map[string]statusEntry),
	}
}

// RunAll fans fn out over the targets, one goroutine per target, and
// returns results in target order. Failures stay inside each Result;
// nothing here cancels the siblings of a failing target.
func RunAll(ctx context.Context, targets []domain.Server, fn func(context.Context, *domain.Server) *Result) []*Result {
	results := make([]*Result, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = fn(ctx, &targets[i])
		}(i)
	}
	wg.Wait()
	return results
}

// CollectStats appends one sample per live database of the target: backend
// count and commit counter from pg_stat_database, plus disk headroom from
// an SSH df probe. db_size is left null for the size pass.
func (c *Collector) CollectStats(ctx context.Context, target *domain.Server) (result *Result) {
	result = &Result{Server: target.Name}
	defer recoverInto(result)

	pool, err := c.remote.PoolFor(ctx, target, "")
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	dataDir, rows, err := c.fetchActivityRows(ctx, pool)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if len(rows) == 0 {
		result.Errors = append(result.Errors, "no databases in pg_stat_database")
		return result
	}

	var diskFree, diskTotal *int64
	usage, err := c.ssh.DiskUsage(ctx, target, dataDir)
	if err != nil {
		// Disk metrics are best-effort; the sample row still counts.
		c.log.Warn("disk usage probe failed", "server", target.Name, "error", err)
	} else {
		diskFree, diskTotal = &usage.FreeBytes, &usage.TotalBytes
	}

	samples := make([]domain.StatSample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, domain.StatSample{
			ServerName:  target.Name,
			Datname:     row.datname,
			NumBackends: row.numBackends,
			XactCommit:  row.xactCommit,
			DiskFree:    diskFree,
			DiskTotal:   diskTotal,
		})
	}

	inserted, failures, err := c.store.Statistics().InsertSamples(ctx, samples)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.Errors = append(result.Errors, failures...)
	result.Inserted = inserted
	metrics.SamplesInserted.Add(float64(inserted))

	c.log.Info("collected activity stats",
		"server", target.Name, "inserted", inserted, "errors", len(result.Errors))
	return result
}

// CollectSizes measures each database with pg_database_size and stamps the
// result onto samples still missing one. Databases are measured one at a
// time with a relaxed per-transaction timeout so a single huge database
// cannot time out the whole pass.
func (c *Collector) CollectSizes(ctx context.Context, target *domain.Server) (result *Result) {
	result = &Result{Server: target.Name}
	defer recoverInto(result)

	pool, err := c.remote.PoolFor(ctx, target, "")
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	names, err := c.fetchDatabaseNames(ctx, pool)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if len(names) == 0 {
		result.Errors = append(result.Errors, "no databases to size")
		return result
	}

	for _, datname := range names {
		var size int64
		err := pool.Execute(ctx, func(tx pgx.Tx) error {
			// LOCAL keeps the relaxed timeout inside this transaction;
			// the pooled session stays at its 5s default afterwards.
			if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = '600s'"); err != nil {
				return err
			}
			return tx.QueryRow(ctx, "SELECT pg_database_size($1)", datname).Scan(&size)
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", datname, err))
			continue
		}

		updated, err := c.store.Statistics().FillMissingSizes(ctx, target.Name, datname, size)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", datname, err))
			continue
		}
		result.Updated += int(updated)
	}

	c.log.Info("collected database sizes",
		"server", target.Name, "updated", result.Updated, "errors", len(result.Errors))
	return result
}

// SyncTopology reconciles db_info against the target's pg_database:
// inserts discoveries, prunes the vanished, and repairs records of
// databases dropped and recreated under the same name.
func (c *Collector) SyncTopology(ctx context.Context, target *domain.Server) (result *Result) {
	result = &Result{Server: target.Name}
	defer recoverInto(result)

	pool, err := c.remote.PoolFor(ctx, target, "")
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	remoteMap, err := c.fetchDatabaseOIDs(ctx, pool)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	localMap, err := c.store.DBInfo().Map(ctx, target.Name)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	newDBs, goneDBs, recreatedDBs, unchangedDBs := diffTopology(remoteMap, localMap)

	if err := c.store.DBInfo().TouchLastSeen(ctx, target.Name, unchangedDBs); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	c.backfillCreationTimes(ctx, pool, target.Name)

	for _, datname := range newDBs {
		oid := remoteMap[datname]
		ct := c.creationTime(ctx, pool, oid)
		if err := c.store.DBInfo().Insert(ctx, target.Name, datname, oid, ct); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("add %s: %v", datname, err))
			continue
		}
		result.Added++
		c.log.Info("discovered database", "server", target.Name, "database", datname, "oid", oid)
	}

	for _, datname := range recreatedDBs {
		oid := remoteMap[datname]
		ct := c.creationTime(ctx, pool, oid)
		if err := c.store.DBInfo().ReplaceRecreated(ctx, target.Name, datname, oid, ct); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("recreate %s: %v", datname, err))
			continue
		}
		result.Recreated++
		c.log.Info("database recreated",
			"server", target.Name, "database", datname,
			"old_oid", localMap[datname].OID, "new_oid", oid)
	}

	for _, datname := range goneDBs {
		if err := c.store.DBInfo().DeleteGone(ctx, target.Name, datname); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", datname, err))
			continue
		}
		result.Deleted++
		c.log.Info("database gone", "server", target.Name, "database", datname)
	}

	c.log.Info("synced topology",
		"server", target.Name, "added", result.Added,
		"deleted", result.Deleted, "recreated", result.Recreated,
		"errors", len(result.Errors))
	return result
}

// CurrentActivity reads the target's live sessions, excluding the
// monitor's own backend.
func (c *Collector) CurrentActivity(ctx context.Context, target *domain.Server) ([]domain.ActivitySession, error) {
	pool, err := c.remote.PoolFor(ctx, target, "")
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT datname, pid, usename, application_name, client_addr::text,
		       backend_start, state, state_change, query
		FROM pg_stat_activity
		WHERE state IS NOT NULL AND pid <> pg_backend_pid()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pg_stat_activity: %w", err)
	}
	defer rows.Close()

	sessions := []domain.ActivitySession{}
	for rows.Next() {
		var (
			s                         domain.ActivitySession
			datname, usename, appName *string
			clientAddr, state, query  *string
		)
		if err := rows.Scan(&datname, &s.PID, &usename, &appName, &clientAddr,
			&s.BackendStart, &state, &s.StateChange, &query); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		if datname != nil {
			s.Datname = *datname
		}
		if usename != nil {
			s.Usename = *usename
		}
		if appName != nil {
			s.ApplicationName = *appName
		}
		if clientAddr != nil {
			s.ClientAddr = *clientAddr
		}
		if state != nil {
			s.State = *state
		}
		if query != nil {
			s.Query = *query
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pg_stat_activity: %w", err)
	}
	return sessions, nil
}

// ListDatabases returns every non-template database currently on the
// target, for liveness flags in the stats API.
func (c *Collector) ListDatabases(ctx context.Context, target *domain.Server) ([]string, error) {
	pool, err := c.remote.PoolFor(ctx, target, "")
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		"SELECT datname FROM pg_database WHERE datistemplate = false")
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan database name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read databases: %w", err)
	}
	return names, nil
}

// LiveDatabaseSizeMB measures one database directly on the target, used
// when the warehouse has no sized sample yet.
func (c *Collector) LiveDatabaseSizeMB(ctx context.Context, target *domain.Server, datname string) (float64, error) {
	pool, err := c.remote.PoolFor(ctx, target, "")
	if err != nil {
		return 0, err
	}

	var sizeMB float64
	err = pool.QueryRow(ctx,
		"SELECT pg_database_size($1) / 1048576.0", datname,
	).Scan(&sizeMB)
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", datname, err)
	}
	return sizeMB, nil
}

type statRow struct {
	datname     string
	numBackends int
	xactCommit  int64
}

// fetchActivityRows reads the data directory and the per-database counters
// in one checkout. Template databases and the maintenance database carry no
// monitored activity.
func (c *Collector) fetchActivityRows(ctx context.Context, pool *pgpool.Pool) (string, []statRow, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return "", nil, err
	}
	defer conn.Release()

	var dataDir string
	if err := conn.QueryRow(ctx, "SHOW data_directory").Scan(&dataDir); err != nil {
		return "", nil, fmt.Errorf("failed to read data_directory: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT s.datname, s.numbackends, s.xact_commit
		FROM pg_stat_database s
		JOIN pg_database d ON s.datid = d.oid
		WHERE NOT d.datistemplate AND d.datname != 'postgres'
		ORDER BY s.datname
	`)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query pg_stat_database: %w", err)
	}
	defer rows.Close()

	var out []statRow
	for rows.Next() {
		var row statRow
		if err := rows.Scan(&row.datname, &row.numBackends, &row.xactCommit); err != nil {
			return "", nil, fmt.Errorf("failed to scan pg_stat_database row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("failed to read pg_stat_database: %w", err)
	}
	return dataDir, out, nil
}

func (c *Collector) fetchDatabaseNames(ctx context.Context, pool *pgpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT datname FROM pg_database
		WHERE NOT datistemplate AND datname != 'postgres'
		ORDER BY datname
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan database name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read databases: %w", err)
	}
	return names, nil
}

func (c *Collector) fetchDatabaseOIDs(ctx context.Context, pool *pgpool.Pool) (map[string]int64, error) {
	rows, err := pool.Query(ctx, `
		SELECT datname, oid FROM pg_database
		WHERE NOT datistemplate AND datname != 'postgres'
		ORDER BY datname
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list database oids: %w", err)
	}
	defer rows.Close()

	oids := make(map[string]int64)
	for rows.Next() {
		var (
			name string
			oid  int64
		)
		if err := rows.Scan(&name, &oid); err != nil {
			return nil, fmt.Errorf("failed to scan database oid: %w", err)
		}
		oids[name] = oid
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read database oids: %w", err)
	}
	return oids, nil
}

// diffTopology splits the remote database set against the warehouse
// record: names to insert, names to prune, names whose OID changed under
// the same datname, and names to touch. Slices come back sorted so logs
// and results are deterministic.
func diffTopology(remoteMap map[string]int64, localMap map[string]domain.DBInfo) (added, gone, recreated, unchanged []string) {
	for datname, oid := range remoteMap {
		local, ok := localMap[datname]
		switch {
		case !ok:
			added = append(added, datname)
		case local.OID != oid:
			recreated = append(recreated, datname)
		default:
			unchanged = append(unchanged, datname)
		}
	}
	for datname := range localMap {
		if _, ok := remoteMap[datname]; !ok {
			gone = append(gone, datname)
		}
	}
	sort.Strings(added)
	sort.Strings(gone)
	sort.Strings(recreated)
	sort.Strings(unchanged)
	return added, gone, recreated, unchanged
}

// creationTime asks the target for the modification stamp of a database's
// PG_VERSION file, the closest thing PostgreSQL has to a creation time.
// Nil when pg_stat_file is not permitted or the layout is unexpected.
func (c *Collector) creationTime(ctx context.Context, pool *pgpool.Pool, oid int64) *time.Time {
	var ts time.Time
	err := pool.QueryRow(ctx,
		"SELECT (pg_stat_file('base/' || $1 || '/PG_VERSION')).modification",
		strconv.FormatInt(oid, 10),
	).Scan(&ts)
	if err != nil {
		return nil
	}
	return &ts
}

// backfillCreationTimes retries creation-time lookups that failed on
// earlier cycles. Failures only log; the sync itself proceeds.
func (c *Collector) backfillCreationTimes(ctx context.Context, pool *pgpool.Pool, serverName string) {
	missing, err := c.store.DBInfo().NullCreationTimes(ctx, serverName)
	if err != nil {
		c.log.Warn("creation time backfill skipped", "server", serverName, "error", err)
		return
	}

	for _, info := range missing {
		ct := c.creationTime(ctx, pool, info.OID)
		if ct == nil {
			continue
		}
		if err := c.store.DBInfo().SetCreationTime(ctx, serverName, info.Datname, *ct); err != nil {
			c.log.Warn("creation time backfill failed",
				"server", serverName, "database", info.Datname, "error", err)
		}
	}
}

// recoverInto converts a panic into a recorded error so a cycle's fan-out
// always completes.
func recoverInto(result *Result) {
	if r := recover(); r != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", r))
	}
}
