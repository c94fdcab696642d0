package collector

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"pgmon/internal/domain"
)

// statusCacheTTL bounds how long a successful availability probe is served
// from memory before the target is asked again.
const statusCacheTTL = 30 * time.Second

// TargetStatus is the live availability summary of one registered server:
// version, connection breakdown, uptime, and disk headroom, or a status
// string saying which leg failed.
type TargetStatus struct {
	Status      string         `json:"status"`
	Version     *string        `json:"version"`
	Connections map[string]int `json:"connections"`
	UptimeHours *float64       `json:"uptime_hours"`
	DataDir     *string        `json:"data_dir"`
	FreeSpace   *int64         `json:"free_space"`
	TotalSpace  *int64         `json:"total_space"`
}

type statusEntry struct {
	status TargetStatus
	at     time.Time
}

// TargetStatus probes a server's availability. Successful probes are cached
// per endpoint; only the SSH disk figures are refreshed on a cache hit. A
// probe never returns an error: failures land in Status.
func (c *Collector) TargetStatus(ctx context.Context, target *domain.Server) *TargetStatus {
	key := statusKey(target)

	if cached, ok := c.cachedStatus(key); ok {
		if cached.DataDir != nil {
			c.attachDiskUsage(ctx, target, &cached)
		}
		return &cached
	}

	status := c.probe(ctx, target)

	if status.Status == "ok" && status.DataDir != nil {
		c.attachDiskUsage(ctx, target, status)
	}
	if strings.HasPrefix(status.Status, "ok") {
		c.storeStatus(key, *status)
	}
	return status
}

// InvalidateStatus drops a server's cached probe after registry changes.
func (c *Collector) InvalidateStatus(srv *domain.Server) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	delete(c.statusCache, statusKey(srv))
}

func statusKey(srv *domain.Server) string {
	return srv.Host + ":" + strconv.Itoa(srv.Port)
}

// probe runs the four availability queries on one checkout.
func (c *Collector) probe(ctx context.Context, target *domain.Server) *TargetStatus {
	status := &TargetStatus{Status: "pending"}

	pool, err := c.remote.PoolFor(ctx, target, "")
	if err != nil {
		status.Status = "PostgreSQL: host unreachable"
		return status
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		status.Status = pgFailure(err)
		return status
	}
	defer conn.Release()

	var version string
	if err := conn.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		status.Status = pgFailure(err)
		return status
	}
	status.Version = &version

	rows, err := conn.Query(ctx,
		"SELECT state, COUNT(*) FROM pg_stat_activity GROUP BY state")
	if err != nil {
		status.Status = pgFailure(err)
		return status
	}
	connections := make(map[string]int)
	for rows.Next() {
		var (
			state *string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			rows.Close()
			status.Status = pgFailure(err)
			return status
		}
		name := "unknown"
		if state != nil {
			name = *state
		}
		connections[name] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		status.Status = pgFailure(err)
		return status
	}
	status.Connections = connections

	var started time.Time
	if err := conn.QueryRow(ctx, "SELECT pg_postmaster_start_time()").Scan(&started); err != nil {
		status.Status = pgFailure(err)
		return status
	}
	uptime := math.Round(time.Since(started).Hours()*100) / 100
	status.UptimeHours = &uptime

	var dataDir string
	if err := conn.QueryRow(ctx, "SHOW data_directory").Scan(&dataDir); err != nil {
		status.Status = pgFailure(err)
		return status
	}
	status.DataDir = &dataDir

	status.Status = "ok"
	return status
}

// attachDiskUsage fills the disk figures over SSH. An SSH failure demotes an
// ok status to "ok (SSH: ...)" rather than hiding the working PostgreSQL leg.
func (c *Collector) attachDiskUsage(ctx context.Context, target *domain.Server, status *TargetStatus) {
	usage, err := c.ssh.DiskUsage(ctx, target, *status.DataDir)
	if err != nil {
		if status.Status == "ok" {
			status.Status = "ok (SSH: " + truncate(err.Error(), 50) + ")"
		}
		return
	}
	status.FreeSpace = &usage.FreeBytes
	status.TotalSpace = &usage.TotalBytes
}

func (c *Collector) cachedStatus(key string) (TargetStatus, bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	entry, ok := c.statusCache[key]
	if !ok || time.Since(entry.at) > statusCacheTTL {
		return TargetStatus{}, false
	}
	return entry.status, true
}

func (c *Collector) storeStatus(key string, status TargetStatus) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	now := time.Now()
	for k, entry := range c.statusCache {
		if now.Sub(entry.at) > statusCacheTTL {
			delete(c.statusCache, k)
		}
	}
	c.statusCache[key] = statusEntry{status: status, at: now}
}

// pgFailure renders a PostgreSQL-side probe error as a short status string.
func pgFailure(err error) string {
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "timeout") {
		return "PostgreSQL: operation timeout"
	}
	return "PostgreSQL: " + truncate(msg, 50)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
