// Package scheduler drives the collection loops: activity stats, database
// sizes, topology sync, and daily warehouse maintenance. Loop intervals are
// re-read from the settings table after every cycle, so operators can tune
// cadence without a restart.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pgmon/internal/collector"
	"pgmon/internal/config"
	"pgmon/internal/domain"
	"pgmon/internal/logger"
	"pgmon/internal/metrics"
	"pgmon/internal/storage/warehouse"
)

// System log sources written by the loops.
const (
	sourceStats       = "collector_stats"
	sourceSizes       = "collector_sizes"
	sourceTopology    = "collector_topology"
	sourceMaintenance = "maintenance"
	sourceSystem      = "system"
)

const (
	// startupDelay gives pools and the HTTP listener a head start before
	// the first cycle hits remote targets.
	startupDelay = 10 * time.Second

	// maintenanceInterval is fixed; the retention windows are tunable,
	// the cadence is not.
	maintenanceInterval = 24 * time.Hour

	defaultAuditRetentionDays = 90
	defaultLogsRetentionDays  = 30
)

// Scheduler owns the four collection loops.
type Scheduler struct {
	store *warehouse.Store
	coll  *collector.Collector
	cfg   config.CollectorConfig
	log   *logger.Logger

	wg sync.WaitGroup
}

// New wires a scheduler over the warehouse and the collector.
func New(store *warehouse.Store, coll *collector.Collector, cfg config.CollectorConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store: store,
		coll:  coll,
		cfg:   cfg,
		log:   log.Component("scheduler"),
	}
}

// Start launches the loops. They run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(4)
	go s.statsLoop(ctx)
	go s.sizesLoop(ctx)
	go s.topologyLoop(ctx)
	go s.maintenanceLoop(ctx)

	s.log.Info("collection loops started", "loops", 4)
	s.journal(ctx, domain.LogInfo, sourceSystem, "collector started: 4 loops", "")
}

// Wait blocks until every loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) statsLoop(ctx context.Context) {
	defer s.wg.Done()
	if !sleep(ctx, startupDelay) {
		return
	}
	for {
		s.runCycle(ctx, sourceStats, s.coll.CollectStats)
		if !sleep(ctx, s.interval(ctx, "collect_interval", int64(s.cfg.CollectInterval))) {
			return
		}
	}
}

func (s *Scheduler) sizesLoop(ctx context.Context) {
	defer s.wg.Done()
	if !sleep(ctx, startupDelay) {
		return
	}
	for {
		s.runCycle(ctx, sourceSizes, s.coll.CollectSizes)
		if !sleep(ctx, s.interval(ctx, "size_update_interval", int64(s.cfg.SizeUpdateInterval))) {
			return
		}
	}
}

func (s *Scheduler) topologyLoop(ctx context.Context) {
	defer s.wg.Done()
	if !sleep(ctx, startupDelay) {
		return
	}
	for {
		s.runCycle(ctx, sourceTopology, s.coll.SyncTopology)
		if !sleep(ctx, s.interval(ctx, "db_check_interval", int64(s.cfg.DBCheckInterval))) {
			return
		}
	}
}

func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()
	if !sleep(ctx, startupDelay) {
		return
	}
	for {
		s.runMaintenance(ctx)
		if !sleep(ctx, maintenanceInterval) {
			return
		}
	}
}

// runCycle loads the targets, fans one collection pass out over them, and
// journals the outcome.
func (s *Scheduler) runCycle(ctx context.Context, source string, fn func(context.Context, *domain.Server) *collector.Result) {
	started := time.Now()
	defer func() {
		metrics.CollectionDuration.WithLabelValues(source).Observe(time.Since(started).Seconds())
	}()

	servers, err := s.store.Servers().List(ctx)
	if err != nil {
		s.log.Error("cycle aborted", "source", source, "error", err)
		metrics.CollectionCycles.WithLabelValues(source, "error").Inc()
		s.journal(ctx, domain.LogError, source, fmt.Sprintf("cycle failed: %v", err), "")
		return
	}

	s.log.Info("cycle started", "source", source, "servers", len(servers))
	results := collector.RunAll(ctx, servers, fn)

	ok, details := summarize(results)
	failed := len(results) - ok

	if failed > 0 {
		metrics.TargetErrors.WithLabelValues(source).Add(float64(failed))
		metrics.CollectionCycles.WithLabelValues(source, "error").Inc()
		s.journal(ctx, domain.LogError, source,
			fmt.Sprintf("%d of %d servers failed", failed, len(results)),
			strings.Join(details, "; "))
	} else {
		metrics.CollectionCycles.WithLabelValues(source, "ok").Inc()
		s.journal(ctx, domain.LogInfo, source,
			fmt.Sprintf("%d servers ok", ok), "")
	}

	s.log.Info("cycle complete",
		"source", source, "servers", len(results), "failed", failed,
		"elapsed", time.Since(started))
}

// runMaintenance rolls partitions forward, drops expired ones, and purges
// the audit and system logs past their retention windows.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.CollectionDuration.WithLabelValues(sourceMaintenance).Observe(time.Since(started).Seconds())
	}()

	var errs []string

	if err := s.store.EnsurePartitions(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("ensure partitions: %v", err))
	}

	months := int(s.interval64(ctx, "retention_months", int64(s.cfg.RetentionMonths)))
	dropped, err := s.store.CleanupOldPartitions(ctx, months)
	if err != nil {
		errs = append(errs, fmt.Sprintf("cleanup partitions: %v", err))
	}

	auditDays := int(s.interval64(ctx, "audit_retention_days", defaultAuditRetentionDays))
	auditPurged, err := s.store.Audit().PurgeOlderThan(ctx, auditDays)
	if err != nil {
		errs = append(errs, fmt.Sprintf("purge audit: %v", err))
	}

	logDays := int(s.interval64(ctx, "logs_retention_days", defaultLogsRetentionDays))
	logsPurged, err := s.store.SystemLog().PurgeOlderThan(ctx, logDays)
	if err != nil {
		errs = append(errs, fmt.Sprintf("purge system log: %v", err))
	}

	if len(errs) > 0 {
		metrics.CollectionCycles.WithLabelValues(sourceMaintenance, "error").Inc()
		s.journal(ctx, domain.LogError, sourceMaintenance,
			"maintenance finished with errors", strings.Join(errs, "; "))
	} else {
		metrics.CollectionCycles.WithLabelValues(sourceMaintenance, "ok").Inc()
		s.journal(ctx, domain.LogInfo, sourceMaintenance,
			fmt.Sprintf("maintenance complete: %d partitions dropped, %d audit rows purged, %d log rows purged",
				dropped, auditPurged, logsPurged), "")
	}

	s.log.Info("maintenance complete",
		"partitions_dropped", dropped,
		"audit_purged", auditPurged,
		"logs_purged", logsPurged,
		"errors", len(errs),
		"elapsed", time.Since(started))
}

// interval reads a tunable loop interval in seconds.
func (s *Scheduler) interval(ctx context.Context, key string, def int64) time.Duration {
	return time.Duration(s.interval64(ctx, key, def)) * time.Second
}

// interval64 reads a tunable integer setting, falling back to the
// configured default and clamping to the setting's declared bounds. A
// corrupted row must degrade, never stop a loop.
func (s *Scheduler) interval64(ctx context.Context, key string, def int64) int64 {
	return clampToBounds(key, s.store.Settings().GetInt(ctx, key, def))
}

// clampToBounds forces n into the declared range for key, if it has one.
func clampToBounds(key string, n int64) int64 {
	b, ok := domain.BoundsFor(key)
	if !ok {
		return n
	}
	if n < b.Min {
		return b.Min
	}
	if n > b.Max {
		return b.Max
	}
	return n
}

// summarize counts clean targets and formats one detail line per failed
// target.
func summarize(results []*collector.Result) (ok int, details []string) {
	for _, r := range results {
		if r.Failed() {
			details = append(details, fmt.Sprintf("%s: %s", r.Server, strings.Join(r.Errors, ", ")))
			continue
		}
		ok++
	}
	return ok, details
}

// journal writes a cycle outcome to the warehouse system log. Failures here
// only hit the process log; the journal must never stop collection.
func (s *Scheduler) journal(ctx context.Context, level domain.LogLevel, source, message, details string) {
	entry := &domain.SystemLogEntry{
		Level:   level,
		Source:  source,
		Message: message,
		Details: details,
	}
	if err := s.store.SystemLog().Insert(ctx, entry); err != nil {
		s.log.Warn("system log write failed", "source", source, "error", err)
	}
}

// sleep waits for d or until ctx is cancelled, reporting whether the full
// wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
