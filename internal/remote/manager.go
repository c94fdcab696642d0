// Package remote manages the per-target PostgreSQL pools the collectors
// and live-activity reads fan out over.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"pgmon/internal/domain"
	"pgmon/internal/logger"
	"pgmon/internal/metrics"
	"pgmon/internal/storage/pgpool"
)

// defaultDatabase is the maintenance database used when the caller does
// not name one. Collection queries (pg_stat_database, pg_database_size)
// all run from here.
const defaultDatabase = "postgres"

// Manager lazily opens one bounded pool per (host, port, user, database)
// endpoint. Pools persist across collection cycles so remote connections
// are reused; they are torn down when their server is updated or removed.
type Manager struct {
	cfg pgpool.Config
	log *logger.Logger

	mu    sync.Mutex
	pools map[string]*pgpool.Pool
}

// NewManager creates a manager applying cfg to every pool it opens.
func NewManager(cfg pgpool.Config, log *logger.Logger) *Manager {
	return &Manager{
		cfg:   cfg,
		log:   log.Component("remote"),
		pools: make(map[string]*pgpool.Pool),
	}
}

// poolKey identifies a pool by endpoint rather than server name, so
// renaming a target keeps its connections.
func poolKey(srv *domain.Server, database string) string {
	return fmt.Sprintf("%s:%d:%s:%s", srv.Host, srv.Port, srv.User, database)
}

// connString renders the server's credentials as a pgx URL. Values pass
// through url building so hosts or passwords with reserved characters
// survive.
func connString(srv *domain.Server, database string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", srv.Host, srv.Port),
		Path:   "/" + database,
	}
	if srv.Password != "" {
		u.User = url.UserPassword(srv.User, srv.Password)
	} else {
		u.User = url.User(srv.User)
	}
	return u.String()
}

// PoolFor returns the pool for a server's database, opening it on first
// use. Empty database selects the maintenance database.
func (m *Manager) PoolFor(ctx context.Context, srv *domain.Server, database string) (*pgpool.Pool, error) {
	if database == "" {
		database = defaultDatabase
	}
	key := poolKey(srv, database)

	m.mu.Lock()
	if p, ok := m.pools[key]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	// Dial outside the lock: a slow target must not block checkouts for
	// the others.
	pool, err := pgpool.New(ctx, connString(srv, database), m.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool for %s/%s: %w", srv.Name, database, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pools[key]; ok {
		// Lost a create race; keep the first pool.
		pool.Close()
		return existing, nil
	}
	m.pools[key] = pool
	metrics.RemotePools.Set(float64(len(m.pools)))
	m.log.Info("opened remote pool", "server", srv.Name, "database", database)
	return pool, nil
}

// ClosePools drops every pool of the server's endpoint, across databases.
// Call it after credential or address changes and on target delete.
func (m *Manager) ClosePools(srv *domain.Server) {
	prefix := fmt.Sprintf("%s:%d:%s:", srv.Host, srv.Port, srv.User)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, pool := range m.pools {
		if strings.HasPrefix(key, prefix) {
			pool.Close()
			delete(m.pools, key)
			m.log.Info("closed remote pool", "server", srv.Name, "pool", key)
		}
	}
	metrics.RemotePools.Set(float64(len(m.pools)))
}

// CloseAll drains every pool. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Info("closing remote pools", "count", len(m.pools))
	for key, pool := range m.pools {
		pool.Close()
		delete(m.pools, key)
	}
	metrics.RemotePools.Set(0)
}

// Count returns the number of open pools.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools)
}

// Status reports per-endpoint pool statistics for the pools endpoint.
func (m *Manager) Status() map[string]pgpool.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]pgpool.Stats, len(m.pools))
	for key, pool := range m.pools {
		status[key] = pool.Stats()
	}
	return status
}
