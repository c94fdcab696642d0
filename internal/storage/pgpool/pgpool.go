// Package pgpool wraps pgxpool with the connection hygiene the monitor
// needs against remote, possibly flaky targets: bounded pool sizes, TCP
// keepalives, a server-side statement timeout, and checkout validation
// that replaces a dead connection exactly once before giving up.
package pgpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPoolClosed indicates the pool has been closed.
	ErrPoolClosed = errors.New("connection pool is closed")
)

// Config holds pool configuration.
type Config struct {
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32

	// MinConns is the minimum number of connections to keep open.
	MinConns int32

	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum time a connection can be idle.
	MaxConnIdleTime time.Duration

	// HealthCheckPeriod is how often to check connection health.
	HealthCheckPeriod time.Duration

	// ConnectTimeout is the timeout for new connections.
	ConnectTimeout time.Duration

	// StatementTimeout is applied server-side via runtime params so a
	// wedged query on a remote target cannot hold a connection forever.
	// Zero disables it.
	StatementTimeout time.Duration
}

// DefaultRemoteConfig returns the bounds used for monitored targets.
func DefaultRemoteConfig() Config {
	return Config{
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    5 * time.Second,
		StatementTimeout:  5 * time.Second,
	}
}

// DefaultWarehouseConfig returns the bounds used for the local warehouse.
func DefaultWarehouseConfig() Config {
	return Config{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    5 * time.Second,
	}
}

// Pool wraps pgxpool.Pool with checkout validation.
type Pool struct {
	pool   *pgxpool.Pool
	config Config

	mu     sync.RWMutex
	closed bool
}

// New creates a pool and verifies connectivity once.
func New(ctx context.Context, connString string, cfg Config) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	if cfg.StatementTimeout > 0 {
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] =
			strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	// Keepalives surface half-dead links to targets behind NAT or
	// firewalls that silently drop idle TCP sessions.
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	poolConfig.ConnConfig.DialFunc = dialer.DialContext

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Pool{
		pool:   pool,
		config: cfg,
	}, nil
}

// Acquire checks a connection out of the pool and validates it with a
// round trip. A connection that fails validation is destroyed and replaced
// exactly once; a second failure is returned to the caller.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p.mu.RUnlock()

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if err := validate(ctx, conn); err != nil {
		destroy(ctx, conn)

		conn, err = p.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire replacement connection: %w", err)
		}
		if err := validate(ctx, conn); err != nil {
			destroy(ctx, conn)
			return nil, fmt.Errorf("replacement connection failed validation: %w", err)
		}
	}

	return conn, nil
}

func validate(ctx context.Context, conn *pgxpool.Conn) error {
	var one int
	return conn.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// destroy closes the underlying connection so Release discards it instead
// of returning it to the pool.
func destroy(ctx context.Context, conn *pgxpool.Conn) {
	_ = conn.Conn().Close(ctx)
	conn.Release()
}

// Query runs a query on a validated connection. The connection is released
// when the returned rows are closed.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &trackedRows{Rows: rows, conn: conn}, nil
}

// QueryRow runs a single-row query on a validated connection. The
// connection is released when the row is scanned.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return &trackedRow{row: conn.QueryRow(ctx, sql, args...), conn: conn}
}

// Exec runs a statement that returns no rows on a validated connection.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Execute runs fn inside a transaction on a validated connection,
// committing on nil and rolling back on error.
func (p *Pool) Execute(ctx context.Context, fn func(tx pgx.Tx) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

// Ping checks database connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	s := p.pool.Stat()
	return Stats{
		TotalConns:        s.TotalConns(),
		AcquiredConns:     s.AcquiredConns(),
		IdleConns:         s.IdleConns(),
		MaxConns:          s.MaxConns(),
		MinConns:          p.config.MinConns,
		AcquireCount:      s.AcquireCount(),
		AcquireDuration:   s.AcquireDuration(),
		EmptyAcquireCount: s.EmptyAcquireCount(),
	}
}

// Close closes the connection pool. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.pool.Close()
}

// Stats contains pool statistics for the pools status endpoint.
type Stats struct {
	TotalConns        int32         `json:"total_conns"`
	AcquiredConns     int32         `json:"acquired_conns"`
	IdleConns         int32         `json:"idle_conns"`
	MaxConns          int32         `json:"max_conns"`
	MinConns          int32         `json:"min_conns"`
	AcquireCount      int64         `json:"acquire_count"`
	AcquireDuration   time.Duration `json:"acquire_duration"`
	EmptyAcquireCount int64         `json:"empty_acquire_count"`
}

// trackedRows releases the validated connection when the rows are closed.
// Close is idempotent; rows are commonly closed both explicitly and via
// defer.
type trackedRows struct {
	pgx.Rows
	conn     *pgxpool.Conn
	released bool
}

func (r *trackedRows) Close() {
	r.Rows.Close()
	if !r.released {
		r.released = true
		r.conn.Release()
	}
}

// trackedRow releases the validated connection after Scan.
type trackedRow struct {
	row  pgx.Row
	conn *pgxpool.Conn
}

func (r *trackedRow) Scan(dest ...any) error {
	defer r.conn.Release()
	return r.row.Scan(dest...)
}

// errRow reports an acquire failure at Scan time, matching pgx.Row.
type errRow struct {
	err error
}

func (r errRow) Scan(dest ...any) error {
	return r.err
}
