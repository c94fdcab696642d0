// Package warehouse owns the local PostgreSQL time-series store: the
// partitioned statistics table, the encrypted target registry, operator
// accounts, runtime settings, and the audit and system logs.
package warehouse

import (
	"context"
	"fmt"
	"sync"

	"pgmon/internal/logger"
	"pgmon/internal/storage/pgpool"
	"pgmon/internal/storage/secretbox"
)

// Store is the warehouse facade. All repositories share one validated pool
// and one secret box.
type Store struct {
	pool *pgpool.Pool
	box  *secretbox.Box
	log  *logger.Logger

	servers    *ServerRepository
	sshKeys    *SSHKeyRepository
	users      *UserRepository
	settings   *SettingsRepository
	statistics *StatisticsRepository
	dbInfo     *DBInfoRepository
	audit      *AuditRepository
	systemLog  *SystemLogRepository

	mu     sync.Mutex
	closed bool
}

// New connects to the warehouse and wires the repositories. Migrations are
// a separate step so the CLI can run them without starting collection.
func New(ctx context.Context, dsn string, cfg pgpool.Config, box *secretbox.Box, log *logger.Logger) (*Store, error) {
	pool, err := pgpool.New(ctx, dsn, cfg)
	if err != nil {
		return nil, fmt.Errorf("warehouse: %w", err)
	}
	return NewWithPool(pool, box, log), nil
}

// NewWithPool wires a store around an existing pool.
func NewWithPool(pool *pgpool.Pool, box *secretbox.Box, log *logger.Logger) *Store {
	s := &Store{
		pool: pool,
		box:  box,
		log:  log.Component("warehouse"),
	}

	s.servers = &ServerRepository{store: s}
	s.sshKeys = &SSHKeyRepository{store: s}
	s.users = &UserRepository{store: s}
	s.settings = &SettingsRepository{store: s}
	s.statistics = &StatisticsRepository{store: s}
	s.dbInfo = &DBInfoRepository{store: s}
	s.audit = &AuditRepository{store: s}
	s.systemLog = &SystemLogRepository{store: s}

	return s
}

// Servers returns the target registry repository.
func (s *Store) Servers() *ServerRepository { return s.servers }

// SSHKeys returns the SSH key repository.
func (s *Store) SSHKeys() *SSHKeyRepository { return s.sshKeys }

// Users returns the operator account repository.
func (s *Store) Users() *UserRepository { return s.users }

// Settings returns the runtime settings repository.
func (s *Store) Settings() *SettingsRepository { return s.settings }

// Statistics returns the time-series repository.
func (s *Store) Statistics() *StatisticsRepository { return s.statistics }

// DBInfo returns the database topology repository.
func (s *Store) DBInfo() *DBInfoRepository { return s.dbInfo }

// Audit returns the authentication audit repository.
func (s *Store) Audit() *AuditRepository { return s.audit }

// SystemLog returns the system log repository.
func (s *Store) SystemLog() *SystemLogRepository { return s.systemLog }

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgpool.Pool { return s.pool }

// Box exposes the secret box shared by the registry repositories.
func (s *Store) Box() *secretbox.Box { return s.box }

// Ping checks warehouse connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the warehouse pool. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}

// Migrate brings the schema to the current version and seeds the default
// settings rows.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Extensions},
		{2, migrationV1Statistics},
		{3, migrationV1Registry},
		{4, migrationV1Accounts},
		{5, migrationV1Journal},
	}

	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}

		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)",
			m.version,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		s.log.Info("applied migration", "version", m.version)
	}

	if err := s.settings.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	return nil
}

// migrationV1Extensions enables pgcrypto. The registry encrypts in the
// application now, but pre-existing warehouses still carry pgp_sym_encrypt
// ciphertexts readable only with the extension installed.
const migrationV1Extensions = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;
`

const migrationV1Statistics = `
CREATE TABLE IF NOT EXISTS statistics (
	id          bigserial,
	server_name text        NOT NULL,
	ts          timestamptz NOT NULL DEFAULT now(),
	datname     text        NOT NULL,
	numbackends integer,
	xact_commit bigint,
	db_size     bigint,
	disk_free   bigint,
	disk_total  bigint
) PARTITION BY RANGE (ts);

CREATE TABLE IF NOT EXISTS db_info (
	server_name   text        NOT NULL,
	datname       text        NOT NULL,
	oid           bigint      NOT NULL,
	creation_time timestamptz,
	first_seen    timestamptz NOT NULL DEFAULT now(),
	last_seen     timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (server_name, datname)
);

DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_stats_server_ts') THEN
		CREATE INDEX idx_stats_server_ts ON statistics (server_name, ts DESC);
	END IF;
	IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_stats_server_db_ts') THEN
		CREATE INDEX idx_stats_server_db_ts ON statistics (server_name, datname, ts DESC);
	END IF;
END $$;
`

const migrationV1Registry = `
CREATE TABLE IF NOT EXISTS ssh_keys (
	id              TEXT PRIMARY KEY,
	name            TEXT UNIQUE NOT NULL,
	fingerprint     TEXT UNIQUE NOT NULL,
	key_type        TEXT NOT NULL,
	public_key      TEXT NOT NULL,
	private_key_enc TEXT NOT NULL,
	created_by      TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	has_passphrase  BOOLEAN NOT NULL DEFAULT false,
	description     TEXT
);

CREATE TABLE IF NOT EXISTS servers (
	name                   TEXT PRIMARY KEY,
	host                   TEXT NOT NULL,
	port                   INTEGER NOT NULL DEFAULT 5432,
	pg_user                TEXT NOT NULL,
	password_enc           TEXT,
	ssh_user               TEXT NOT NULL,
	ssh_password_enc       TEXT,
	ssh_port               INTEGER NOT NULL DEFAULT 22,
	ssh_auth_type          TEXT NOT NULL DEFAULT 'password',
	ssh_key_id             TEXT REFERENCES ssh_keys(id),
	ssh_key_passphrase_enc TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ
);
`

const migrationV1Accounts = `
CREATE TABLE IF NOT EXISTS users (
	login         TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'viewer',
	email         TEXT,
	is_active     BOOLEAN NOT NULL DEFAULT true,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ,
	last_login    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS settings (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	value_type  TEXT NOT NULL DEFAULT 'int',
	description TEXT,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const migrationV1Journal = `
CREATE TABLE IF NOT EXISTS audit_sessions (
	id          bigserial   PRIMARY KEY,
	timestamp   timestamptz NOT NULL DEFAULT now(),
	event_type  text        NOT NULL,
	username    text        NOT NULL,
	ip_address  text,
	user_agent  text,
	jti         text,
	details     text
);

DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_audit_timestamp') THEN
		CREATE INDEX idx_audit_timestamp ON audit_sessions (timestamp DESC);
	END IF;
	IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_audit_username') THEN
		CREATE INDEX idx_audit_username ON audit_sessions (username);
	END IF;
	IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_audit_event_type') THEN
		CREATE INDEX idx_audit_event_type ON audit_sessions (event_type);
	END IF;
END $$;

CREATE TABLE IF NOT EXISTS system_log (
	id        bigserial   PRIMARY KEY,
	timestamp timestamptz NOT NULL DEFAULT now(),
	level     text        NOT NULL,
	source    text        NOT NULL,
	message   text        NOT NULL,
	details   text
);

DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_syslog_timestamp') THEN
		CREATE INDEX idx_syslog_timestamp ON system_log (timestamp DESC);
	END IF;
END $$;
`
