// Package app wires the daemon components together and manages their
// lifecycle: warehouse, remote pools, SSH executor, collector, scheduler,
// and the HTTP API.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"pgmon/internal/auth"
	"pgmon/internal/collector"
	"pgmon/internal/config"
	"pgmon/internal/domain"
	"pgmon/internal/httpapi"
	"pgmon/internal/logger"
	"pgmon/internal/remote"
	"pgmon/internal/scheduler"
	"pgmon/internal/sshexec"
	"pgmon/internal/storage/pgpool"
	"pgmon/internal/storage/secretbox"
	"pgmon/internal/storage/warehouse"
)

// App owns every long-lived component of the daemon and starts and stops
// them in dependency order.
type App struct {
	cfg     *config.Config
	cfgFile string
	log     *logger.Logger

	box     *secretbox.Box
	store   *warehouse.Store
	remote  *remote.Manager
	ssh     *sshexec.Executor
	coll    *collector.Collector
	auth    *auth.Service
	sched   *scheduler.Scheduler
	server  *httpapi.Server
	watcher *config.Watcher

	cancel     context.CancelFunc
	serverDone chan struct{}
	serverErr  error

	mu      sync.Mutex
	running bool
}

// New creates an app instance. cfgFile may be empty when the config came
// from search paths or the environment.
func New(cfg *config.Config, cfgFile string, log *logger.Logger) *App {
	return &App{
		cfg:     cfg,
		cfgFile: cfgFile,
		log:     log,
	}
}

// Start initializes and starts all components in dependency order.
// Order: warehouse -> remote pools -> SSH -> collector -> scheduler -> HTTP.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("app already running")
	}

	a.log.Info("starting components")

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.startWarehouse(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start warehouse: %w", err)
	}

	a.remote = remote.NewManager(a.remotePoolConfig(), a.log)
	a.ssh = sshexec.New(a.cfg.SSH, a.store.SSHKeys(), a.log)
	a.coll = collector.New(a.store, a.remote, a.ssh, a.log)
	a.auth = auth.New(a.cfg.Auth, a.store.Users(), a.log)

	a.sched = scheduler.New(a.store, a.coll, a.cfg.Collector, a.log)
	a.sched.Start(runCtx)

	a.server = httpapi.NewServer(a.cfg, httpapi.Deps{
		Store:     a.store,
		Remote:    a.remote,
		SSH:       a.ssh,
		Collector: a.coll,
		Auth:      a.auth,
	}, a.log)
	a.serverDone = make(chan struct{})
	go func() {
		a.serverErr = a.server.Run(runCtx)
		close(a.serverDone)
	}()

	a.startWatcher()

	a.running = true
	a.log.Info("all components started")

	return nil
}

// Done is closed when the HTTP server goroutine exits, whether from a
// shutdown or a failure. ServerErr distinguishes the two.
func (a *App) Done() <-chan struct{} {
	return a.serverDone
}

// ServerErr reports the HTTP server's exit error once Done is closed.
func (a *App) ServerErr() error {
	select {
	case <-a.serverDone:
		return a.serverErr
	default:
		return nil
	}
}

// Stop shuts down all components in reverse order, bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	a.log.Info("stopping components")

	a.cancel()

	var errs []error

	// The HTTP server drains in-flight requests first so clients are not
	// cut off while collectors are still winding down.
	select {
	case <-a.serverDone:
		if a.serverErr != nil {
			errs = append(errs, fmt.Errorf("http server: %w", a.serverErr))
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("http server: %w", ctx.Err()))
	}

	schedDone := make(chan struct{})
	go func() {
		a.sched.Wait()
		close(schedDone)
	}()
	select {
	case <-schedDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("scheduler: %w", ctx.Err()))
	}

	a.remote.CloseAll()

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("warehouse: %w", err))
	}

	a.running = false

	if len(errs) > 0 {
		a.log.Error("stopped with errors", "errors", errs)
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.log.Info("stopped cleanly")
	return nil
}

// startWarehouse connects to the warehouse database, applies migrations,
// seeds settings and the initial admin account, and bootstraps partitions.
func (a *App) startWarehouse(ctx context.Context) error {
	box, err := secretbox.New(a.cfg.Auth.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	a.box = box

	store, err := warehouse.New(ctx, a.cfg.Warehouse.DSN, a.warehousePoolConfig(), box, a.log)
	if err != nil {
		return err
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	if err := seedAdmin(ctx, store, a.cfg.Auth.AdminPassword, a.log); err != nil {
		store.Close()
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := store.EnsurePartitions(ctx); err != nil {
		store.Close()
		return fmt.Errorf("ensure partitions: %w", err)
	}

	a.store = store

	a.log.Info("warehouse initialized")
	return nil
}

// startWatcher wires the config file watcher so the log level can be
// adjusted without a restart. All other keys require one.
func (a *App) startWatcher() {
	watcher, err := config.NewWatcher(a.cfgFile)
	if err != nil {
		a.log.Debug("config watcher disabled", "reason", err)
		return
	}

	watcher.OnChange(func(next *config.Config) {
		if next.Log.Level == a.cfg.Log.Level {
			return
		}
		if err := a.log.SetLevel(next.Log.Level); err != nil {
			a.log.Warn("ignoring invalid log level from config change", "level", next.Log.Level, "error", err)
			return
		}
		a.cfg.Log.Level = next.Log.Level
		a.log.Info("log level updated", "level", next.Log.Level)
	})

	watcher.Start()
	a.watcher = watcher
}

// Store exposes the warehouse for CLI subcommands that reuse the app wiring.
func (a *App) Store() *warehouse.Store {
	return a.store
}

// IsRunning reports whether Start has completed and Stop has not.
func (a *App) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// warehousePoolConfig adapts the warehouse section onto pool bounds.
func (a *App) warehousePoolConfig() pgpool.Config {
	cfg := pgpool.DefaultWarehouseConfig()
	if a.cfg.Warehouse.MinConns > 0 {
		cfg.MinConns = int32(a.cfg.Warehouse.MinConns)
	}
	if a.cfg.Warehouse.MaxConns > 0 {
		cfg.MaxConns = int32(a.cfg.Warehouse.MaxConns)
	}
	return cfg
}

// remotePoolConfig adapts the collector section onto per-target pool bounds.
func (a *App) remotePoolConfig() pgpool.Config {
	cfg := pgpool.DefaultRemoteConfig()
	if a.cfg.Collector.PoolMinConns > 0 {
		cfg.MinConns = int32(a.cfg.Collector.PoolMinConns)
	}
	if a.cfg.Collector.PoolMaxConns > 0 {
		cfg.MaxConns = int32(a.cfg.Collector.PoolMaxConns)
	}
	return cfg
}

// seedAdmin creates the first admin account when the users table is empty.
// The password comes from config when set, otherwise one is generated and
// logged exactly once.
func seedAdmin(ctx context.Context, store *warehouse.Store, configured string, log *logger.Logger) error {
	count, err := store.Users().Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := configured
	generated := false
	if password == "" {
		password, err = generatePassword()
		if err != nil {
			return err
		}
		generated = true
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	admin := &domain.User{
		Login:        "admin",
		PasswordHash: hash,
		Role:         domain.UserRoleAdmin,
		IsActive:     true,
	}
	if err := store.Users().Create(ctx, admin); err != nil {
		return err
	}

	if generated {
		// The password rides in the message text: attribute redaction would
		// mask it, and this is the one value the operator must read.
		log.Warn(fmt.Sprintf(
			"created initial admin account %q with generated password %s, change it after first login",
			admin.Login, password,
		))
	} else {
		log.Info("created initial admin account", "login", admin.Login)
	}
	return nil
}

// generatePassword returns a random URL-safe password for the seeded admin.
func generatePassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
