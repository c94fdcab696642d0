// Package httpapi is the JSON surface of the monitor: login and token
// rotation, the target registry, the SSH key lifecycle, operator accounts,
// settings, audit and system log queries, and the statistics read API.
//
// Routes are grouped by the role they demand. Reads are open to any
// authenticated user, registry and key writes to admins and operators,
// account and settings management to admins only.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"pgmon/internal/auth"
	"pgmon/internal/collector"
	"pgmon/internal/config"
	"pgmon/internal/domain"
	"pgmon/internal/logger"
	"pgmon/internal/metrics"
	"pgmon/internal/remote"
	"pgmon/internal/sshexec"
	"pgmon/internal/storage/warehouse"
)

// shutdownGrace bounds how long in-flight requests may run after the
// context is canceled.
const shutdownGrace = 30 * time.Second

// Deps carries the collaborators the API serves. Every field is required.
type Deps struct {
	Store     *warehouse.Store
	Remote    *remote.Manager
	SSH       *sshexec.Executor
	Collector *collector.Collector
	Auth      *auth.Service
}

// Server is the HTTP API server.
type Server struct {
	log     *logger.Logger
	cfg     config.ServerConfig
	origins []string

	store   *warehouse.Store
	remote  *remote.Manager
	ssh     *sshexec.Executor
	coll    *collector.Collector
	auth    *auth.Service
	limiter *auth.RateLimiter

	server http.Server
}

// NewServer builds the server and its router. It does not listen yet;
// Run does.
func NewServer(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	s := &Server{
		log:     log.Component("httpapi"),
		cfg:     cfg.Server,
		origins: cfg.Auth.AllowedOrigins,
		store:   deps.Store,
		remote:  deps.Remote,
		ssh:     deps.SSH,
		coll:    deps.Collector,
		auth:    deps.Auth,
		limiter: auth.NewRateLimiter(cfg.Auth.LoginRateLimit, cfg.Auth.LoginBurst),
	}
	s.server = http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.withCORS(s.router()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// Handler returns the fully wired handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) router() *mux.Router {
	root := mux.NewRouter()
	root.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusNotFound, errorPayload{Error: "not found"})
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusMethodNotAllowed, errorPayload{Error: "method not allowed"})
	})

	api := root.PathPrefix("/api/").Subrouter()
	api.Use(s.observe)

	// No credentials required.
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/token", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	// Any authenticated user.
	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/users/me", s.handleCurrentUser).Methods(http.MethodGet)
	authed.HandleFunc("/servers", s.handleListServers).Methods(http.MethodGet)
	authed.HandleFunc("/pools/status", s.handlePoolsStatus).Methods(http.MethodGet)
	authed.HandleFunc("/server_stats/{name}", s.handleServerActivity).Methods(http.MethodGet)
	authed.HandleFunc("/server/{name}/stats", s.handleServerStats).Methods(http.MethodGet)
	authed.HandleFunc("/server/{name}/db/{db}", s.handleDatabaseDetail).Methods(http.MethodGet)
	authed.HandleFunc("/server/{name}/db/{db}/stats", s.handleDatabaseStats).Methods(http.MethodGet)
	authed.HandleFunc("/ssh-keys", s.handleListKeys).Methods(http.MethodGet)
	authed.HandleFunc("/ssh-keys/{id}/servers", s.handleKeyServers).Methods(http.MethodGet)
	authed.HandleFunc("/ssh-keys/{id}/download-public", s.handleDownloadPublicKey).Methods(http.MethodGet)
	authed.HandleFunc("/ssh-keys/{id}", s.handleGetKey).Methods(http.MethodGet)

	// Admins and operators.
	writer := api.NewRoute().Subrouter()
	writer.Use(s.requireAuth, s.requireRole(domain.UserRoleAdmin, domain.UserRoleOperator))
	writer.HandleFunc("/servers", s.handleAddServer).Methods(http.MethodPost)
	writer.HandleFunc("/servers/{name}", s.handleUpdateServer).Methods(http.MethodPut)
	writer.HandleFunc("/servers/{name}", s.handleDeleteServer).Methods(http.MethodDelete)
	writer.HandleFunc("/servers/{name}/test-ssh", s.handleTestSSH).Methods(http.MethodPost)
	writer.HandleFunc("/ssh-keys/generate", s.handleGenerateKey).Methods(http.MethodPost)
	writer.HandleFunc("/ssh-keys/import", s.handleImportKey).Methods(http.MethodPost)
	writer.HandleFunc("/ssh-keys/import-file", s.handleImportKeyFile).Methods(http.MethodPost)
	writer.HandleFunc("/ssh-keys/{id}", s.handleUpdateKey).Methods(http.MethodPut)
	writer.HandleFunc("/ssh-keys/{id}", s.handleDeleteKey).Methods(http.MethodDelete)

	// Admins only.
	admin := api.NewRoute().Subrouter()
	admin.Use(s.requireAuth, s.requireRole(domain.UserRoleAdmin))
	admin.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{login}", s.handleUpdateUser).Methods(http.MethodPut)
	admin.HandleFunc("/users/{login}", s.handleDeleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	admin.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	admin.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	admin.HandleFunc("/sessions/stats", s.handleSessionStats).Methods(http.MethodGet)
	admin.HandleFunc("/logs", s.handleListLogs).Methods(http.MethodGet)
	admin.HandleFunc("/logs/stats", s.handleLogStats).Methods(http.MethodGet)

	return root
}

// Run serves the API until ctx is canceled, then drains in-flight requests
// within the shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		return s.server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		defer cancel()
		s.log.Info("http api listening", "addr", listener.Addr().String())
		err := s.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return group.Wait()
}
