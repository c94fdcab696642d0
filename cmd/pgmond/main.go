// Package main provides the pgmond monitoring daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pgmon/internal/app"
	"pgmon/internal/config"
	"pgmon/internal/logger"
	"pgmon/internal/version"
)

var (
	cfgFile     string
	showVersion bool
)

func init() {
	flag.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgmon/config.yaml)")
	flag.BoolVar(&showVersion, "version", false, "show version")
}

func main() {
	flag.Parse()

	if showVersion {
		info := version.Get()
		fmt.Printf("pgmond %s\n", info.String())
		fmt.Println(info.Full())
		os.Exit(0)
	}

	// Write a starter config on first run so operators have a file to edit.
	if cfgFile == "" {
		path, created, err := config.GenerateIfNotExists("yaml")
		if err == nil && created {
			stdlog.Printf("Created default config at: %s", path)
			stdlog.Printf("Set auth.secret_key and auth.encryption_key before exposing the API.")
		}
	}

	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("Invalid config: %v", err)
	}

	// Initialize structured logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = log.Close() }()

	// Log startup
	log.Info("starting pgmond",
		"version", version.Version,
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Log.Level,
		"log_format", cfg.Log.Format,
	)

	// Debug log configuration details
	log.Debug("collector configuration",
		"collect_interval_s", cfg.Collector.CollectInterval,
		"size_update_interval_s", cfg.Collector.SizeUpdateInterval,
		"db_check_interval_s", cfg.Collector.DBCheckInterval,
		"retention_months", cfg.Collector.RetentionMonths,
		"pool_min_conns", cfg.Collector.PoolMinConns,
		"pool_max_conns", cfg.Collector.PoolMaxConns,
	)

	log.Debug("ssh configuration",
		"host_key_policy", cfg.SSH.HostKeyPolicy,
		"connect_timeout", cfg.SSH.ConnectTimeout,
		"cache_ttl", cfg.SSH.CacheTTL,
	)

	log.Debug("auth configuration",
		"access_token_ttl", cfg.Auth.AccessTokenTTL,
		"refresh_token_ttl", cfg.Auth.RefreshTokenTTL,
		"allowed_origins", cfg.Auth.AllowedOrigins,
	)

	ctx := logger.WithLogger(context.Background(), log)

	// Create and start the app
	a := app.New(cfg, cfgFile, log)

	if err := a.Start(ctx); err != nil {
		log.Error("failed to start", "error", err)
		log.Close()
		os.Exit(1)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for a shutdown signal or an HTTP server failure
	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-a.Done():
		if err := a.ServerErr(); err != nil {
			log.Error("http server failed", "error", err)
		}
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}

	log.Info("pgmond stopped")
}
