package app

import (
	"encoding/base64"
	"testing"

	"pgmon/internal/config"
	"pgmon/internal/logger"
	"pgmon/internal/storage/pgpool"
)

func TestGeneratePassword(t *testing.T) {
	first, err := generatePassword()
	if err != nil {
		t.Fatalf("generatePassword() error = %v", err)
	}
	if first == "" {
		t.Fatal("generatePassword() returned an empty password")
	}
	if _, err := base64.RawURLEncoding.DecodeString(first); err != nil {
		t.Errorf("password is not URL-safe base64: %v", err)
	}

	second, err := generatePassword()
	if err != nil {
		t.Fatalf("generatePassword() error = %v", err)
	}
	if first == second {
		t.Error("two generated passwords are identical")
	}
}

func TestPoolConfigOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Warehouse.MinConns = 4
	cfg.Warehouse.MaxConns = 20
	cfg.Collector.PoolMinConns = 2
	cfg.Collector.PoolMaxConns = 8

	a := New(cfg, "", logger.Default())

	wh := a.warehousePoolConfig()
	if wh.MinConns != 4 {
		t.Errorf("warehouse MinConns = %d, want 4", wh.MinConns)
	}
	if wh.MaxConns != 20 {
		t.Errorf("warehouse MaxConns = %d, want 20", wh.MaxConns)
	}
	if wh.ConnectTimeout == 0 {
		t.Error("warehouse ConnectTimeout lost its default")
	}

	rm := a.remotePoolConfig()
	if rm.MinConns != 2 {
		t.Errorf("remote MinConns = %d, want 2", rm.MinConns)
	}
	if rm.MaxConns != 8 {
		t.Errorf("remote MaxConns = %d, want 8", rm.MaxConns)
	}
	if rm.StatementTimeout == 0 {
		t.Error("remote StatementTimeout lost its default")
	}
}

func TestPoolConfigZeroKeepsDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Warehouse.MinConns = 0
	cfg.Warehouse.MaxConns = 0
	cfg.Collector.PoolMinConns = 0
	cfg.Collector.PoolMaxConns = 0

	a := New(cfg, "", logger.Default())

	wh := a.warehousePoolConfig()
	whDef := pgpool.DefaultWarehouseConfig()
	if wh.MinConns != whDef.MinConns {
		t.Errorf("warehouse MinConns = %d, want default %d", wh.MinConns, whDef.MinConns)
	}
	if wh.MaxConns != whDef.MaxConns {
		t.Errorf("warehouse MaxConns = %d, want default %d", wh.MaxConns, whDef.MaxConns)
	}

	rm := a.remotePoolConfig()
	rmDef := pgpool.DefaultRemoteConfig()
	if rm.MinConns != rmDef.MinConns {
		t.Errorf("remote MinConns = %d, want default %d", rm.MinConns, rmDef.MinConns)
	}
	if rm.MaxConns != rmDef.MaxConns {
		t.Errorf("remote MaxConns = %d, want default %d", rm.MaxConns, rmDef.MaxConns)
	}
}

func TestIsRunningBeforeStart(t *testing.T) {
	a := New(config.Default(), "", logger.Default())
	if a.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
}
