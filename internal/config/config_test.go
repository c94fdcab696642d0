package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ==================== Types Tests ====================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default returned nil")
	}

	// Server configuration
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected server host '0.0.0.0', got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected server port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout 30s, got %v", cfg.Server.ReadTimeout)
	}

	// Warehouse configuration
	if cfg.Warehouse.DSN == "" {
		t.Error("expected warehouse DSN to have a default")
	}
	if cfg.Warehouse.MinConns != 2 {
		t.Errorf("expected warehouse min conns 2, got %d", cfg.Warehouse.MinConns)
	}
	if cfg.Warehouse.MaxConns != 10 {
		t.Errorf("expected warehouse max conns 10, got %d", cfg.Warehouse.MaxConns)
	}

	// Collector configuration
	if cfg.Collector.CollectInterval != 600 {
		t.Errorf("expected collect interval 600, got %d", cfg.Collector.CollectInterval)
	}
	if cfg.Collector.SizeUpdateInterval != 1800 {
		t.Errorf("expected size update interval 1800, got %d", cfg.Collector.SizeUpdateInterval)
	}
	if cfg.Collector.DBCheckInterval != 1800 {
		t.Errorf("expected db check interval 1800, got %d", cfg.Collector.DBCheckInterval)
	}
	if cfg.Collector.RetentionMonths != 12 {
		t.Errorf("expected retention months 12, got %d", cfg.Collector.RetentionMonths)
	}
	if cfg.Collector.PoolMinConns != 1 {
		t.Errorf("expected pool min conns 1, got %d", cfg.Collector.PoolMinConns)
	}
	if cfg.Collector.PoolMaxConns != 5 {
		t.Errorf("expected pool max conns 5, got %d", cfg.Collector.PoolMaxConns)
	}

	// SSH configuration
	if cfg.SSH.HostKeyPolicy != HostKeyAutoAccept {
		t.Errorf("expected host key policy %q, got %q", HostKeyAutoAccept, cfg.SSH.HostKeyPolicy)
	}
	if cfg.SSH.ConnectTimeout != 10*time.Second {
		t.Errorf("expected ssh connect timeout 10s, got %v", cfg.SSH.ConnectTimeout)
	}
	if cfg.SSH.CacheTTL != 30*time.Second {
		t.Errorf("expected ssh cache ttl 30s, got %v", cfg.SSH.CacheTTL)
	}
	if cfg.SSH.CacheMaxSize != 500 {
		t.Errorf("expected ssh cache max size 500, got %d", cfg.SSH.CacheMaxSize)
	}

	// Auth configuration
	if cfg.Auth.AccessTokenTTL != 60*time.Minute {
		t.Errorf("expected access token ttl 60m, got %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("expected refresh token ttl 168h, got %v", cfg.Auth.RefreshTokenTTL)
	}
	if len(cfg.Auth.AllowedOrigins) == 0 {
		t.Error("expected allowed origins to have a default")
	}
	if cfg.Auth.LoginBurst != 5 {
		t.Errorf("expected login burst 5, got %d", cfg.Auth.LoginBurst)
	}

	// Log configuration
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected log format 'text', got %q", cfg.Log.Format)
	}
	if cfg.Log.Output != "stderr" {
		t.Errorf("expected log output 'stderr', got %q", cfg.Log.Output)
	}
}

func TestServerConfigAddr(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if cfg.Addr() != "127.0.0.1:9000" {
		t.Errorf("expected addr '127.0.0.1:9000', got %q", cfg.Addr())
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.EncryptionKey = "enc-key"
		cfg.Auth.SecretKey = "secret-key"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing encryption key", func(c *Config) { c.Auth.EncryptionKey = "" }},
		{"missing secret key", func(c *Config) { c.Auth.SecretKey = "" }},
		{"missing dsn", func(c *Config) { c.Warehouse.DSN = "" }},
		{"warehouse max below min", func(c *Config) { c.Warehouse.MinConns = 8; c.Warehouse.MaxConns = 2 }},
		{"collector max below min", func(c *Config) { c.Collector.PoolMinConns = 4; c.Collector.PoolMaxConns = 1 }},
		{"unknown host key policy", func(c *Config) { c.SSH.HostKeyPolicy = "trust-everything" }},
		{"known-hosts without path", func(c *Config) { c.SSH.HostKeyPolicy = HostKeyKnownHosts; c.SSH.KnownHostsPath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// ==================== Loader Tests ====================

func skipIfUserConfigExists(t *testing.T) {
	t.Helper()
	configDir, _ := UserConfigDir()
	for _, ext := range SupportedFormats {
		path := filepath.Join(configDir, "config."+ext)
		if _, err := os.Stat(path); err == nil {
			t.Skipf("Skipping test because user config exists at %s", path)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	skipIfUserConfigExists(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defaults := Default()
	if cfg.Log.Level != defaults.Log.Level {
		t.Errorf("expected log level %q, got %q", defaults.Log.Level, cfg.Log.Level)
	}
	if cfg.Server.Port != defaults.Server.Port {
		t.Errorf("expected server port %d, got %d", defaults.Server.Port, cfg.Server.Port)
	}
	if cfg.Collector.CollectInterval != defaults.Collector.CollectInterval {
		t.Errorf("expected collect interval %d, got %d", defaults.Collector.CollectInterval, cfg.Collector.CollectInterval)
	}
}

func TestLoad_WithConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
log:
  level: debug
  format: json
server:
  host: 127.0.0.1
  port: 9090
collector:
  collect_interval: 300
auth:
  allowed_origins:
    - "http://one.example, http://two.example"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected server host '127.0.0.1', got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected server port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Collector.CollectInterval != 300 {
		t.Errorf("expected collect interval 300, got %d", cfg.Collector.CollectInterval)
	}
	// Comma separated entries split into individual origins.
	if len(cfg.Auth.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 allowed origins, got %d: %v", len(cfg.Auth.AllowedOrigins), cfg.Auth.AllowedOrigins)
	}
	if cfg.Auth.AllowedOrigins[0] != "http://one.example" {
		t.Errorf("expected first origin 'http://one.example', got %q", cfg.Auth.AllowedOrigins[0])
	}
	if cfg.Auth.AllowedOrigins[1] != "http://two.example" {
		t.Errorf("expected second origin 'http://two.example', got %q", cfg.Auth.AllowedOrigins[1])
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid config file")
	}
}

func TestLoad_NonExistentConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent config file")
	}
}

func TestLoad_WithEnvVars(t *testing.T) {
	skipIfUserConfigExists(t)

	os.Setenv("PGMON_LOG_LEVEL", "error")
	os.Setenv("PGMON_SERVER_PORT", "9999")
	defer func() {
		os.Unsetenv("PGMON_LOG_LEVEL")
		os.Unsetenv("PGMON_SERVER_PORT")
	}()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "error" {
		t.Errorf("expected log level 'error' from env, got %q", cfg.Log.Level)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected server port 9999 from env, got %d", cfg.Server.Port)
	}
}

func TestLoad_LegacyEnvAliases(t *testing.T) {
	skipIfUserConfigExists(t)

	os.Setenv("SECRET_KEY", "legacy-secret")
	os.Setenv("COLLECT_INTERVAL", "900")
	defer func() {
		os.Unsetenv("SECRET_KEY")
		os.Unsetenv("COLLECT_INTERVAL")
	}()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Auth.SecretKey != "legacy-secret" {
		t.Errorf("expected secret key 'legacy-secret' from legacy env, got %q", cfg.Auth.SecretKey)
	}
	if cfg.Collector.CollectInterval != 900 {
		t.Errorf("expected collect interval 900 from legacy env, got %d", cfg.Collector.CollectInterval)
	}
}

func TestSplitOrigins(t *testing.T) {
	got := splitOrigins([]string{"http://a.example,http://b.example", " http://c.example "})
	if len(got) != 3 {
		t.Fatalf("expected 3 origins, got %d: %v", len(got), got)
	}
	if got[0] != "http://a.example" || got[1] != "http://b.example" || got[2] != "http://c.example" {
		t.Errorf("unexpected origins: %v", got)
	}

	if out := splitOrigins(nil); out != nil {
		t.Errorf("expected nil for empty input, got %v", out)
	}
}

func TestConfigSearchPaths(t *testing.T) {
	paths := configSearchPaths()
	if len(paths) == 0 {
		t.Fatal("expected at least one search path")
	}
	if paths[0] != filepath.Join("/etc", AppName) {
		t.Errorf("expected first path '/etc/pgmon', got %q", paths[0])
	}
}

func TestUserConfigDir(t *testing.T) {
	dir, err := UserConfigDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(dir) != AppName {
		t.Errorf("expected config dir to end in %q, got %q", AppName, dir)
	}
}

// ==================== Secrets Tests ====================

func TestResolveSecretValue_PlainValue(t *testing.T) {
	got, err := resolveSecretValue("plain-value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "plain-value" {
		t.Errorf("expected 'plain-value', got %q", got)
	}
}

func TestResolveSecretValue_EnvPrefix(t *testing.T) {
	os.Setenv("PGMON_TEST_SECRET", "from-env")
	defer os.Unsetenv("PGMON_TEST_SECRET")

	got, err := resolveSecretValue("env://PGMON_TEST_SECRET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-env" {
		t.Errorf("expected 'from-env', got %q", got)
	}
}

func TestResolveSecretValue_EnvPrefix_NotSet(t *testing.T) {
	_, err := resolveSecretValue("env://PGMON_UNSET_SECRET_VAR")
	if err == nil {
		t.Error("expected error for unset environment variable")
	}
}

func TestResolveSecretValue_FilePrefix(t *testing.T) {
	tempDir := t.TempDir()
	secretPath := filepath.Join(tempDir, "secret.txt")
	if err := os.WriteFile(secretPath, []byte("  file-secret\n"), 0o600); err != nil {
		t.Fatalf("failed to write secret file: %v", err)
	}

	got, err := resolveSecretValue("file://" + secretPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "file-secret" {
		t.Errorf("expected trimmed 'file-secret', got %q", got)
	}
}

func TestResolveSecretValue_FilePrefix_NotFound(t *testing.T) {
	_, err := resolveSecretValue("file:///nonexistent/secret")
	if err == nil {
		t.Error("expected error for missing secret file")
	}
}

func TestResolveSecrets_Config(t *testing.T) {
	os.Setenv("PGMON_TEST_DSN", "postgres://real:dsn@db/warehouse")
	defer os.Unsetenv("PGMON_TEST_DSN")

	cfg := Default()
	cfg.Warehouse.DSN = "env://PGMON_TEST_DSN"

	if err := resolveSecrets(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Warehouse.DSN != "postgres://real:dsn@db/warehouse" {
		t.Errorf("expected resolved DSN, got %q", cfg.Warehouse.DSN)
	}
}

// ==================== Generator Tests ====================

func TestIsValidFormat(t *testing.T) {
	for _, f := range SupportedFormats {
		if !isValidFormat(f) {
			t.Errorf("expected %q to be a valid format", f)
		}
	}
	if isValidFormat("xml") {
		t.Error("expected 'xml' to be invalid")
	}
}

func TestGenerate_InvalidFormat(t *testing.T) {
	_, err := Generate("xml")
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestGenerateIfNotExists(t *testing.T) {
	tempDir := t.TempDir()
	origHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", origHome)

	path, created, err := GenerateIfNotExists("yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected config to be created")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected config file at %s: %v", path, err)
	}

	// Second call sees the existing file.
	path2, created2, err := GenerateIfNotExists("yaml")
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if created2 {
		t.Error("expected no new config on second call")
	}
	if path2 != path {
		t.Errorf("expected same path %q, got %q", path, path2)
	}

	// The generated file loads back with the defaults intact.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load generated config: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("expected generated port %d, got %d", Default().Server.Port, cfg.Server.Port)
	}
}

// ==================== Watcher Tests ====================

func TestNewWatcher_NoConfigFile(t *testing.T) {
	skipIfUserConfigExists(t)

	_, err := NewWatcher("")
	if err == nil {
		t.Error("expected error when no config file is in play")
	}
}

func TestWatcherReload(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	w, err := NewWatcher(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got *Config
	w.OnChange(func(cfg *Config) { got = cfg })

	if err := os.WriteFile(configPath, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config file: %v", err)
	}
	if err := w.Reload(); err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}

	if got == nil {
		t.Fatal("expected callback to fire")
	}
	if got.Log.Level != "debug" {
		t.Errorf("expected reloaded log level 'debug', got %q", got.Log.Level)
	}
	if w.Current() == nil || w.Current().Log.Level != "debug" {
		t.Error("expected Current to return the reloaded config")
	}
}
