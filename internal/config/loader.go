package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AppName is the name used for config directories and the env prefix.
const AppName = "pgmon"

// configSearchPaths returns the paths to search for config files in order of
// precedence (later paths have higher priority in Viper).
func configSearchPaths() []string {
	paths := []string{filepath.Join("/etc", AppName)}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", AppName))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, cwd)
	}

	return paths
}

// UserConfigDir returns the user-specific config directory.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

// newViper creates and configures a new Viper instance.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml") // default, but will auto-detect

	for _, path := range configSearchPaths() {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindLegacyEnv(v)

	return v
}

// bindLegacyEnv keeps the unprefixed environment names the deployments
// already use working alongside the PGMON_* forms.
func bindLegacyEnv(v *viper.Viper) {
	aliases := map[string]string{
		"auth.secret_key":                "SECRET_KEY",
		"auth.encryption_key":            "ENCRYPTION_KEY",
		"auth.admin_password":            "PGMON_ADMIN_PASSWORD",
		"warehouse.dsn":                  "LOCAL_DB_DSN",
		"collector.collect_interval":     "COLLECT_INTERVAL",
		"collector.size_update_interval": "SIZE_UPDATE_INTERVAL",
		"collector.db_check_interval":    "DB_CHECK_INTERVAL",
		"collector.retention_months":     "RETENTION_MONTHS",
		"auth.allowed_origins":           "ALLOWED_ORIGINS",
	}
	for key, env := range aliases {
		prefixed := "PGMON_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		_ = v.BindEnv(key, prefixed, env)
	}
}

// Load loads the daemon configuration from file, environment, and defaults.
func Load(cfgFile string) (*Config, error) {
	v := newViper()

	setViperDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// ALLOWED_ORIGINS arrives comma separated when set through env.
	cfg.Auth.AllowedOrigins = splitOrigins(cfg.Auth.AllowedOrigins)

	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	return &cfg, nil
}

// splitOrigins expands any comma separated entries into individual origins.
func splitOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		for _, part := range strings.Split(o, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// setViperDefaults sets default values in Viper from a config struct.
func setViperDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", c.Server.IdleTimeout)

	v.SetDefault("warehouse.dsn", c.Warehouse.DSN)
	v.SetDefault("warehouse.min_conns", c.Warehouse.MinConns)
	v.SetDefault("warehouse.max_conns", c.Warehouse.MaxConns)

	v.SetDefault("collector.collect_interval", c.Collector.CollectInterval)
	v.SetDefault("collector.size_update_interval", c.Collector.SizeUpdateInterval)
	v.SetDefault("collector.db_check_interval", c.Collector.DBCheckInterval)
	v.SetDefault("collector.retention_months", c.Collector.RetentionMonths)
	v.SetDefault("collector.pool_min_conns", c.Collector.PoolMinConns)
	v.SetDefault("collector.pool_max_conns", c.Collector.PoolMaxConns)

	v.SetDefault("ssh.host_key_policy", c.SSH.HostKeyPolicy)
	v.SetDefault("ssh.known_hosts_path", c.SSH.KnownHostsPath)
	v.SetDefault("ssh.connect_timeout", c.SSH.ConnectTimeout)
	v.SetDefault("ssh.cache_ttl", c.SSH.CacheTTL)
	v.SetDefault("ssh.cache_max_size", c.SSH.CacheMaxSize)

	v.SetDefault("auth.access_token_ttl", c.Auth.AccessTokenTTL)
	v.SetDefault("auth.refresh_token_ttl", c.Auth.RefreshTokenTTL)
	v.SetDefault("auth.allowed_origins", c.Auth.AllowedOrigins)
	v.SetDefault("auth.login_rate_limit", c.Auth.LoginRateLimit)
	v.SetDefault("auth.login_burst", c.Auth.LoginBurst)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.output", c.Log.Output)
	v.SetDefault("log.file_path", c.Log.FilePath)
	v.SetDefault("log.max_size_mb", c.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", c.Log.MaxBackups)
	v.SetDefault("log.max_age_days", c.Log.MaxAgeDays)
}

// ConfigFileUsed returns the config file path that was loaded, if any.
func ConfigFileUsed() string {
	v := newViper()
	_ = v.ReadInConfig()
	return v.ConfigFileUsed()
}

// NewViperFromConfig creates a viper instance populated with values from a
// config struct, used when generating a starter config file.
func NewViperFromConfig(c *Config) *viper.Viper {
	v := viper.New()

	v.Set("server.host", c.Server.Host)
	v.Set("server.port", c.Server.Port)
	v.Set("server.read_timeout", c.Server.ReadTimeout.String())
	v.Set("server.write_timeout", c.Server.WriteTimeout.String())
	v.Set("server.idle_timeout", c.Server.IdleTimeout.String())

	v.Set("warehouse.dsn", c.Warehouse.DSN)
	v.Set("warehouse.min_conns", c.Warehouse.MinConns)
	v.Set("warehouse.max_conns", c.Warehouse.MaxConns)

	v.Set("collector.collect_interval", c.Collector.CollectInterval)
	v.Set("collector.size_update_interval", c.Collector.SizeUpdateInterval)
	v.Set("collector.db_check_interval", c.Collector.DBCheckInterval)
	v.Set("collector.retention_months", c.Collector.RetentionMonths)
	v.Set("collector.pool_min_conns", c.Collector.PoolMinConns)
	v.Set("collector.pool_max_conns", c.Collector.PoolMaxConns)

	v.Set("ssh.host_key_policy", c.SSH.HostKeyPolicy)
	v.Set("ssh.known_hosts_path", c.SSH.KnownHostsPath)
	v.Set("ssh.connect_timeout", c.SSH.ConnectTimeout.String())
	v.Set("ssh.cache_ttl", c.SSH.CacheTTL.String())
	v.Set("ssh.cache_max_size", c.SSH.CacheMaxSize)

	v.Set("auth.access_token_ttl", c.Auth.AccessTokenTTL.String())
	v.Set("auth.refresh_token_ttl", c.Auth.RefreshTokenTTL.String())
	v.Set("auth.allowed_origins", c.Auth.AllowedOrigins)
	v.Set("auth.login_rate_limit", c.Auth.LoginRateLimit)
	v.Set("auth.login_burst", c.Auth.LoginBurst)

	v.Set("log.level", c.Log.Level)
	v.Set("log.format", c.Log.Format)
	v.Set("log.output", c.Log.Output)

	return v
}
