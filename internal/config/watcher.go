package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher watches the loaded config file and invokes callbacks with the
// reloaded configuration whenever it changes on disk.
type Watcher struct {
	v       *viper.Viper
	cfgFile string

	mu        sync.RWMutex
	callbacks []func(*Config)
	last      *Config
}

// NewWatcher creates a watcher over the config file the daemon loaded. It
// fails when no config file is in play, since env-only configurations have
// nothing to watch.
func NewWatcher(cfgFile string) (*Watcher, error) {
	v := newViper()
	setViperDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("no config file to watch")
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if v.ConfigFileUsed() == "" {
		return nil, fmt.Errorf("no config file to watch")
	}

	return &Watcher{v: v, cfgFile: cfgFile}, nil
}

// OnChange registers a callback invoked with every successfully reloaded
// configuration.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes. The underlying watch goroutine
// lives for the rest of the process.
func (w *Watcher) Start() {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.handleChange()
	})
	w.v.WatchConfig()
}

// handleChange reloads the configuration and fans it out to callbacks.
// Unparseable intermediate states (editors save in stages) are skipped.
func (w *Watcher) handleChange() {
	cfg, err := w.load()
	if err != nil {
		return
	}

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(cfg)
	}

	w.mu.Lock()
	w.last = cfg
	w.mu.Unlock()
}

// load unmarshals the current file contents the same way Load does.
func (w *Watcher) load() (*Config, error) {
	var cfg Config
	if err := w.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Auth.AllowedOrigins = splitOrigins(cfg.Auth.AllowedOrigins)

	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	return &cfg, nil
}

// Current returns the last configuration handed to callbacks, or nil when
// no change has fired yet.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

// Reload forces a reload outside the file watch, for tests and SIGHUP-style
// triggers.
func (w *Watcher) Reload() error {
	if err := w.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	w.handleChange()
	return nil
}
