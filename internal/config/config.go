// Package config loads the appdeck configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// SyncConfig configures the synchronization core.
type SyncConfig struct {
	// Enabled is the initial default for the sync-enabled flag. The runtime
	// flag is persisted in the settings table and wins over this value once
	// set.
	Enabled bool `toml:"enabled"`

	// AutoIntervalSec is the auto-sync timer interval in seconds.
	AutoIntervalSec int `toml:"auto_interval_sec"`

	// CallTimeoutSec is the per-remote-call timeout in seconds.
	CallTimeoutSec int `toml:"call_timeout_sec"`

	// Strategy selects the conflict resolution strategy:
	// local, remote, newest, oldest, merge, ask_user.
	Strategy string `toml:"strategy"`

	// FallbackCategory receives assignments orphaned by a category deletion.
	FallbackCategory string `toml:"fallback_category"`
}

// RemoteConfig selects the remote store backend.
type RemoteConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`

	// DSN is the Postgres connection string when Backend is "postgres".
	DSN string `toml:"dsn"`

	// AccountToken identifies the account row used for availability checks.
	AccountToken string `toml:"account_token"`
}

// ReachabilityConfig configures the connectivity probe.
type ReachabilityConfig struct {
	// ProbeAddr is the TCP address dialed to determine connectivity.
	ProbeAddr string `toml:"probe_addr"`

	// IntervalSec is the polling interval in seconds.
	IntervalSec int `toml:"interval_sec"`
}

// Config is the root appdeck configuration.
type Config struct {
	DataDir     string `toml:"data_dir"`
	ListenAddr  string `toml:"listen_addr"`
	DeviceLabel string `toml:"device_label"`
	LogLevel    string `toml:"log_level"`

	Sync         SyncConfig         `toml:"sync"`
	Remote       RemoteConfig       `toml:"remote"`
	Reachability ReachabilityConfig `toml:"reachability"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "appdeck"
	}
	return &Config{
		DataDir:     "./data",
		ListenAddr:  "localhost:8090",
		DeviceLabel: host,
		LogLevel:    "info",
		Sync: SyncConfig{
			Enabled:          true,
			AutoIntervalSec:  300,
			CallTimeoutSec:   30,
			Strategy:         "newest",
			FallbackCategory: "Utilities",
		},
		Remote: RemoteConfig{
			Backend: "memory",
		},
		Reachability: ReachabilityConfig{
			ProbeAddr:   "1.1.1.1:443",
			IntervalSec: 15,
		},
	}
}

// Load reads the configuration file at path, applying defaults for missing
// values. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.AutoIntervalSec <= 0 {
		return fmt.Errorf("sync.auto_interval_sec must be positive, got %d", c.Sync.AutoIntervalSec)
	}
	if c.Sync.CallTimeoutSec <= 0 {
		return fmt.Errorf("sync.call_timeout_sec must be positive, got %d", c.Sync.CallTimeoutSec)
	}
	switch c.Sync.Strategy {
	case "local", "remote", "newest", "oldest", "merge", "ask_user":
	default:
		return fmt.Errorf("unknown sync.strategy %q", c.Sync.Strategy)
	}
	switch c.Remote.Backend {
	case "memory":
	case "postgres":
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown remote.backend %q", c.Remote.Backend)
	}
	return nil
}

// AutoInterval returns the auto-sync interval as a duration.
func (c *Config) AutoInterval() time.Duration {
	return time.Duration(c.Sync.AutoIntervalSec) * time.Second
}

// CallTimeout returns the per-remote-call timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Sync.CallTimeoutSec) * time.Second
}

// ProbeInterval returns the reachability polling interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Reachability.IntervalSec) * time.Second
}
