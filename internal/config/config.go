// Package config loads the media archive configuration from YAML, with
// environment overrides for the settings that change between deployments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultListenAddr is the daemon's default listen address.
const DefaultListenAddr = "[::]:47874"

// Config holds all media archive configuration.
type Config struct {
	// Archive location
	Path string `yaml:"path"`
	Bare bool   `yaml:"bare"`

	// Daemon
	Server ServerConfig `yaml:"server"`

	// Store verification
	Verify VerifyConfig `yaml:"verify"`

	// Deployment drift watcher
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP daemon.
type ServerConfig struct {
	Listen          string `yaml:"listen"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// VerifyConfig configures store verification.
type VerifyConfig struct {
	Workers int `yaml:"workers"`
}

// WatchConfig configures the deployment drift watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Path: ".",
		Server: ServerConfig{
			Listen:          DefaultListenAddr,
			ShutdownTimeout: "10s",
		},
		Verify: VerifyConfig{
			Workers: runtime.NumCPU(),
		},
		Watch: WatchConfig{
			Debounce: "300ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment variables override the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("archive path must not be empty")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address must not be empty")
	}
	if c.Verify.Workers < 1 {
		return fmt.Errorf("verify workers must be at least 1, got %d", c.Verify.Workers)
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	if _, err := c.WatchDebounce(); err != nil {
		return fmt.Errorf("invalid watch debounce: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// ShutdownTimeout parses the configured shutdown timeout.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Server.ShutdownTimeout)
}

// WatchDebounce parses the configured watcher debounce interval.
func (c *Config) WatchDebounce() (time.Duration, error) {
	return time.ParseDuration(c.Watch.Debounce)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEDIARCHIVE_PATH"); v != "" {
		c.Path = v
	}
	if v := os.Getenv("MEDIARCHIVE_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("MEDIARCHIVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
