package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read by `clipsync serve` when --config is not given.
const DefaultPath = "clipsync.yml"

// Environment variables that override file values.
const (
	EnvAddr      = "CLIPSYNC_ADDR"
	EnvRedisURL  = "CLIPSYNC_REDIS_URL"
	EnvRegistry  = "CLIPSYNC_REGISTRY"
	EnvSQLite    = "CLIPSYNC_SQLITE_PATH"
	EnvNamespace = "CLIPSYNC_NAMESPACE"
	EnvLogLevel  = "CLIPSYNC_LOG_LEVEL"
	EnvBarkURL   = "CLIPSYNC_BARK_URL"
)

// Config represents the top-level clipsync.yml configuration
type Config struct {
	Version  string          `yaml:"version"`
	Server   *ServerConfig   `yaml:"server,omitempty"`
	Registry *RegistryConfig `yaml:"registry,omitempty"`
	Mailbox  *MailboxConfig  `yaml:"mailbox,omitempty"`
	Notify   *NotifyConfig   `yaml:"notify,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
}

// ServerConfig specifies the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// RegistryConfig selects the device registry backend
type RegistryConfig struct {
	Driver     string `yaml:"driver"`               // "redis" or "sqlite"
	RedisURL   string `yaml:"redis_url,omitempty"`  // used by the redis driver
	Namespace  string `yaml:"namespace,omitempty"`  // redis key namespace
	SQLitePath string `yaml:"sqlite_path,omitempty"` // used by the sqlite driver
}

// MailboxConfig bounds the in-memory clipboard state
type MailboxConfig struct {
	HistoryCapacity int `yaml:"history_capacity,omitempty"` // entries kept per user (default 100)
	FanoutBuffer    int `yaml:"fanout_buffer,omitempty"`    // per-subscription slack (default 10)
}

// NotifyConfig controls Bark push notifications for devices that missed a live entry
type NotifyConfig struct {
	Enabled bool          `yaml:"enabled"`
	BarkURL string        `yaml:"bark_url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LogConfig controls structured logging output
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "json" or "text"
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{Version: "1.0"}
	// Validate only fills defaults here, it cannot fail on an empty config.
	_ = cfg.Validate()
	return cfg
}

// Validate performs strict validation on the configuration and fills in defaults
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":22010"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	if c.Registry == nil {
		c.Registry = &RegistryConfig{}
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}

	if c.Mailbox == nil {
		c.Mailbox = &MailboxConfig{}
	}
	if c.Mailbox.HistoryCapacity == 0 {
		c.Mailbox.HistoryCapacity = 100
	}
	if c.Mailbox.FanoutBuffer == 0 {
		c.Mailbox.FanoutBuffer = 10
	}
	if c.Mailbox.HistoryCapacity < 1 {
		return fmt.Errorf("mailbox.history_capacity must be >= 1, got %d", c.Mailbox.HistoryCapacity)
	}
	if c.Mailbox.FanoutBuffer < 1 {
		return fmt.Errorf("mailbox.fanout_buffer must be >= 1, got %d", c.Mailbox.FanoutBuffer)
	}

	if c.Notify == nil {
		c.Notify = &NotifyConfig{}
	}
	if c.Notify.BarkURL == "" {
		c.Notify.BarkURL = "https://api.day.app"
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 5 * time.Second
	}
	if u, err := url.Parse(c.Notify.BarkURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("notify.bark_url must be an absolute URL, got %q", c.Notify.BarkURL)
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %s (must be 'debug', 'info', 'warn' or 'error')", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format: %s (must be 'json' or 'text')", c.Log.Format)
	}

	return nil
}

// Validate checks the registry section and applies driver defaults
func (r *RegistryConfig) Validate() error {
	if r.Driver == "" {
		r.Driver = "redis"
	}

	switch r.Driver {
	case "redis":
		if r.RedisURL == "" {
			r.RedisURL = "redis://localhost:6379/0"
		}
		if r.Namespace == "" {
			r.Namespace = "default"
		}
	case "sqlite":
		if r.SQLitePath == "" {
			r.SQLitePath = "./data/data.db"
		}
	default:
		return fmt.Errorf("invalid registry.driver: %s (must be 'redis' or 'sqlite')", r.Driver)
	}

	return nil
}

// ApplyEnv overrides file values with CLIPSYNC_* environment variables, then
// re-validates. A .env file in the working directory is loaded first when present;
// variables already set in the process environment win over .env values.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if v, ok := os.LookupEnv(EnvAddr); ok {
		c.Server.Addr = v
	}
	if v, ok := os.LookupEnv(EnvRegistry); ok {
		c.Registry.Driver = v
	}
	if v, ok := os.LookupEnv(EnvRedisURL); ok {
		c.Registry.RedisURL = v
	}
	if v, ok := os.LookupEnv(EnvNamespace); ok {
		c.Registry.Namespace = v
	}
	if v, ok := os.LookupEnv(EnvSQLite); ok {
		c.Registry.SQLitePath = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvBarkURL); ok {
		c.Notify.BarkURL = v
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return nil
}

// Load reads and validates clipsync.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}
