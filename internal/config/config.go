// Package config loads tillsync configuration with precedence:
// defaults, then an optional YAML file, then TILLSYNC_* environment
// variables. The returned Config is read-only after Load.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tillsync/tillsync/internal/models"
)

// Config is the root configuration structure
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Feed     FeedConfig     `yaml:"feed"`
	Log      LogConfig      `yaml:"log"`
	Devstore DevstoreConfig `yaml:"devstore"`
}

// RemoteConfig locates the remote entity store
type RemoteConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"-"` // env-only, never in YAML
}

// DatabaseConfig locates the local durable store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig tunes the sync engine
type SyncConfig struct {
	Interval   Duration      `yaml:"interval"`
	Tables     []TableConfig `yaml:"tables"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	AutoClear  bool          `yaml:"auto_clear"`
}

// TableConfig describes one synced table
type TableConfig struct {
	Name string `yaml:"name"`
	// Mode is "entities" (updated_at/deleted_at delta sync) or "events"
	// (append-only forward sync)
	Mode string `yaml:"mode"`
}

// FeedConfig locates the change-feed websocket
type FeedConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DevstoreConfig tunes the development remote store daemon
type DevstoreConfig struct {
	Addr         string `yaml:"addr"`
	DatabasePath string `yaml:"database_path"`
	JWTSecret    string `yaml:"-"` // env-only, never in YAML
}

// Duration is a wrapper around time.Duration that supports YAML string
// parsing ("30s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// TableMode returns the table's mode as a typed value, defaulting to entities
func (t TableConfig) TableMode() models.TableMode {
	if t.Mode == string(models.ModeEvents) {
		return models.ModeEvents
	}
	return models.ModeEntities
}

// Load loads configuration from an optional YAML path plus environment.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := newDefaults()

	if path == "" {
		path = getEnv("TILLSYNC_CONFIG_PATH", "tillsync.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		// Missing file is OK; use defaults
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values
func newDefaults() *Config {
	return &Config{
		Remote: RemoteConfig{
			URL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Path: "tillsync.db",
		},
		Sync: SyncConfig{
			Interval:   Duration(30 * time.Second),
			BatchSize:  500,
			MaxRetries: 5,
			AutoClear:  true,
			Tables: []TableConfig{
				{Name: "products", Mode: "entities"},
				{Name: "customers", Mode: "entities"},
				{Name: "stock_movements", Mode: "events"},
			},
		},
		Feed: FeedConfig{
			URL:     "ws://localhost:8080/realtime",
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Devstore: DevstoreConfig{
			Addr:         ":8080",
			DatabasePath: "tillsyncd.db",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TILLSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("TILLSYNC_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv("TILLSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TILLSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("TILLSYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("TILLSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRetries = n
		}
	}
	if v := os.Getenv("TILLSYNC_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("TILLSYNC_FEED_ENABLED"); v != "" {
		cfg.Feed.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TILLSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TILLSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TILLSYNC_DEVSTORE_ADDR"); v != "" {
		cfg.Devstore.Addr = v
	}
	if v := os.Getenv("TILLSYNC_DEVSTORE_DB_PATH"); v != "" {
		cfg.Devstore.DatabasePath = v
	}
	if v := os.Getenv("TILLSYNC_JWT_SECRET"); v != "" {
		cfg.Devstore.JWTSecret = v
	}
}

// validate checks that required configuration values are coherent
func (c *Config) validate() error {
	if c.Remote.URL == "" {
		return fmt.Errorf("remote.url is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if len(c.Sync.Tables) == 0 {
		return fmt.Errorf("at least one synced table is required")
	}
	for _, t := range c.Sync.Tables {
		if t.Name == "" {
			return fmt.Errorf("table name is required")
		}
		if t.Mode != "" && t.Mode != string(models.ModeEntities) && t.Mode != string(models.ModeEvents) {
			return fmt.Errorf("table %q: unknown mode %q", t.Name, t.Mode)
		}
	}
	return nil
}

// BuildLogger constructs a slog.Logger per the log settings
func BuildLogger(cfg LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// getEnv returns the value of an environment variable or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
