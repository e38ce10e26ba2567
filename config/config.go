// Package config loads the YAML configuration of the tableorder service.
//
// Defaults come from Default(); a config file overlays them. Relative
// paths in the file are resolved against the file's directory.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration.
type Config struct {
	// Tables is the number of tables, numbered 1..Tables.
	Tables int `yaml:"tables"`

	// Catalog is the path of the YAML menu catalog.
	Catalog string `yaml:"catalog"`

	// StrictQuantities rejects quantity changes below zero instead of clamping.
	StrictQuantities bool `yaml:"strict_quantities"`

	// Serializer selects the command payload format: json or cbor.
	Serializer string `yaml:"serializer"`

	// RingSize is the engine inbox capacity. Must be a power of 2.
	RingSize int64 `yaml:"ring_size"`

	// SnapshotDir is where snapshots are written. Empty disables snapshots.
	SnapshotDir string `yaml:"snapshot_dir"`

	// JournalDir is the pebble journal directory. Empty disables the journal.
	JournalDir string `yaml:"journal_dir"`

	Log    LogConfig    `yaml:"log"`
	Notify NotifyConfig `yaml:"notify"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// NotifyConfig configures "ready" notifications.
type NotifyConfig struct {
	// AMQPURL is the broker URL. Empty disables notifications.
	AMQPURL string `yaml:"amqp_url"`

	// Exchange is the fanout exchange name.
	Exchange string `yaml:"exchange"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Tables:     30,
		Catalog:    "configs/menu.yaml",
		Serializer: "json",
		RingSize:   1024,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Notify: NotifyConfig{
			Exchange: "notifications_fanout",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	cfg.Catalog = resolve(base, cfg.Catalog)
	cfg.SnapshotDir = resolve(base, cfg.SnapshotDir)
	cfg.JournalDir = resolve(base, cfg.JournalDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Tables < 1 {
		errs = append(errs, fmt.Errorf("tables must be positive, got %d", c.Tables))
	}
	if c.Catalog == "" {
		errs = append(errs, errors.New("catalog path is required"))
	}
	if c.RingSize <= 0 || c.RingSize&(c.RingSize-1) != 0 {
		errs = append(errs, fmt.Errorf("ring_size must be a power of 2, got %d", c.RingSize))
	}
	switch c.Serializer {
	case "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("serializer must be json or cbor, got %q", c.Serializer))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.Log.Format))
	}
	if c.Notify.AMQPURL != "" && c.Notify.Exchange == "" {
		errs = append(errs, errors.New("notify exchange is required when amqp_url is set"))
	}

	return errors.Join(errs...)
}

// NewLogger builds a slog logger writing to w as configured.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
