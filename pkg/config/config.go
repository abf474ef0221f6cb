// Package config handles quadstore configuration from a YAML file and
// environment variables.
//
// Settings are resolved in three layers: built-in defaults, then an optional
// YAML file, then QUADSTORE_* environment variables. A later layer only
// overrides the values it actually sets.
//
// Example Usage:
//
//	cfg, err := config.Load("quadstore.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	cfg.Memory.ApplyRuntimeMemory()
//
//	store, err := cfg.OpenStore(cfg.NewLogger(os.Stderr), prometheus.DefaultRegisterer)
//
// Environment Variables:
//   - QUADSTORE_DATA_DIR="./data"
//   - QUADSTORE_PERSIST=true
//   - QUADSTORE_READ_ONLY=false
//   - QUADSTORE_SYNC_WRITES=false
//   - QUADSTORE_LOW_MEMORY=false
//   - QUADSTORE_SYNC_DELAY=0s (negative syncs only at shutdown)
//   - QUADSTORE_AUTO_CLEANUP=true
//   - QUADSTORE_CLEANUP_MIN_INTERVAL=100ms
//   - QUADSTORE_SHUTDOWN_GRACE=20s
//   - QUADSTORE_SIZE_CACHE=256
//   - QUADSTORE_MEMORY_LIMIT="2GB"
//   - QUADSTORE_GC_PERCENT=100
//   - QUADSTORE_LOG_LEVEL=INFO
//   - QUADSTORE_LOG_FORMAT=text
//   - QUADSTORE_METRICS_ENABLED=true
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/quadstore/pkg/persist"
	"github.com/orneryd/quadstore/pkg/storage"
)

// Config holds all quadstore configuration.
//
// Configuration is organized into logical sections:
//   - Store: snapshot cleanup, sync scheduling and shutdown
//   - Persistence: where and how contents are written to disk
//   - Memory: Go runtime memory tuning
//   - Logging: level and format of the structured log
//   - Metrics: Prometheus registration
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Memory      MemoryConfig      `yaml:"memory"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// StoreConfig holds settings of the in-memory store itself.
type StoreConfig struct {
	// SyncDelay: 0 syncs at every commit, positive batches commits within
	// the window, negative syncs only on shutdown.
	SyncDelay time.Duration `yaml:"sync_delay"`
	// AutoCleanup reaps obsolete statements in the background.
	AutoCleanup bool `yaml:"auto_cleanup"`
	// CleanupMinInterval spaces background cleanup passes.
	CleanupMinInterval time.Duration `yaml:"cleanup_min_interval"`
	// ShutdownGrace bounds how long shutdown waits for open connections
	// and cursors.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	// SizeCache is the number of cached Size results, 0 disables caching.
	SizeCache int `yaml:"size_cache"`
}

// PersistenceConfig holds the on-disk settings. With Enabled false the
// store keeps its contents in memory only.
type PersistenceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DataDir    string `yaml:"data_dir"`
	ReadOnly   bool   `yaml:"read_only"`
	SyncWrites bool   `yaml:"sync_writes"`
	LowMemory  bool   `yaml:"low_memory"`
}

// MemoryConfig holds Go runtime memory settings.
type MemoryConfig struct {
	// RuntimeLimitStr is the human-readable soft memory limit ("2GB",
	// "512MB", "unlimited").
	RuntimeLimitStr string `yaml:"limit"`
	// RuntimeLimit is RuntimeLimitStr in bytes; 0 means unlimited.
	RuntimeLimit int64 `yaml:"-"`
	// GCPercent is passed to debug.SetGCPercent when it differs from 100.
	GCPercent int `yaml:"gc_percent"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string `yaml:"level"`
	// Format (json, text)
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration: a persistent store in ./data
// that syncs at every commit.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			AutoCleanup:        true,
			CleanupMinInterval: 100 * time.Millisecond,
			ShutdownGrace:      20 * time.Second,
			SizeCache:          256,
		},
		Persistence: PersistenceConfig{
			Enabled: true,
			DataDir: "./data",
		},
		Memory: MemoryConfig{
			GCPercent: 100,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load resolves the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFromEnv returns the defaults overridden by the environment.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the file
// leave the current values untouched.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Memory.RuntimeLimit = parseMemorySize(c.Memory.RuntimeLimitStr)
	return nil
}

// ApplyEnv overrides c with every QUADSTORE_* variable that is set.
func (c *Config) ApplyEnv() {
	c.Store.SyncDelay = getEnvDuration("QUADSTORE_SYNC_DELAY", c.Store.SyncDelay)
	c.Store.AutoCleanup = getEnvBool("QUADSTORE_AUTO_CLEANUP", c.Store.AutoCleanup)
	c.Store.CleanupMinInterval = getEnvDuration("QUADSTORE_CLEANUP_MIN_INTERVAL", c.Store.CleanupMinInterval)
	c.Store.ShutdownGrace = getEnvDuration("QUADSTORE_SHUTDOWN_GRACE", c.Store.ShutdownGrace)
	c.Store.SizeCache = getEnvInt("QUADSTORE_SIZE_CACHE", c.Store.SizeCache)

	c.Persistence.Enabled = getEnvBool("QUADSTORE_PERSIST", c.Persistence.Enabled)
	c.Persistence.DataDir = getEnv("QUADSTORE_DATA_DIR", c.Persistence.DataDir)
	c.Persistence.ReadOnly = getEnvBool("QUADSTORE_READ_ONLY", c.Persistence.ReadOnly)
	c.Persistence.SyncWrites = getEnvBool("QUADSTORE_SYNC_WRITES", c.Persistence.SyncWrites)
	c.Persistence.LowMemory = getEnvBool("QUADSTORE_LOW_MEMORY", c.Persistence.LowMemory)

	c.Memory.RuntimeLimitStr = getEnv("QUADSTORE_MEMORY_LIMIT", c.Memory.RuntimeLimitStr)
	c.Memory.RuntimeLimit = parseMemorySize(c.Memory.RuntimeLimitStr)
	c.Memory.GCPercent = getEnvInt("QUADSTORE_GC_PERCENT", c.Memory.GCPercent)

	c.Logging.Level = strings.ToUpper(getEnv("QUADSTORE_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("QUADSTORE_LOG_FORMAT", c.Logging.Format))

	c.Metrics.Enabled = getEnvBool("QUADSTORE_METRICS_ENABLED", c.Metrics.Enabled)
}

// Validate checks the configuration for invalid settings.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Configuration error: %v", err)
//	}
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	var errs []error
	if c.Persistence.Enabled && c.Persistence.DataDir == "" {
		errs = append(errs, errors.New("persistence enabled but no data directory provided"))
	}
	if c.Persistence.ReadOnly && !c.Persistence.Enabled {
		errs = append(errs, errors.New("read-only mode requires persistence"))
	}
	if c.Store.CleanupMinInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid cleanup interval: %s", c.Store.CleanupMinInterval))
	}
	if c.Store.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("invalid shutdown grace: %s", c.Store.ShutdownGrace))
	}
	if c.Store.SizeCache < 0 {
		errs = append(errs, fmt.Errorf("invalid size cache: %d", c.Store.SizeCache))
	}
	if c.Memory.RuntimeLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid memory limit: %s", c.Memory.RuntimeLimitStr))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// String returns a short representation of the Config suitable for logging.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	log.Printf("Starting with config: %s", cfg)
//	// Output: Config{Persist: true, DataDir: ./data, ReadOnly: false, SyncDelay: 0s, Log: INFO/text}
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Persist: %v, DataDir: %s, ReadOnly: %v, SyncDelay: %s, Log: %s/%s}",
		c.Persistence.Enabled, c.Persistence.DataDir, c.Persistence.ReadOnly,
		c.Store.SyncDelay, c.Logging.Level, c.Logging.Format,
	)
}

// NewLogger builds the slog logger described by the logging section. An
// unknown level falls back to INFO.
func (c *LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level: %q", s)
	}
	return level, nil
}

// StoreOptions translates the store section into storage options. The
// syncer is left nil; OpenStore fills it in when persistence is enabled.
func (c *Config) StoreOptions(logger *slog.Logger, reg prometheus.Registerer) storage.Options {
	opts := storage.DefaultOptions()
	opts.SyncDelay = c.Store.SyncDelay
	opts.AutoCleanup = c.Store.AutoCleanup
	opts.CleanupMinInterval = c.Store.CleanupMinInterval
	opts.ShutdownGrace = c.Store.ShutdownGrace
	opts.SizeCache = c.Store.SizeCache
	opts.Logger = logger
	if c.Metrics.Enabled {
		opts.Registerer = reg
	}
	return opts
}

// OpenStore creates the store described by c, opening the BadgerDB syncer
// when persistence is enabled. The store still has to be initialized.
func (c *Config) OpenStore(logger *slog.Logger, reg prometheus.Registerer) (*storage.MemoryStore, error) {
	opts := c.StoreOptions(logger, reg)
	if c.Persistence.Enabled {
		syncer, err := persist.Open(persist.BadgerOptions{
			DataDir:    c.Persistence.DataDir,
			SyncWrites: c.Persistence.SyncWrites,
			ReadOnly:   c.Persistence.ReadOnly,
			LowMemory:  c.Persistence.LowMemory,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Syncer = syncer
	}
	store, err := storage.NewMemoryStore(opts)
	if err != nil {
		if opts.Syncer != nil {
			opts.Syncer.Close()
		}
		return nil, err
	}
	return store, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before loading the store.
func (c *MemoryConfig) ApplyRuntimeMemory() {
	if c.RuntimeLimit > 0 {
		debug.SetMemoryLimit(c.RuntimeLimit)
	}
	if c.GCPercent != 100 && c.GCPercent != 0 {
		debug.SetGCPercent(c.GCPercent)
	}
}
