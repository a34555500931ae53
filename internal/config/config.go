package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/perfmon/pkg/storage"
)

// envPrefix prefixes every environment override
const envPrefix = "PERFMON_"

// Config holds the application configuration
type Config struct {
	// LogLevel is one of debug, info, warn, error
	LogLevel string        `yaml:"log_level"`
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	Ingest   IngestConfig  `yaml:"ingest"`
	Query    QueryConfig   `yaml:"query"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Path             string `yaml:"path"`
	RetentionDays    int    `yaml:"retention_days"`
	CompressionLevel int    `yaml:"compression_level"`
	EnableWAL        bool   `yaml:"enable_wal"`
}

// IngestConfig controls the batch writer
type IngestConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// QueryConfig controls the query engine
type QueryConfig struct {
	CacheCapacity int           `yaml:"cache_capacity"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	// Timezone names the IANA zone bucket labels are rendered in
	Timezone string `yaml:"timezone"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr: ":9090",
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Path:             "./data",
			RetentionDays:    30,
			CompressionLevel: 3,
			EnableWAL:        true,
		},
		Ingest: IngestConfig{
			BufferSize:    64,
			FlushInterval: storage.DefaultFlushInterval,
		},
		Query: QueryConfig{
			CacheCapacity: 1024,
			CacheTTL:      time.Minute,
			Timezone:      "UTC",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and PERFMON_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.ListenAddr = getEnv("LISTEN_ADDR", c.Server.ListenAddr)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Query.Timezone = getEnv("TIMEZONE", c.Query.Timezone)

	var err error
	if c.Storage.RetentionDays, err = getEnvInt("RETENTION_DAYS", c.Storage.RetentionDays); err != nil {
		return err
	}
	if c.Storage.CompressionLevel, err = getEnvInt("COMPRESSION_LEVEL", c.Storage.CompressionLevel); err != nil {
		return err
	}
	if c.Storage.EnableWAL, err = getEnvBool("ENABLE_WAL", c.Storage.EnableWAL); err != nil {
		return err
	}
	if c.Ingest.BufferSize, err = getEnvInt("BUFFER_SIZE", c.Ingest.BufferSize); err != nil {
		return err
	}
	if c.Query.CacheCapacity, err = getEnvInt("CACHE_CAPACITY", c.Query.CacheCapacity); err != nil {
		return err
	}
	if c.Query.CacheTTL, err = getEnvDuration("CACHE_TTL", c.Query.CacheTTL); err != nil {
		return err
	}
	return nil
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		RetentionDays:    c.Storage.RetentionDays,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
	}
}

// Location resolves Query.Timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Query.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Query.Timezone, err)
	}
	return loc, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q", c.LogLevel)
	}

	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Ingest.BufferSize < 1 {
		return fmt.Errorf("ingest buffer size must be at least 1")
	}
	if c.Ingest.FlushInterval <= 0 {
		return fmt.Errorf("ingest flush interval must be positive")
	}

	if c.Query.CacheCapacity < 0 {
		return fmt.Errorf("query cache capacity must not be negative")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return d, nil
}
