package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxMessageSize  string        `yaml:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config represents the complete configuration for a log unit
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Disk    DiskConfig    `yaml:"disk"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds stream log configuration
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`

	// InMemory keeps the log in memory only; nothing survives a restart
	InMemory bool `yaml:"in_memory"`

	// VerifyChecksums is fixed when the first segment is created
	VerifyChecksums *bool `yaml:"verify_checksums"`

	// SegmentSize accepts human readable sizes such as "64MiB"
	SegmentSize string `yaml:"segment_size"`

	DisableSync bool `yaml:"disable_sync"`
}

// CacheConfig holds entry cache configuration
type CacheConfig struct {
	// HeapRatio is the share of available memory given to the cache
	HeapRatio float64 `yaml:"heap_ratio"`
}

// DiskConfig holds disk space guard thresholds, in percent
type DiskConfig struct {
	CheckInterval           time.Duration `yaml:"check_interval"`
	WarningThreshold        float64       `yaml:"warning_threshold"`
	ThrottleThreshold       float64       `yaml:"throttle_threshold"`
	CircuitBreakerThreshold float64       `yaml:"circuit_breaker_threshold"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses, defaults and validates a YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50053
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.MaxMessageSize == "" {
		cfg.Server.MaxMessageSize = "64MiB"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/pairdb/logunit"
	}
	if cfg.Storage.VerifyChecksums == nil {
		verify := true
		cfg.Storage.VerifyChecksums = &verify
	}
	if cfg.Storage.SegmentSize == "" {
		cfg.Storage.SegmentSize = "64MiB"
	}

	if cfg.Cache.HeapRatio == 0 {
		cfg.Cache.HeapRatio = 0.5
	}

	if cfg.Disk.CheckInterval == 0 {
		cfg.Disk.CheckInterval = 10 * time.Second
	}
	if cfg.Disk.WarningThreshold == 0 {
		cfg.Disk.WarningThreshold = 80
	}
	if cfg.Disk.ThrottleThreshold == 0 {
		cfg.Disk.ThrottleThreshold = 90
	}
	if cfg.Disk.CircuitBreakerThreshold == 0 {
		cfg.Disk.CircuitBreakerThreshold = 95
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if _, err := c.Server.MaxMessageBytes(); err != nil {
		return err
	}
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required unless storage.in_memory is set")
	}
	if _, err := c.Storage.SegmentSizeBytes(); err != nil {
		return err
	}
	if c.Cache.HeapRatio <= 0 || c.Cache.HeapRatio >= 1 {
		return fmt.Errorf("cache.heap_ratio must be strictly between 0 and 1")
	}
	if c.Disk.WarningThreshold > c.Disk.ThrottleThreshold || c.Disk.ThrottleThreshold > c.Disk.CircuitBreakerThreshold {
		return fmt.Errorf("disk thresholds must satisfy warning <= throttle <= circuit_breaker")
	}
	if c.Disk.CircuitBreakerThreshold > 100 {
		return fmt.Errorf("disk.circuit_breaker_threshold must not exceed 100")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	return nil
}

// SegmentSizeBytes parses storage.segment_size
func (s StorageConfig) SegmentSizeBytes() (int64, error) {
	size, err := humanize.ParseBytes(s.SegmentSize)
	if err != nil {
		return 0, fmt.Errorf("storage.segment_size: %w", err)
	}
	if size < 4096 {
		return 0, fmt.Errorf("storage.segment_size must be at least 4KiB, got %s", humanize.IBytes(size))
	}
	return int64(size), nil
}

// Verify reports whether segments verify checksums
func (s StorageConfig) Verify() bool {
	return s.VerifyChecksums == nil || *s.VerifyChecksums
}

// MaxMessageBytes parses server.max_message_size
func (s ServerConfig) MaxMessageBytes() (int, error) {
	size, err := humanize.ParseBytes(s.MaxMessageSize)
	if err != nil {
		return 0, fmt.Errorf("server.max_message_size: %w", err)
	}
	return int(size), nil
}

// Address returns the gRPC listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
