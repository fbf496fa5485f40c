// Package config holds the storage engine configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/caldata/config"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for the index and chunk files.
	DataDir string `yaml:"data_dir"`

	// Blob configures the chunked blob store.
	Blob BlobConfig `yaml:"blob"`

	// Index configures the relational index.
	Index IndexConfig `yaml:"index"`

	// Stats configures latency and size quantiles.
	Stats StatsConfig `yaml:"stats"`

	// Export configures catalog exports.
	Export ExportConfig `yaml:"export"`

	// Logging configures the global logger.
	Logging LoggingConfig `yaml:"logging"`
}

// BlobConfig configures the chunked blob store.
type BlobConfig struct {
	// Dir is the chunk directory. Defaults to {DataDir}/blobs.
	Dir string `yaml:"dir"`

	// MaxFileSize is the size bound of a chunk file.
	MaxFileSize int64 `yaml:"max_file_size"`

	// SyncMode is the sync mode: async, fsync.
	SyncMode string `yaml:"sync_mode"`

	// Clean deletes all existing chunk files on startup and empties the index.
	Clean bool `yaml:"clean"`
}

// IndexConfig configures the relational index.
type IndexConfig struct {
	// DSN is the DuckDB database path. Defaults to {DataDir}/index.duckdb.
	// ":memory:" keeps the index in memory.
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns"`

	// QueryTimeout bounds a single index query.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// StatsConfig configures DDSketch quantiles.
type StatsConfig struct {
	// Enabled enables quantile tracking.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// ExportConfig configures Parquet catalog exports.
type ExportConfig struct {
	// Compression is the compression algorithm: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is one of text, json, tint.
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/caldata",
		Blob: BlobConfig{
			MaxFileSize: config.DefaultMaxFileSize,
			SyncMode:    config.DefaultSyncMode,
		},
		Index: IndexConfig{
			MaxOpenConns: config.DefaultMaxOpenConns,
			QueryTimeout: config.DefaultQueryTimeout,
		},
		Stats: StatsConfig{
			Enabled:  true,
			Accuracy: config.DefaultSketchAccuracy,
		},
		Export: ExportConfig{
			Compression: "zstd",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
