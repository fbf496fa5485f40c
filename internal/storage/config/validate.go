package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtxerr/caldata/config"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	// Blob
	if err := c.Blob.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("blob: %w", err))
	}

	// Index
	if err := c.Index.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("index: %w", err))
	}

	// Stats
	if c.Stats.Enabled && (c.Stats.Accuracy <= 0 || c.Stats.Accuracy >= 1) {
		errs = append(errs, errors.New("stats: accuracy must be between 0 and 1"))
	}

	// Export
	validCompression := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty means uncompressed
	}
	if !validCompression[c.Export.Compression] {
		errs = append(errs, errors.New("export: compression must be one of: snappy, zstd, lz4, gzip, none"))
	}

	// Logging
	switch c.Logging.Format {
	case "", "text", "json", "tint":
	default:
		errs = append(errs, errors.New("logging: format must be one of: text, json, tint"))
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("logging: level must be one of: debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the blob configuration.
func (c *BlobConfig) Validate() error {
	var errs []error

	if c.MaxFileSize <= 0 {
		errs = append(errs, errors.New("max_file_size must be positive"))
	}

	validSyncModes := map[string]bool{
		"async": true,
		"fsync": true,
		"":      true, // Empty defaults to fsync
	}
	if !validSyncModes[c.SyncMode] {
		errs = append(errs, errors.New("sync_mode must be one of: async, fsync"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the index configuration.
func (c *IndexConfig) Validate() error {
	var errs []error

	if c.MaxOpenConns < 0 {
		errs = append(errs, errors.New("max_open_conns must be non-negative"))
	}

	if c.QueryTimeout < 0 {
		errs = append(errs, errors.New("query_timeout must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.BlobDir()}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// BlobDir returns the chunk directory path.
func (c *Config) BlobDir() string {
	if c.Blob.Dir != "" {
		return c.Blob.Dir
	}
	return filepath.Join(c.DataDir, "blobs")
}

// IndexDSN returns the DuckDB connection string. An empty string selects an
// in-memory database.
func (c *Config) IndexDSN() string {
	switch c.Index.DSN {
	case config.MemoryDSN:
		return ""
	case "":
		return filepath.Join(c.DataDir, config.DefaultIndexFile)
	default:
		return c.Index.DSN
	}
}
