// Package config provides configuration defaults for the caldata
// calibration solution store.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Blob Store Defaults
// =============================================================================

const (
	// DefaultMaxFileSize bounds each chunk file. A write that would push the
	// current chunk past this size starts a new chunk.
	// Override via config: blob.max_file_size
	DefaultMaxFileSize int64 = 2 * 1024 * 1024 * 1024

	// DefaultSyncMode is how chunk writes reach the disk.
	// "async" leaves flushing to the kernel, "fsync" syncs after every write.
	// Override via config: blob.sync_mode
	DefaultSyncMode = "fsync"

	// ChunkFilePrefix and ChunkFileSuffix frame the chunk number in file names.
	ChunkFilePrefix = "data"
	ChunkFileSuffix = ".bin"

	// ArchiveSuffix is appended to a chunk file name once it is gzip-compressed.
	ArchiveSuffix = ".gz"

	// ChunkFileFormat is the printf format of a chunk file name.
	ChunkFileFormat = ChunkFilePrefix + "%05d" + ChunkFileSuffix

	// FirstChunkNumber is the number of the first chunk file.
	FirstChunkNumber = 1
)

// =============================================================================
// Index Defaults
// =============================================================================

const (
	// DefaultIndexFile is the DuckDB file name created under the data dir.
	DefaultIndexFile = "index.duckdb"

	// MemoryDSN selects an in-memory index. Intended for tests.
	MemoryDSN = ":memory:"

	// DefaultMaxOpenConns caps the index connection pool.
	// Override via config: index.max_open_conns
	DefaultMaxOpenConns = 4

	// DefaultQueryTimeout bounds a single index query. Zero leaves index
	// calls unbounded; callers needing bounded latency enforce it outside.
	// Override via config: index.query_timeout
	DefaultQueryTimeout time.Duration = 0

	// SolutionCounter is the name of the id generator row.
	SolutionCounter = "solution"

	// FirstSolutionID is the seed value of the id generator.
	FirstSolutionID int64 = 1
)

// =============================================================================
// Statistics Defaults
// =============================================================================

const (
	// DefaultSketchAccuracy is the relative accuracy of latency and size
	// quantiles (0.01 = 1% error).
	// Override via config: stats.accuracy
	DefaultSketchAccuracy = 0.01
)
