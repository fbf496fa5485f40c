// Package parquet exports the solution catalog to Parquet files.
//
// The package provides:
//   - RecordWriter/RecordReader for catalog rows
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Conversion between index records and Parquet rows
package parquet
