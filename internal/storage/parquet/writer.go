package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/caldata/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// RecordRow is one catalog row in Parquet format.
type RecordRow struct {
	ID     int64   `parquet:"id"`
	Type   string  `parquet:"type,dict"`
	Time   float64 `parquet:"time"`
	File   int32   `parquet:"file"`
	Offset int64   `parquet:"offset"`
	Length int32   `parquet:"length"`
}

// RecordToRow converts an index record to a RecordRow.
func RecordToRow(r *types.Record) RecordRow {
	return RecordRow{
		ID:     r.ID,
		Type:   r.Type.Tag(),
		Time:   r.Time,
		File:   r.Location.File,
		Offset: r.Location.Offset,
		Length: r.Location.Length,
	}
}

// RowToRecord converts a RecordRow to an index record.
func RowToRecord(r *RecordRow) (types.Record, error) {
	typ, err := types.ParseSolutionType(r.Type)
	if err != nil {
		return types.Record{}, fmt.Errorf("row %d: %w", r.ID, err)
	}

	return types.Record{
		ID:   r.ID,
		Type: typ,
		Time: r.Time,
		Location: types.Location{
			File:   r.File,
			Offset: r.Offset,
			Length: r.Length,
		},
	}, nil
}

// RecordWriter writes catalog rows to a Parquet file.
//
// Rows go to a temporary file next to the target which replaces the
// target on Close, so readers never see a partial export.
type RecordWriter struct {
	mu       sync.Mutex
	path     string
	tmpPath  string
	file     *os.File
	writer   *parquet.GenericWriter[RecordRow]
	rowCount int64
	closed   bool
}

// NewRecordWriter creates a new catalog Parquet writer.
func NewRecordWriter(path string, opts Options) (*RecordWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}

	writer := parquet.NewGenericWriter[RecordRow](f, writerOpts...)

	return &RecordWriter{
		path:    path,
		tmpPath: tmpPath,
		file:    f,
		writer:  writer,
	}, nil
}

// Write writes records to the Parquet file.
func (w *RecordWriter) Write(records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]RecordRow, len(records))
	for i := range records {
		rows[i] = RecordToRow(&records[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close finishes the file and moves it into place.
func (w *RecordWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("close writer: %w", err)
	}

	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}

// Abort discards the export.
func (w *RecordWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true

	w.file.Close()
	os.Remove(w.tmpPath)
}

// RowCount returns the number of rows written.
func (w *RecordWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}


// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
