package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/caldata/internal/storage/types"
)

// RecordReader reads catalog rows from a Parquet file.
type RecordReader struct {
	file   *os.File
	reader *parquet.GenericReader[RecordRow]
}

// NewRecordReader creates a new catalog Parquet reader.
func NewRecordReader(path string) (*RecordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[RecordRow](f, parquet.ReadBufferSize(1024*1024))

	return &RecordReader{
		file:   f,
		reader: reader,
	}, nil
}

// Read reads up to n records. It returns io.EOF once the file is
// exhausted and no rows were read.
func (r *RecordReader) Read(n int) ([]types.Record, error) {
	rows := make([]RecordRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if count == 0 && err != nil {
		return nil, err
	}

	return toRecords(rows[:count])
}

// ReadAll reads all records from the file.
func (r *RecordReader) ReadAll() ([]types.Record, error) {
	numRows := r.reader.NumRows()
	rows := make([]RecordRow, numRows)

	// The reader reports io.EOF together with the final rows.
	var n int
	for n < len(rows) {
		count, err := r.reader.Read(rows[n:])
		n += count
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if count == 0 {
			break
		}
	}

	return toRecords(rows[:n])
}

func toRecords(rows []RecordRow) ([]types.Record, error) {
	records := make([]types.Record, len(rows))
	for i := range rows {
		rec, err := RowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

// NumRows returns the total number of rows in the file.
func (r *RecordReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *RecordReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

