package storage

import (
	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/storage/blob"
	"github.com/xtxerr/caldata/internal/storage/parquet"
	"github.com/xtxerr/caldata/internal/storage/stats"
)

// EngineStats holds engine statistics.
type EngineStats struct {
	Solutions   int64          `yaml:"solutions"`
	CurrentFile int32          `yaml:"current_file"`
	CurrentSize int64          `yaml:"current_size"`
	Blob        blob.Stats     `yaml:"blob"`
	Engine      stats.Snapshot `yaml:"engine"`
}

// Stats returns engine statistics.
func (e *Engine) Stats() (EngineStats, error) {
	if e.closed.Load() {
		return EngineStats{}, errors.ErrClosed
	}

	n, err := e.index.Count()
	if err != nil {
		return EngineStats{}, err
	}

	return EngineStats{
		Solutions:   n,
		CurrentFile: e.blobs.Current(),
		CurrentSize: e.blobs.Size(),
		Blob:        e.blobs.Stats(),
		Engine:      e.stats.Snapshot(),
	}, nil
}

// Export writes the catalog to a Parquet file at path and returns the
// number of rows written. The file appears only once complete.
func (e *Engine) Export(path string) (int64, error) {
	records, err := e.Records()
	if err != nil {
		return 0, err
	}

	w, err := parquet.NewRecordWriter(path, parquet.Options{
		Compression: parquet.ParseCompressionType(e.config.Export.Compression),
	})
	if err != nil {
		return 0, errors.NewStorageFault("export catalog", err)
	}

	if err := w.Write(records); err != nil {
		w.Abort()
		return 0, errors.NewStorageFault("export catalog", err)
	}
	if err := w.Close(); err != nil {
		return 0, errors.NewStorageFault("export catalog", err)
	}

	e.log.Info("exported catalog", "path", path, "rows", w.RowCount())
	return w.RowCount(), nil
}
