package storage

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/logging"
	"github.com/xtxerr/caldata/internal/storage/blob"
	"github.com/xtxerr/caldata/internal/storage/codec"
	"github.com/xtxerr/caldata/internal/storage/config"
	"github.com/xtxerr/caldata/internal/storage/index"
	"github.com/xtxerr/caldata/internal/storage/stats"
	"github.com/xtxerr/caldata/internal/storage/types"
)

// Index is the catalog the engine stores locations in.
type Index interface {
	NewID() (int64, error)
	LatestID() (int64, error)
	Has(id int64, typ types.SolutionType) (bool, error)
	Insert(rec types.Record) error
	Locate(id int64, typ types.SolutionType) (types.Location, error)
	UpperBoundID(t float64) (int64, error)
	LowerBoundID(t float64) (int64, error)
	Records() ([]types.Record, error)
	Count() (int64, error)
	Reset() error
	Close() error
}

var _ Index = (*index.Store)(nil)

// Engine combines the index and the blob store into the solution store.
//
// Adds are serialized: the existence check, blob write, index insert and a
// possible rollback run as one unit. Reads run concurrently.
type Engine struct {
	config *config.Config
	log    *slog.Logger

	index Index
	blobs *blob.Store
	stats *stats.Recorder

	writeMu sync.Mutex
	reads   singleflight.Group
	closed  atomic.Bool
}

// Open creates the data directories and opens the index and blob store
// described by cfg.
func Open(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.NewStorageFault("ensure directories", err)
	}

	idx, err := index.Open(index.Config{
		DSN:          cfg.IndexDSN(),
		MaxOpenConns: cfg.Index.MaxOpenConns,
		QueryTimeout: cfg.Index.QueryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	blobs, err := blob.Open(cfg.BlobDir(), blob.Options{
		MaxFileSize: cfg.Blob.MaxFileSize,
		SyncMode:    cfg.Blob.SyncMode,
		Clean:       cfg.Blob.Clean,
	})
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	// Rows left in a persistent index would point into the deleted chunks.
	if cfg.Blob.Clean {
		if err := idx.Reset(); err != nil {
			blobs.Close()
			idx.Close()
			return nil, fmt.Errorf("reset index after clean: %w", err)
		}
	}

	return New(cfg, idx, blobs), nil
}

// New assembles an engine from already opened stores. The engine owns
// both and closes them in Close.
func New(cfg *config.Config, idx Index, blobs *blob.Store) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Engine{
		config: cfg,
		log:    logging.Component("engine"),
		index:  idx,
		blobs:  blobs,
		stats:  stats.NewRecorder(cfg.Stats.Enabled, cfg.Stats.Accuracy),
	}
}

// =============================================================================
// Identifiers
// =============================================================================

// NewSolutionID issues a new solution identifier.
func (e *Engine) NewSolutionID() (int64, error) {
	if e.closed.Load() {
		return 0, errors.ErrClosed
	}
	return e.index.NewID()
}

// LatestSolutionID returns the most recently issued identifier. It fails
// with ErrUnknownSolutionID when none was issued.
func (e *Engine) LatestSolutionID() (int64, error) {
	if e.closed.Load() {
		return 0, errors.ErrClosed
	}
	return e.index.LatestID()
}

// UpperBoundID returns the smallest id among the solutions with the
// earliest timestamp not before t.
func (e *Engine) UpperBoundID(t float64) (int64, error) {
	if e.closed.Load() {
		return 0, errors.ErrClosed
	}
	return e.index.UpperBoundID(t)
}

// LowerBoundID returns the largest id among the solutions with the latest
// timestamp not after t.
func (e *Engine) LowerBoundID(t float64) (int64, error) {
	if e.closed.Load() {
		return 0, errors.ErrClosed
	}
	return e.index.LowerBoundID(t)
}

// =============================================================================
// Solutions
// =============================================================================

// HasSolution reports whether a solution of type typ is stored under id.
func (e *Engine) HasSolution(id int64, typ types.SolutionType) (bool, error) {
	if e.closed.Load() {
		return false, errors.ErrClosed
	}
	return e.index.Has(id, typ)
}

// AddSolution stores sol under id. It fails with ErrAlreadyExists if a
// solution of the same type is already stored under id. If the index
// rejects the row, the blob write is rolled back before the index error is
// returned.
func (e *Engine) AddSolution(id int64, sol types.Solution) error {
	if sol == nil || !sol.Type().Valid() {
		return errors.NewInvalidArgument("solution", sol, "missing or unknown type")
	}
	if e.closed.Load() {
		return errors.ErrClosed
	}

	start := time.Now()
	typ := sol.Type()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	exists, err := e.index.Has(id, typ)
	if err != nil {
		e.stats.IncErrors()
		return err
	}
	if exists {
		return errors.NewAlreadyExists(id, typ)
	}

	data, err := codec.Encode(sol)
	if err != nil {
		return err
	}

	loc, err := e.blobs.Write(data)
	if err != nil {
		e.stats.IncErrors()
		return err
	}

	rec := types.Record{
		ID:       id,
		Type:     typ,
		Time:     sol.Time(),
		Location: loc,
	}
	if err := e.index.Insert(rec); err != nil {
		e.stats.IncErrors()
		e.rollback(rec, err)
		return err
	}

	e.stats.IncAdds()
	e.stats.Observe(stats.WriteBytes, float64(loc.Length))
	e.stats.ObserveSince(stats.AddLatency, start)
	e.log.Debug("added solution", "id", id, "type", typ, "location", loc)
	return nil
}

// rollback discards the blob bytes of a record whose insert failed.
func (e *Engine) rollback(rec types.Record, cause error) {
	if err := e.blobs.Rollback(rec.Location.Offset); err != nil {
		e.log.Error("rollback failed, orphaned blob bytes remain",
			"key", types.Key{ID: rec.ID, Type: rec.Type},
			"location", rec.Location,
			"cause", cause,
			"error", err)
		return
	}
	e.stats.IncRollbacks()
	e.log.Warn("rolled back blob write",
		"key", types.Key{ID: rec.ID, Type: rec.Type},
		"location", rec.Location,
		"cause", cause)
}

// GetSolution returns the solution of type typ stored under id. It fails
// with ErrUnknownSolutionID if absent.
//
// Concurrent calls for the same solution share one blob read; each caller
// decodes its own copy.
func (e *Engine) GetSolution(id int64, typ types.SolutionType) (types.Solution, error) {
	if e.closed.Load() {
		return nil, errors.ErrClosed
	}

	start := time.Now()

	loc, err := e.index.Locate(id, typ)
	if err != nil {
		return nil, err
	}

	key := types.Key{ID: id, Type: typ}.String()
	v, err, shared := e.reads.Do(key, func() (interface{}, error) {
		return e.blobs.Read(loc)
	})
	if err != nil {
		e.stats.IncErrors()
		return nil, err
	}
	if shared {
		e.stats.IncShared()
	}

	sol, err := codec.Decode(v.([]byte), typ)
	if err != nil {
		e.stats.IncErrors()
		return nil, fmt.Errorf("solution %s at %s: %w", key, loc, err)
	}

	e.stats.IncGets()
	e.stats.Observe(stats.ReadBytes, float64(loc.Length))
	e.stats.ObserveSince(stats.GetLatency, start)
	return sol, nil
}

// GetSolutions returns the solutions of type typ stored under ids, in the
// order of ids. Any missing id fails the whole call with
// ErrUnknownSolutionID.
//
// Blobs are read in (file, offset) order so each chunk is streamed once;
// decoding runs in parallel.
func (e *Engine) GetSolutions(typ types.SolutionType, ids []int64) ([]types.Solution, error) {
	if e.closed.Load() {
		return nil, errors.ErrClosed
	}

	start := time.Now()

	locs := make([]types.Location, len(ids))
	for i, id := range ids {
		loc, err := e.index.Locate(id, typ)
		if err != nil {
			return nil, err
		}
		locs[i] = loc
	}

	// order[k] is the position in ids of the k-th read.
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		la, lb := locs[order[a]], locs[order[b]]
		if la.File != lb.File {
			return la.File < lb.File
		}
		return la.Offset < lb.Offset
	})

	sorted := make([]types.Location, len(order))
	for k, i := range order {
		sorted[k] = locs[i]
	}

	data, err := e.blobs.ReadBatch(sorted)
	if err != nil {
		e.stats.IncErrors()
		return nil, err
	}

	out := make([]types.Solution, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for k, i := range order {
		g.Go(func() error {
			sol, err := codec.Decode(data[k], typ)
			if err != nil {
				return fmt.Errorf("solution %s at %s: %w", types.Key{ID: ids[i], Type: typ}, locs[i], err)
			}
			out[i] = sol
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.stats.IncErrors()
		return nil, err
	}

	for _, loc := range sorted {
		e.stats.IncGets()
		e.stats.Observe(stats.ReadBytes, float64(loc.Length))
	}
	e.stats.ObserveSince(stats.BatchLatency, start)
	return out, nil
}

// =============================================================================
// Maintenance
// =============================================================================

// Records returns every catalog row ordered by time, id and type.
func (e *Engine) Records() ([]types.Record, error) {
	if e.closed.Load() {
		return nil, errors.ErrClosed
	}
	return e.index.Records()
}

// Files lists the chunk files on disk.
func (e *Engine) Files() ([]blob.FileInfo, error) {
	if e.closed.Load() {
		return nil, errors.ErrClosed
	}
	return e.blobs.Files()
}

// Archive gzip-compresses a rolled chunk file.
func (e *Engine) Archive(num int32) error {
	if e.closed.Load() {
		return errors.ErrClosed
	}
	return e.blobs.Archive(num)
}

// Reset empties the catalog and restarts identifiers at the seed value.
// Chunk files are left alone; their bytes are no longer referenced.
func (e *Engine) Reset() error {
	if e.closed.Load() {
		return errors.ErrClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.index.Reset(); err != nil {
		return err
	}
	e.log.Info("catalog reset")
	return nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}

// Close releases the blob store and the index. Further calls fail with
// ErrClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var errs []error
	if err := e.blobs.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.index.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
