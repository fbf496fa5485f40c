// Package index provides the relational catalog of stored solutions.
//
// Each solution is one row of the solution table mapping (id, type) to its
// timestamp and blob location. The idgenerator table issues solution
// identifiers. The catalog is kept in DuckDB.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/caldata/config"
	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/logging"
	"github.com/xtxerr/caldata/internal/storage/types"
)

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds index configuration options.
type Config struct {
	// DSN is the DuckDB database path. Empty opens an in-memory database.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// QueryTimeout bounds a single index call. Zero means no bound.
	QueryTimeout time.Duration
}

// DefaultConfig returns a Config for an in-memory index.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns: config.DefaultMaxOpenConns,
		QueryTimeout: config.DefaultQueryTimeout,
	}
}

// =============================================================================
// Store
// =============================================================================

// Store is the solution catalog.
//
// Mutations (NewID, Insert, Reset) are serialized by a single mutex; the
// engine has one effective writer. Lookups run concurrently.
type Store struct {
	db     *sql.DB
	config Config
	log    *slog.Logger

	mu     sync.Mutex
	closed atomic.Bool
}

// schema creates the catalog tables. The (id, type) pair is not declared
// unique: uniqueness is enforced by Insert under the store mutex.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS solution (
		id    BIGINT  NOT NULL,
		"type" VARCHAR NOT NULL,
		"time" DOUBLE  NOT NULL,
		file  INTEGER NOT NULL,
		addr  BIGINT  NOT NULL,
		size  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS solution_id_type ON solution (id, "type")`,
	`CREATE INDEX IF NOT EXISTS solution_time ON solution ("time")`,
	`CREATE TABLE IF NOT EXISTS idgenerator (
		name VARCHAR NOT NULL,
		curv BIGINT  NOT NULL
	)`,
}

// Open opens the catalog and creates the schema if needed.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, errors.NewStorageFault("open index", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &Store{
		db:     db,
		config: cfg,
		log:    logging.Component("index"),
	}

	ctx, cancel := s.defaultContext()
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewStorageFault("ping index", err)
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewStorageFault("create schema", err)
		}
	}

	if err := s.seedCounter(ctx); err != nil {
		return err
	}

	dsn := s.config.DSN
	if dsn == "" {
		dsn = config.MemoryDSN
	}
	s.log.Debug("schema ready", "dsn", dsn)
	return nil
}

// seedCounter inserts the solution counter row unless it exists.
func (s *Store) seedCounter(ctx context.Context) error {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM idgenerator WHERE name = ?`, config.SolutionCounter).Scan(&n)
	if err != nil {
		return errors.NewStorageFault("read id generator", err)
	}
	if n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO idgenerator (name, curv) VALUES (?, ?)`,
		config.SolutionCounter, config.FirstSolutionID)
	if err != nil {
		return errors.NewStorageFault("seed id generator", err)
	}
	return nil
}

// defaultContext returns a context bounded by QueryTimeout, if set.
func (s *Store) defaultContext() (context.Context, context.CancelFunc) {
	if s.config.QueryTimeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), s.config.QueryTimeout)
}

// Close closes the catalog.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errors.NewStorageFault("close index", err)
	}
	return nil
}

// =============================================================================
// Transaction Support
// =============================================================================

// transaction executes fn within a database transaction, committing when fn
// returns nil and rolling back otherwise.
func (s *Store) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageFault("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageFault("commit transaction", err)
	}

	return nil
}

// =============================================================================
// Identifiers
// =============================================================================

// NewID issues the next solution identifier.
func (s *Store) NewID() (int64, error) {
	if s.closed.Load() {
		return 0, errors.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.defaultContext()
	defer cancel()

	var id int64
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT curv FROM idgenerator WHERE name = ?`, config.SolutionCounter).Scan(&id)
		if err != nil {
			return errors.NewStorageFault("read id generator", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE idgenerator SET curv = curv + 1 WHERE name = ?`, config.SolutionCounter)
		if err != nil {
			return errors.NewStorageFault("advance id generator", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// LatestID returns the most recently issued identifier. It fails with
// ErrUnknownSolutionID before the first NewID.
func (s *Store) LatestID() (int64, error) {
	if s.closed.Load() {
		return 0, errors.ErrClosed
	}

	ctx, cancel := s.defaultContext()
	defer cancel()

	var curv int64
	err := s.db.QueryRowContext(ctx,
		`SELECT curv FROM idgenerator WHERE name = ?`, config.SolutionCounter).Scan(&curv)
	if err != nil {
		return 0, errors.NewStorageFault("read id generator", err)
	}

	latest := curv - 1
	if latest < config.FirstSolutionID {
		return 0, fmt.Errorf("no solution id issued yet: %w", errors.ErrUnknownSolutionID)
	}
	return latest, nil
}

// =============================================================================
// Solutions
// =============================================================================

// Has reports whether a solution of type typ is stored under id.
func (s *Store) Has(id int64, typ types.SolutionType) (bool, error) {
	if s.closed.Load() {
		return false, errors.ErrClosed
	}

	ctx, cancel := s.defaultContext()
	defer cancel()

	return s.has(ctx, id, typ)
}

func (s *Store) has(ctx context.Context, id int64, typ types.SolutionType) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM solution WHERE id = ? AND "type" = ?`, id, typ.Tag()).Scan(&n)
	if err != nil {
		return false, errors.NewStorageFault("query solution", err)
	}
	return n > 0, nil
}

// Insert adds rec to the catalog. It fails with ErrAlreadyExists if a row
// for (rec.ID, rec.Type) exists.
func (s *Store) Insert(rec types.Record) error {
	if !rec.Type.Valid() {
		return errors.NewInvalidArgument("solution type", rec.Type, "unknown type")
	}
	if s.closed.Load() {
		return errors.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.defaultContext()
	defer cancel()

	exists, err := s.has(ctx, rec.ID, rec.Type)
	if err != nil {
		return err
	}
	if exists {
		return errors.NewAlreadyExists(rec.ID, rec.Type)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO solution (id, "type", "time", file, addr, size)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Type.Tag(), rec.Time,
		rec.Location.File, rec.Location.Offset, rec.Location.Length)
	if err != nil {
		return errors.NewStorageFault("insert solution", err)
	}

	return nil
}

// Locate returns the blob location of solution (id, typ). It fails with
// ErrUnknownSolutionID if absent.
func (s *Store) Locate(id int64, typ types.SolutionType) (types.Location, error) {
	if s.closed.Load() {
		return types.Location{}, errors.ErrClosed
	}

	ctx, cancel := s.defaultContext()
	defer cancel()

	var loc types.Location
	err := s.db.QueryRowContext(ctx, `
		SELECT file, addr, size FROM solution
		WHERE id = ? AND "type" = ?
		LIMIT 1
	`, id, typ.Tag()).Scan(&loc.File, &loc.Offset, &loc.Length)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Location{}, errors.NewUnknownSolution(id, typ)
	}
	if err != nil {
		return types.Location{}, errors.NewStorageFault("locate solution", err)
	}

	return loc, nil
}

// =============================================================================
// Time Bounds
// =============================================================================

// UpperBoundID returns the smallest id among the rows at the earliest time
// not before t. Bounds span all solution types.
func (s *Store) UpperBoundID(t float64) (int64, error) {
	return s.bound(`
		SELECT min(id) FROM solution
		WHERE "time" = (SELECT min("time") FROM solution WHERE "time" >= ?)
	`, t, "upper")
}

// LowerBoundID returns the largest id among the rows at the latest time not
// after t. Bounds span all solution types.
func (s *Store) LowerBoundID(t float64) (int64, error) {
	return s.bound(`
		SELECT max(id) FROM solution
		WHERE "time" = (SELECT max("time") FROM solution WHERE "time" <= ?)
	`, t, "lower")
}

func (s *Store) bound(query string, t float64, which string) (int64, error) {
	if s.closed.Load() {
		return 0, errors.ErrClosed
	}

	ctx, cancel := s.defaultContext()
	defer cancel()

	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, t).Scan(&id); err != nil {
		return 0, errors.NewStorageFault(which+" bound", err)
	}
	if !id.Valid {
		return 0, fmt.Errorf("no solution for %s bound of time %g: %w", which, t, errors.ErrUnknownSolutionID)
	}
	return id.Int64, nil
}

// =============================================================================
// Maintenance
// =============================================================================

// Records returns every row ordered by time, id and type.
func (s *Store) Records() ([]types.Record, error) {
	if s.closed.Load() {
		return nil, errors.ErrClosed
	}

	ctx, cancel := s.defaultContext()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, "type", "time", file, addr, size FROM solution
		ORDER BY "time", id, "type"
	`)
	if err != nil {
		return nil, errors.NewStorageFault("list solutions", err)
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		var (
			rec types.Record
			tag string
		)
		if err := rows.Scan(&rec.ID, &tag, &rec.Time,
			&rec.Location.File, &rec.Location.Offset, &rec.Location.Length); err != nil {
			return nil, errors.NewStorageFault("scan solution", err)
		}
		if rec.Type, err = types.ParseSolutionType(tag); err != nil {
			return nil, errors.NewStorageFault("scan solution", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageFault("list solutions", err)
	}

	return records, nil
}

// Count returns the number of stored solutions.
func (s *Store) Count() (int64, error) {
	if s.closed.Load() {
		return 0, errors.ErrClosed
	}

	ctx, cancel := s.defaultContext()
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM solution`).Scan(&n); err != nil {
		return 0, errors.NewStorageFault("count solutions", err)
	}
	return n, nil
}

// Reset deletes every solution row and restarts the id generator at its
// seed value.
func (s *Store) Reset() error {
	if s.closed.Load() {
		return errors.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.defaultContext()
	defer cancel()

	err := s.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM solution`); err != nil {
			return errors.NewStorageFault("reset solutions", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM idgenerator`); err != nil {
			return errors.NewStorageFault("reset id generator", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.seedCounter(ctx); err != nil {
		return err
	}

	s.log.Info("index reset")
	return nil
}
