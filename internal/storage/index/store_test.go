package index

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/storage/types"
	"github.com/xtxerr/caldata/internal/testutil"
)

func openTestIndex(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id int64, typ types.SolutionType, time float64) types.Record {
	return types.Record{
		ID:       id,
		Type:     typ,
		Time:     time,
		Location: types.Location{File: 1, Offset: id * 100, Length: 100},
	}
}

func TestNewID(t *testing.T) {
	s := openTestIndex(t)

	if _, err := s.LatestID(); !errors.IsUnknownSolution(err) {
		t.Errorf("LatestID on empty index error = %v, want unknown solution", err)
	}

	for want := int64(1); want <= 5; want++ {
		id, err := s.NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if id != want {
			t.Errorf("NewID() = %d, want %d", id, want)
		}

		latest, err := s.LatestID()
		if err != nil {
			t.Fatalf("LatestID: %v", err)
		}
		if latest != want {
			t.Errorf("LatestID() = %d, want %d", latest, want)
		}
	}
}

func TestNewIDConcurrent(t *testing.T) {
	s := openTestIndex(t)

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)

	gt := testutil.NewGoroutineTest(t)
	for i := 0; i < 8; i++ {
		gt.Go(func() error {
			for j := 0; j < 10; j++ {
				id, err := s.NewID()
				if err != nil {
					return err
				}
				mu.Lock()
				dup := seen[id]
				seen[id] = true
				mu.Unlock()
				if dup {
					return fmt.Errorf("id %d issued twice", id)
				}
			}
			return nil
		})
	}
	gt.Wait()

	if len(seen) != 80 {
		t.Errorf("issued %d distinct ids, want 80", len(seen))
	}
	if latest, _ := s.LatestID(); latest != 80 {
		t.Errorf("LatestID() = %d, want 80", latest)
	}
}

func TestInsertLocate(t *testing.T) {
	s := openTestIndex(t)

	rec := record(7, types.SolutionGain, 1.5)
	if err := s.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	has, err := s.Has(7, types.SolutionGain)
	if err != nil || !has {
		t.Errorf("Has(7, gain) = %v, %v", has, err)
	}
	has, err = s.Has(7, types.SolutionBandpass)
	if err != nil || has {
		t.Errorf("Has(7, bandpass) = %v, %v", has, err)
	}

	loc, err := s.Locate(7, types.SolutionGain)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if loc != rec.Location {
		t.Errorf("Locate() = %s, want %s", loc, rec.Location)
	}

	if _, err := s.Locate(7, types.SolutionLeakage); !errors.IsUnknownSolution(err) {
		t.Errorf("Locate missing error = %v, want unknown solution", err)
	}

	// Duplicate (id, type) is refused and leaves the first row intact.
	dup := record(7, types.SolutionGain, 9)
	dup.Location.File = 5
	if err := s.Insert(dup); !errors.IsAlreadyExists(err) {
		t.Errorf("duplicate Insert error = %v, want already exists", err)
	}
	if loc, _ := s.Locate(7, types.SolutionGain); loc != rec.Location {
		t.Errorf("duplicate Insert changed location to %s", loc)
	}

	// Other types share the id.
	if err := s.Insert(record(7, types.SolutionLeakage, 1.5)); err != nil {
		t.Errorf("Insert of second type: %v", err)
	}

	if err := s.Insert(record(8, types.SolutionType('x'), 1)); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("Insert with bad type error = %v, want ErrInvalidArgument", err)
	}

	if n, _ := s.Count(); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestBounds(t *testing.T) {
	s := openTestIndex(t)

	times := []float64{1, 2, 2, 5}
	for i, tm := range times {
		if err := s.Insert(record(int64(10+i), types.SolutionGain, tm)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	tests := []struct {
		name  string
		fn    func(float64) (int64, error)
		t     float64
		want  int64
		found bool
	}{
		{"upper between", s.UpperBoundID, 3.5, 13, true},
		{"lower between", s.LowerBoundID, 3.5, 12, true},
		{"upper tie takes min id", s.UpperBoundID, 1.5, 11, true},
		{"lower tie takes max id", s.LowerBoundID, 2, 12, true},
		{"upper exact", s.UpperBoundID, 2, 11, true},
		{"lower exact", s.LowerBoundID, 1, 10, true},
		{"upper at last", s.UpperBoundID, 5, 13, true},
		{"upper past end", s.UpperBoundID, 5.1, 0, false},
		{"lower before start", s.LowerBoundID, 0.5, 0, false},
		{"upper before start", s.UpperBoundID, -100, 10, true},
		{"lower past end", s.LowerBoundID, 100, 13, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.t)
			if !tt.found {
				if !errors.IsUnknownSolution(err) {
					t.Errorf("error = %v, want unknown solution", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBoundsSpanTypes(t *testing.T) {
	s := openTestIndex(t)

	s.Insert(record(1, types.SolutionGain, 10))
	s.Insert(record(1, types.SolutionLeakage, 30))
	s.Insert(record(2, types.SolutionBandpass, 20))

	if id, err := s.UpperBoundID(25); err != nil || id != 1 {
		t.Errorf("UpperBoundID(25) = %d, %v, want 1 via the leakage row", id, err)
	}
	if id, err := s.LowerBoundID(25); err != nil || id != 2 {
		t.Errorf("LowerBoundID(25) = %d, %v, want 2", id, err)
	}
}

func TestBoundsEmpty(t *testing.T) {
	s := openTestIndex(t)

	if _, err := s.UpperBoundID(0); !errors.IsUnknownSolution(err) {
		t.Errorf("UpperBoundID on empty index error = %v", err)
	}
	if _, err := s.LowerBoundID(0); !errors.IsUnknownSolution(err) {
		t.Errorf("LowerBoundID on empty index error = %v", err)
	}
}

func TestRecords(t *testing.T) {
	s := openTestIndex(t)

	s.Insert(record(3, types.SolutionGain, 2))
	s.Insert(record(1, types.SolutionLeakage, 1))
	s.Insert(record(2, types.SolutionGain, 2))
	s.Insert(record(1, types.SolutionBandpass, 1))

	recs, err := s.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}

	want := []types.Key{
		{ID: 1, Type: types.SolutionBandpass},
		{ID: 1, Type: types.SolutionLeakage},
		{ID: 2, Type: types.SolutionGain},
		{ID: 3, Type: types.SolutionGain},
	}
	if len(recs) != len(want) {
		t.Fatalf("got %d records, want %d", len(recs), len(want))
	}
	for i, k := range want {
		got := types.Key{ID: recs[i].ID, Type: recs[i].Type}
		if got != k {
			t.Errorf("record %d = %s, want %s", i, got, k)
		}
	}
	if recs[3].Location != record(3, types.SolutionGain, 2).Location {
		t.Errorf("record location = %s", recs[3].Location)
	}
}

func TestReset(t *testing.T) {
	s := openTestIndex(t)

	s.NewID()
	s.NewID()
	s.Insert(record(1, types.SolutionGain, 1))

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if n, _ := s.Count(); n != 0 {
		t.Errorf("Count() after reset = %d", n)
	}
	if _, err := s.LatestID(); !errors.IsUnknownSolution(err) {
		t.Errorf("LatestID after reset error = %v", err)
	}
	if id, _ := s.NewID(); id != 1 {
		t.Errorf("NewID after reset = %d, want 1", id)
	}
	// Rows can be re-added after reset.
	if err := s.Insert(record(1, types.SolutionGain, 1)); err != nil {
		t.Errorf("Insert after reset: %v", err)
	}
}

func TestPersistence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "index.duckdb")

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.NewID()
	s.NewID()
	s.Insert(record(2, types.SolutionGain, 4))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.NewID(); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("NewID after Close error = %v, want ErrClosed", err)
	}

	s, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if id, _ := s.NewID(); id != 3 {
		t.Errorf("NewID after reopen = %d, want 3", id)
	}
	if has, _ := s.Has(2, types.SolutionGain); !has {
		t.Error("row lost across reopen")
	}
}
