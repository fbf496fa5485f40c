package storage

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/storage/blob"
	"github.com/xtxerr/caldata/internal/storage/config"
	"github.com/xtxerr/caldata/internal/storage/index"
	"github.com/xtxerr/caldata/internal/storage/parquet"
	"github.com/xtxerr/caldata/internal/storage/types"
	"github.com/xtxerr/caldata/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Index.DSN = ":memory:"
	cfg.Blob.SyncMode = "async"
	return cfg
}

func openTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// flakyIndex fails inserts on demand.
type flakyIndex struct {
	Index
	failInsert atomic.Bool
}

func (f *flakyIndex) Insert(rec types.Record) error {
	if f.failInsert.Load() {
		return errors.NewStorageFault("insert solution", fmt.Errorf("injected failure"))
	}
	return f.Index.Insert(rec)
}

func openFlakyEngine(t *testing.T, cfg *config.Config) (*Engine, *flakyIndex) {
	t.Helper()

	idx, err := index.Open(index.DefaultConfig())
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	blobs, err := blob.Open(cfg.BlobDir(), blob.Options{
		MaxFileSize: cfg.Blob.MaxFileSize,
		SyncMode:    cfg.Blob.SyncMode,
	})
	if err != nil {
		idx.Close()
		t.Fatalf("blob.Open: %v", err)
	}

	flaky := &flakyIndex{Index: idx}
	e := New(cfg, flaky, blobs)
	t.Cleanup(func() { e.Close() })
	return e, flaky
}

func TestEngineRoundTrip(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	for tag := 1; tag <= 3; tag++ {
		id, err := e.NewSolutionID()
		if err != nil {
			t.Fatalf("NewSolutionID: %v", err)
		}

		gain := testutil.MakeGainSolution(tag)
		bandpass := testutil.MakeBandpassSolution(tag)
		leakage := testutil.MakeLeakageSolution(tag)

		if err := e.AddGainSolution(id, gain); err != nil {
			t.Fatalf("AddGainSolution: %v", err)
		}
		if err := e.AddBandpassSolution(id, bandpass); err != nil {
			t.Fatalf("AddBandpassSolution: %v", err)
		}
		if err := e.AddLeakageSolution(id, leakage); err != nil {
			t.Fatalf("AddLeakageSolution: %v", err)
		}

		for _, has := range []func(int64) (bool, error){
			e.HasGainSolution, e.HasBandpassSolution, e.HasLeakageSolution,
		} {
			if ok, err := has(id); err != nil || !ok {
				t.Errorf("has solution %d = %v, %v", id, ok, err)
			}
		}

		g, err := e.GetGainSolution(id)
		if err != nil {
			t.Fatalf("GetGainSolution: %v", err)
		}
		if err := testutil.EqualSolutions(gain, g); err != nil {
			t.Errorf("gain %d: %v", id, err)
		}

		b, err := e.GetBandpassSolution(id)
		if err != nil {
			t.Fatalf("GetBandpassSolution: %v", err)
		}
		if err := testutil.EqualSolutions(bandpass, b); err != nil {
			t.Errorf("bandpass %d: %v", id, err)
		}

		l, err := e.GetLeakageSolution(id)
		if err != nil {
			t.Fatalf("GetLeakageSolution: %v", err)
		}
		if err := testutil.EqualSolutions(leakage, l); err != nil {
			t.Errorf("leakage %d: %v", id, err)
		}
	}

	latest, err := e.LatestSolutionID()
	if err != nil || latest != 3 {
		t.Errorf("LatestSolutionID() = %d, %v, want 3", latest, err)
	}
}

func TestEngineUniqueness(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	id, _ := e.NewSolutionID()
	first := testutil.MakeGainSolution(1)
	if err := e.AddGainSolution(id, first); err != nil {
		t.Fatalf("AddGainSolution: %v", err)
	}
	size := e.blobs.Size()

	err := e.AddGainSolution(id, testutil.MakeGainSolution(2))
	if !errors.IsAlreadyExists(err) {
		t.Fatalf("second AddGainSolution error = %v, want already exists", err)
	}
	if e.blobs.Size() != size {
		t.Errorf("refused add grew the blob store from %d to %d", size, e.blobs.Size())
	}

	got, err := e.GetGainSolution(id)
	if err != nil {
		t.Fatalf("GetGainSolution: %v", err)
	}
	if err := testutil.EqualSolutions(first, got); err != nil {
		t.Errorf("first solution changed: %v", err)
	}

	// Other types under the same id are independent.
	if err := e.AddLeakageSolution(id, testutil.MakeLeakageSolution(1)); err != nil {
		t.Errorf("AddLeakageSolution: %v", err)
	}
}

func TestEngineRollbackAtomicity(t *testing.T) {
	cfg := testConfig(t)
	e, flaky := openFlakyEngine(t, cfg)

	if err := e.AddGainSolution(1, testutil.MakeGainSolution(1)); err != nil {
		t.Fatalf("AddGainSolution: %v", err)
	}
	file, size := e.blobs.Current(), e.blobs.Size()

	flaky.failInsert.Store(true)
	err := e.AddGainSolution(2, testutil.MakeGainSolution(2))
	if !errors.IsStorageFault(err) {
		t.Fatalf("AddGainSolution error = %v, want the injected storage fault", err)
	}

	if e.blobs.Current() != file || e.blobs.Size() != size {
		t.Errorf("blob store at %d/%d after rollback, want %d/%d",
			e.blobs.Current(), e.blobs.Size(), file, size)
	}
	if has, _ := e.HasGainSolution(2); has {
		t.Error("failed add left an index row")
	}
	if _, err := e.GetGainSolution(2); !errors.IsUnknownSolution(err) {
		t.Errorf("GetGainSolution of failed add error = %v, want unknown solution", err)
	}
	if _, err := e.blobs.Read(types.Location{File: file, Offset: size, Length: 1}); !errors.IsStorageFault(err) {
		t.Errorf("orphaned bytes still readable: %v", err)
	}

	snap, _ := e.Stats()
	if snap.Engine.Rollbacks != 1 {
		t.Errorf("Rollbacks = %d, want 1", snap.Engine.Rollbacks)
	}

	// The next add reuses the reclaimed space.
	flaky.failInsert.Store(false)
	if err := e.AddGainSolution(2, testutil.MakeGainSolution(2)); err != nil {
		t.Fatalf("AddGainSolution after rollback: %v", err)
	}
	recs, _ := e.Records()
	if len(recs) != 2 || recs[1].Location.Offset != size {
		t.Errorf("records after retry = %+v, want second at offset %d", recs, size)
	}
	got, err := e.GetGainSolution(2)
	if err != nil {
		t.Fatalf("GetGainSolution: %v", err)
	}
	if err := testutil.EqualSolutions(testutil.MakeGainSolution(2), got); err != nil {
		t.Error(err)
	}
}

func TestEngineRollbackAfterRollover(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blob.MaxFileSize = 512
	e, flaky := openFlakyEngine(t, cfg)

	if err := e.AddLeakageSolution(1, testutil.MakeLeakageSolution(1)); err != nil {
		t.Fatalf("AddLeakageSolution: %v", err)
	}
	if e.blobs.Current() != 1 {
		t.Fatalf("Current() = %d, want 1", e.blobs.Current())
	}

	// A large bandpass solution forces a new chunk, then the insert fails.
	flaky.failInsert.Store(true)
	if err := e.AddBandpassSolution(1, testutil.MakeBandpassSolution(2)); err == nil {
		t.Fatal("expected injected failure")
	}
	if e.blobs.Current() != 2 || e.blobs.Size() != 0 {
		t.Errorf("blob store at %d/%d, want empty chunk 2", e.blobs.Current(), e.blobs.Size())
	}

	if _, err := e.GetLeakageSolution(1); err != nil {
		t.Errorf("earlier solution unreadable after rollback: %v", err)
	}
}

func TestEngineEmptyStore(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	if _, err := e.LatestSolutionID(); !errors.IsUnknownSolution(err) {
		t.Errorf("LatestSolutionID error = %v, want unknown solution", err)
	}
	if _, err := e.UpperBoundID(0); !errors.IsUnknownSolution(err) {
		t.Errorf("UpperBoundID error = %v, want unknown solution", err)
	}
	if _, err := e.LowerBoundID(0); !errors.IsUnknownSolution(err) {
		t.Errorf("LowerBoundID error = %v, want unknown solution", err)
	}
	if _, err := e.GetGainSolution(1); !errors.IsUnknownSolution(err) {
		t.Errorf("GetGainSolution error = %v, want unknown solution", err)
	}
	if has, err := e.HasBandpassSolution(1); err != nil || has {
		t.Errorf("HasBandpassSolution = %v, %v", has, err)
	}
	if sols, err := e.GetSolutions(types.SolutionGain, nil); err != nil || len(sols) != 0 {
		t.Errorf("GetSolutions(nil) = %v, %v", sols, err)
	}
}

func TestEngineBounds(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	// Solutions with times [1, 2, 2, 5] under ids [10, 11, 12, 13].
	for i, tm := range []float64{1, 2, 2, 5} {
		sol := testutil.MakeGainSolution(1)
		sol.Timestamp = tm
		if err := e.AddGainSolution(int64(10+i), sol); err != nil {
			t.Fatalf("AddGainSolution: %v", err)
		}
	}

	if id, err := e.UpperBoundID(3.5); err != nil || id != 13 {
		t.Errorf("UpperBoundID(3.5) = %d, %v, want 13", id, err)
	}
	if id, err := e.LowerBoundID(3.5); err != nil || id != 12 {
		t.Errorf("LowerBoundID(3.5) = %d, %v, want 12", id, err)
	}
	if id, err := e.UpperBoundID(1.5); err != nil || id != 11 {
		t.Errorf("UpperBoundID(1.5) = %d, %v, want 11", id, err)
	}
	if _, err := e.UpperBoundID(6); !errors.IsUnknownSolution(err) {
		t.Errorf("UpperBoundID(6) error = %v, want unknown solution", err)
	}
}

func TestEngineGetSolutions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blob.MaxFileSize = 2048
	e := openTestEngine(t, cfg)

	var ids []int64
	want := make(map[int64]*types.BandpassSolution)
	for tag := 1; tag <= 12; tag++ {
		id, _ := e.NewSolutionID()
		sol := testutil.MakeBandpassSolution(tag%4 + 1)
		sol.Timestamp = float64(tag)
		if err := e.AddBandpassSolution(id, sol); err != nil {
			t.Fatalf("AddBandpassSolution: %v", err)
		}
		ids = append(ids, id)
		want[id] = sol
	}
	if e.blobs.Current() < 3 {
		t.Fatalf("expected several chunks, got %d", e.blobs.Current())
	}
	if err := e.Archive(1); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	shuffled := append([]int64(nil), ids...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	shuffled = append(shuffled, shuffled[0])

	got, err := e.GetSolutions(types.SolutionBandpass, shuffled)
	if err != nil {
		t.Fatalf("GetSolutions: %v", err)
	}
	if len(got) != len(shuffled) {
		t.Fatalf("got %d solutions, want %d", len(got), len(shuffled))
	}
	for i, id := range shuffled {
		if err := testutil.EqualSolutions(want[id], got[i]); err != nil {
			t.Errorf("position %d (id %d): %v", i, id, err)
		}
	}

	if _, err := e.GetSolutions(types.SolutionBandpass, []int64{ids[0], 999}); !errors.IsUnknownSolution(err) {
		t.Errorf("GetSolutions with missing id error = %v, want unknown solution", err)
	}
	if _, err := e.GetSolutions(types.SolutionGain, ids[:1]); !errors.IsUnknownSolution(err) {
		t.Errorf("GetSolutions with wrong type error = %v, want unknown solution", err)
	}
}

func TestEngineConcurrentReads(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	want := testutil.MakeGainSolution(3)
	if err := e.AddGainSolution(1, want); err != nil {
		t.Fatalf("AddGainSolution: %v", err)
	}

	gt := testutil.NewGoroutineTest(t)
	for i := 0; i < 16; i++ {
		gt.Go(func() error {
			for j := 0; j < 20; j++ {
				got, err := e.GetGainSolution(1)
				if err != nil {
					return err
				}
				if err := testutil.EqualSolutions(want, got); err != nil {
					return err
				}
			}
			return nil
		})
	}
	gt.Go(func() error {
		for id := int64(2); id < 12; id++ {
			if err := e.AddLeakageSolution(id, testutil.MakeLeakageSolution(1)); err != nil {
				return err
			}
		}
		return nil
	})
	gt.Wait()

	snap, err := e.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.Engine.Gets != 320 {
		t.Errorf("Gets = %d, want 320", snap.Engine.Gets)
	}
	if snap.Solutions != 11 {
		t.Errorf("Solutions = %d, want 11", snap.Solutions)
	}
}

func TestEngineAdjustNotImplemented(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	if err := e.AdjustGains(1, testutil.MakeGainSolution(1)); !errors.Is(err, errors.ErrNotImplemented) {
		t.Errorf("AdjustGains error = %v", err)
	}
	if err := e.AdjustBandpass(1, testutil.MakeBandpassSolution(1)); !errors.Is(err, errors.ErrNotImplemented) {
		t.Errorf("AdjustBandpass error = %v", err)
	}
	if err := e.AdjustLeakages(1, testutil.MakeLeakageSolution(1)); !errors.Is(err, errors.ErrNotImplemented) {
		t.Errorf("AdjustLeakages error = %v", err)
	}
	if errors.ErrorToCode(e.AdjustGains(1, nil)) != errors.CodeNotImplemented {
		t.Error("AdjustGains should map to CodeNotImplemented")
	}
}

func TestEngineInvalidInput(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	if err := e.AddGainSolution(1, nil); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("AddGainSolution(nil) error = %v", err)
	}
	if err := e.AddSolution(1, nil); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("AddSolution(nil) error = %v", err)
	}
}

func TestEngineExport(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	e.AddGainSolution(1, testutil.MakeGainSolution(1))
	e.AddLeakageSolution(1, testutil.MakeLeakageSolution(1))
	e.AddBandpassSolution(2, testutil.MakeBandpassSolution(2))

	path := filepath.Join(t.TempDir(), "catalog.parquet")
	n, err := e.Export(path)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 3 {
		t.Errorf("Export wrote %d rows, want 3", n)
	}

	r, err := parquet.NewRecordReader(path)
	if err != nil {
		t.Fatalf("NewRecordReader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want, _ := e.Records()
	if len(got) != len(want) {
		t.Fatalf("exported %d records, catalog has %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEngineReset(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	id, _ := e.NewSolutionID()
	e.AddGainSolution(id, testutil.MakeGainSolution(1))

	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if has, _ := e.HasGainSolution(id); has {
		t.Error("solution survived reset")
	}
	if next, _ := e.NewSolutionID(); next != 1 {
		t.Errorf("NewSolutionID after reset = %d, want 1", next)
	}
}

func TestEnginePersistence(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.DSN = ""

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, _ := e.NewSolutionID()
	want := testutil.MakeBandpassSolution(2)
	if err := e.AddBandpassSolution(id, want); err != nil {
		t.Fatalf("AddBandpassSolution: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := e.GetBandpassSolution(id); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("GetBandpassSolution after Close error = %v, want ErrClosed", err)
	}

	e = openTestEngine(t, cfg)
	got, err := e.GetBandpassSolution(id)
	if err != nil {
		t.Fatalf("GetBandpassSolution after reopen: %v", err)
	}
	if err := testutil.EqualSolutions(want, got); err != nil {
		t.Error(err)
	}
	if next, _ := e.NewSolutionID(); next != id+1 {
		t.Errorf("NewSolutionID after reopen = %d, want %d", next, id+1)
	}
}

func TestEngineCleanResetsIndex(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.DSN = ""

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first := testutil.MakeGainSolution(1)
	first.Timestamp = 100
	if err := e.AddGainSolution(1, first); err != nil {
		t.Fatalf("AddGainSolution: %v", err)
	}
	e.NewSolutionID()
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Same-sized payload, so a stale row would decode the new bytes.
	cfg.Blob.Clean = true
	e = openTestEngine(t, cfg)

	if has, err := e.HasGainSolution(1); err != nil || has {
		t.Errorf("HasGainSolution(1) after clean = %v, %v, want false", has, err)
	}
	if _, err := e.LatestSolutionID(); !errors.IsUnknownSolution(err) {
		t.Errorf("LatestSolutionID after clean error = %v, want unknown solution", err)
	}

	second := testutil.MakeGainSolution(1)
	second.Timestamp = 200
	if err := e.AddGainSolution(2, second); err != nil {
		t.Fatalf("AddGainSolution: %v", err)
	}
	if _, err := e.GetGainSolution(1); !errors.IsUnknownSolution(err) {
		t.Errorf("GetGainSolution(1) after clean error = %v, want unknown solution", err)
	}
	got, err := e.GetGainSolution(2)
	if err != nil {
		t.Fatalf("GetGainSolution(2): %v", err)
	}
	if err := testutil.EqualSolutions(second, got); err != nil {
		t.Error(err)
	}
	if n, _ := e.index.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}
