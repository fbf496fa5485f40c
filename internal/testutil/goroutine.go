package testutil

import (
	"sync"
	"testing"
)

// GoroutineTest collects errors from goroutines so tests never call
// t.Fatal off the test goroutine.
//
//	gt := testutil.NewGoroutineTest(t)
//	defer gt.Wait()
//
//	gt.Go(func() error {
//	    _, err := engine.GetGainSolution(id)
//	    return err
//	})
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	mu     sync.Mutex
	errors []error
}

// NewGoroutineTest creates a new GoroutineTest helper.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	return &GoroutineTest{t: t}
}

// Go runs fn in a goroutine and records a non-nil error.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(); err != nil {
			gt.mu.Lock()
			gt.errors = append(gt.errors, err)
			gt.mu.Unlock()
		}
	}()
}

// Wait waits for all goroutines and fails the test if any of them failed.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	gt.wg.Wait()

	gt.mu.Lock()
	defer gt.mu.Unlock()

	if len(gt.errors) > 0 {
		gt.t.Errorf("Goroutine test failed with %d error(s):", len(gt.errors))
		for i, err := range gt.errors {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}
