package storage

import (
	"fmt"

	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/storage/types"
)

// =============================================================================
// Gains
// =============================================================================

// HasGainSolution reports whether a gains solution is stored under id.
func (e *Engine) HasGainSolution(id int64) (bool, error) {
	return e.HasSolution(id, types.SolutionGain)
}

// AddGainSolution stores a gains solution under id.
func (e *Engine) AddGainSolution(id int64, sol *types.GainSolution) error {
	if sol == nil {
		return errors.NewInvalidArgument("gain solution", nil, "nil solution")
	}
	return e.AddSolution(id, sol)
}

// GetGainSolution returns the gains solution stored under id.
func (e *Engine) GetGainSolution(id int64) (*types.GainSolution, error) {
	sol, err := e.GetSolution(id, types.SolutionGain)
	if err != nil {
		return nil, err
	}
	return as[*types.GainSolution](sol)
}

// AdjustGains is meant to merge a partial gains solution into the most
// recent one and store the result as a new entry. Not implemented.
func (e *Engine) AdjustGains(id int64, sol *types.GainSolution) error {
	return fmt.Errorf("adjust gains of solution %d: %w", id, errors.ErrNotImplemented)
}

// =============================================================================
// Bandpass
// =============================================================================

// HasBandpassSolution reports whether a bandpass solution is stored under id.
func (e *Engine) HasBandpassSolution(id int64) (bool, error) {
	return e.HasSolution(id, types.SolutionBandpass)
}

// AddBandpassSolution stores a bandpass solution under id.
func (e *Engine) AddBandpassSolution(id int64, sol *types.BandpassSolution) error {
	if sol == nil {
		return errors.NewInvalidArgument("bandpass solution", nil, "nil solution")
	}
	return e.AddSolution(id, sol)
}

// GetBandpassSolution returns the bandpass solution stored under id.
func (e *Engine) GetBandpassSolution(id int64) (*types.BandpassSolution, error) {
	sol, err := e.GetSolution(id, types.SolutionBandpass)
	if err != nil {
		return nil, err
	}
	return as[*types.BandpassSolution](sol)
}

// AdjustBandpass is meant to merge a partial bandpass solution into the
// most recent one. Not implemented.
func (e *Engine) AdjustBandpass(id int64, sol *types.BandpassSolution) error {
	return fmt.Errorf("adjust bandpass of solution %d: %w", id, errors.ErrNotImplemented)
}

// =============================================================================
// Leakage
// =============================================================================

// HasLeakageSolution reports whether a leakage solution is stored under id.
func (e *Engine) HasLeakageSolution(id int64) (bool, error) {
	return e.HasSolution(id, types.SolutionLeakage)
}

// AddLeakageSolution stores a leakage solution under id.
func (e *Engine) AddLeakageSolution(id int64, sol *types.LeakageSolution) error {
	if sol == nil {
		return errors.NewInvalidArgument("leakage solution", nil, "nil solution")
	}
	return e.AddSolution(id, sol)
}

// GetLeakageSolution returns the leakage solution stored under id.
func (e *Engine) GetLeakageSolution(id int64) (*types.LeakageSolution, error) {
	sol, err := e.GetSolution(id, types.SolutionLeakage)
	if err != nil {
		return nil, err
	}
	return as[*types.LeakageSolution](sol)
}

// AdjustLeakages is meant to merge a partial leakage solution into the most
// recent one. Not implemented.
func (e *Engine) AdjustLeakages(id int64, sol *types.LeakageSolution) error {
	return fmt.Errorf("adjust leakages of solution %d: %w", id, errors.ErrNotImplemented)
}

func as[T types.Solution](sol types.Solution) (T, error) {
	t, ok := sol.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("decoded %T, want %T: %w", sol, zero, errors.ErrCorrupt)
	}
	return t, nil
}
