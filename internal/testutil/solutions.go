// Package testutil provides fixtures and helpers shared by caldata tests.
package testutil

import (
	"fmt"

	"github.com/xtxerr/caldata/internal/storage/types"
)

// MakeGainSolution builds a deterministic gains solution with 10*tag entries.
func MakeGainSolution(tag int) *types.GainSolution {
	s := &types.GainSolution{
		Timestamp: float64(tag),
		Gains:     make(map[types.JonesIndex]types.JonesJTerm),
	}
	for i := 0; i < 10*tag; i++ {
		s.Gains[types.JonesIndex{Antenna: int16(i), Beam: int16(i)}] = types.JonesJTerm{
			G1:      complex(float32(i), float32(i)),
			G1Valid: tag%(i+1) == 0,
			G2:      complex(float32(tag), float32(tag)),
			G2Valid: tag%(i+1) != 0,
		}
	}
	return s
}

// MakeBandpassSolution builds a bandpass solution where entry i has i channels.
func MakeBandpassSolution(tag int) *types.BandpassSolution {
	s := &types.BandpassSolution{
		Timestamp: float64(tag),
		Bandpass:  make(map[types.JonesIndex][]types.JonesJTerm),
	}
	for i := 0; i < 10*tag; i++ {
		terms := make([]types.JonesJTerm, 0, i)
		for j := 0; j < i; j++ {
			terms = append(terms, types.JonesJTerm{
				G1:      complex(float32(j), float32(j)),
				G1Valid: tag%(j+1) == 0,
				G2:      complex(float32(tag), float32(tag)),
				G2Valid: tag%(j+1) != 0,
			})
		}
		s.Bandpass[types.JonesIndex{Antenna: int16(i), Beam: int16(i)}] = terms
	}
	return s
}

// MakeLeakageSolution builds a deterministic leakage solution.
func MakeLeakageSolution(tag int) *types.LeakageSolution {
	s := &types.LeakageSolution{
		Timestamp: float64(tag),
		Leakages:  make(map[types.JonesIndex]types.JonesDTerm),
	}
	for i := 0; i < 10*tag; i++ {
		s.Leakages[types.JonesIndex{Antenna: int16(i), Beam: int16(i)}] = types.JonesDTerm{
			D12: complex(float32(i), float32(i)),
			D21: complex(float32(i), float32(i)),
		}
	}
	return s
}

// EqualSolutions compares two solutions field by field. Nil and empty
// maps and channel lists compare equal. The returned error describes
// the first difference.
func EqualSolutions(want, got types.Solution) error {
	if want == nil || got == nil {
		if want == nil && got == nil {
			return nil
		}
		return fmt.Errorf("one solution is nil: want %v, got %v", want, got)
	}
	if want.Type() != got.Type() {
		return fmt.Errorf("type: want %v, got %v", want.Type(), got.Type())
	}
	if want.Time() != got.Time() {
		return fmt.Errorf("time: want %v, got %v", want.Time(), got.Time())
	}

	switch w := want.(type) {
	case *types.GainSolution:
		g := got.(*types.GainSolution)
		if len(w.Gains) != len(g.Gains) {
			return fmt.Errorf("gains: want %d entries, got %d", len(w.Gains), len(g.Gains))
		}
		for idx, term := range w.Gains {
			if other, ok := g.Gains[idx]; !ok || other != term {
				return fmt.Errorf("gains[%v]: want %+v, got %+v", idx, term, other)
			}
		}
	case *types.BandpassSolution:
		g := got.(*types.BandpassSolution)
		if len(w.Bandpass) != len(g.Bandpass) {
			return fmt.Errorf("bandpass: want %d entries, got %d", len(w.Bandpass), len(g.Bandpass))
		}
		for idx, terms := range w.Bandpass {
			other, ok := g.Bandpass[idx]
			if !ok || len(other) != len(terms) {
				return fmt.Errorf("bandpass[%v]: want %d channels, got %d", idx, len(terms), len(other))
			}
			for ch := range terms {
				if terms[ch] != other[ch] {
					return fmt.Errorf("bandpass[%v][%d]: want %+v, got %+v", idx, ch, terms[ch], other[ch])
				}
			}
		}
	case *types.LeakageSolution:
		g := got.(*types.LeakageSolution)
		if len(w.Leakages) != len(g.Leakages) {
			return fmt.Errorf("leakages: want %d entries, got %d", len(w.Leakages), len(g.Leakages))
		}
		for idx, term := range w.Leakages {
			if other, ok := g.Leakages[idx]; !ok || other != term {
				return fmt.Errorf("leakages[%v]: want %+v, got %+v", idx, term, other)
			}
		}
	default:
		return fmt.Errorf("unsupported solution %T", want)
	}
	return nil
}
