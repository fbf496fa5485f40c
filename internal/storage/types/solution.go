package types

import (
	"fmt"
	"sort"
	"strings"
)

// SolutionType identifies the kind of calibration solution.
type SolutionType byte

const (
	// SolutionGain holds per-antenna/beam complex gains.
	SolutionGain SolutionType = 'g'
	// SolutionBandpass holds per-channel complex gains.
	SolutionBandpass SolutionType = 'b'
	// SolutionLeakage holds polarisation leakage terms.
	SolutionLeakage SolutionType = 'l'
)

// SolutionTypes lists every solution type in a stable order.
var SolutionTypes = []SolutionType{SolutionGain, SolutionBandpass, SolutionLeakage}

// String returns a human-readable representation of the SolutionType.
func (t SolutionType) String() string {
	switch t {
	case SolutionGain:
		return "gain"
	case SolutionBandpass:
		return "bandpass"
	case SolutionLeakage:
		return "leakage"
	default:
		return fmt.Sprintf("type(%q)", byte(t))
	}
}

// Tag returns the one-character tag stored in the index.
func (t SolutionType) Tag() string {
	return string(rune(t))
}

// Valid reports whether t is one of the known solution types.
func (t SolutionType) Valid() bool {
	switch t {
	case SolutionGain, SolutionBandpass, SolutionLeakage:
		return true
	}
	return false
}

// ParseSolutionType parses either the index tag ("g") or the name ("gain").
func ParseSolutionType(s string) (SolutionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "g", "gain", "gains":
		return SolutionGain, nil
	case "b", "bandpass":
		return SolutionBandpass, nil
	case "l", "leakage", "leakages":
		return SolutionLeakage, nil
	default:
		return 0, fmt.Errorf("unknown solution type %q", s)
	}
}

// JonesIndex addresses one antenna/beam pair.
type JonesIndex struct {
	Antenna int16 `yaml:"antenna"`
	Beam    int16 `yaml:"beam"`
}

// Less orders indices by antenna, then beam.
func (j JonesIndex) Less(o JonesIndex) bool {
	if j.Antenna != o.Antenna {
		return j.Antenna < o.Antenna
	}
	return j.Beam < o.Beam
}

// JonesJTerm holds the gains of both polarisations.
type JonesJTerm struct {
	G1      complex64
	G1Valid bool
	G2      complex64
	G2Valid bool
}

// JonesDTerm holds the polarisation leakages.
type JonesDTerm struct {
	D12 complex64
	D21 complex64
}

// Solution is a time-tagged calibration solution of one type.
type Solution interface {
	Type() SolutionType
	// Time is the absolute timestamp (MJD, UTC scale).
	Time() float64
}

// GainSolution is a time-tagged gains solution.
type GainSolution struct {
	Timestamp float64
	Gains     map[JonesIndex]JonesJTerm
}

func (s *GainSolution) Type() SolutionType { return SolutionGain }
func (s *GainSolution) Time() float64      { return s.Timestamp }

// BandpassSolution is a time-tagged bandpass solution, one term per channel.
type BandpassSolution struct {
	Timestamp float64
	Bandpass  map[JonesIndex][]JonesJTerm
}

func (s *BandpassSolution) Type() SolutionType { return SolutionBandpass }
func (s *BandpassSolution) Time() float64      { return s.Timestamp }

// LeakageSolution is a time-tagged leakage solution.
type LeakageSolution struct {
	Timestamp float64
	Leakages  map[JonesIndex]JonesDTerm
}

func (s *LeakageSolution) Type() SolutionType { return SolutionLeakage }
func (s *LeakageSolution) Time() float64      { return s.Timestamp }

// SortedIndices returns the keys of a solution map in JonesIndex order.
func SortedIndices[V any](m map[JonesIndex]V) []JonesIndex {
	keys := make([]JonesIndex, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
