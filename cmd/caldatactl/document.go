package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/caldata/internal/storage/types"
)

// Solutions are printed and read as YAML documents. Complex values are
// split into re/im pairs since yaml.v3 has no complex encoding.

type complexDoc struct {
	Re float32 `yaml:"re"`
	Im float32 `yaml:"im"`
}

type jtermDoc struct {
	G1      complexDoc `yaml:"g1"`
	G1Valid bool       `yaml:"g1_valid"`
	G2      complexDoc `yaml:"g2"`
	G2Valid bool       `yaml:"g2_valid"`
}

type dtermDoc struct {
	D12 complexDoc `yaml:"d12"`
	D21 complexDoc `yaml:"d21"`
}

type entryDoc struct {
	Antenna  int16      `yaml:"antenna"`
	Beam     int16      `yaml:"beam"`
	Gain     *jtermDoc  `yaml:"gain,omitempty"`
	Channels []jtermDoc `yaml:"channels,omitempty"`
	Leakage  *dtermDoc  `yaml:"leakage,omitempty"`
}

type solutionDoc struct {
	ID      int64      `yaml:"id,omitempty"`
	Type    string     `yaml:"type"`
	Time    float64    `yaml:"time"`
	Entries []entryDoc `yaml:"entries"`
}

func toComplexDoc(c complex64) complexDoc {
	return complexDoc{Re: real(c), Im: imag(c)}
}

func (c complexDoc) value() complex64 {
	return complex(c.Re, c.Im)
}

func toJTermDoc(t types.JonesJTerm) jtermDoc {
	return jtermDoc{
		G1:      toComplexDoc(t.G1),
		G1Valid: t.G1Valid,
		G2:      toComplexDoc(t.G2),
		G2Valid: t.G2Valid,
	}
}

func (d jtermDoc) term() types.JonesJTerm {
	return types.JonesJTerm{
		G1:      d.G1.value(),
		G1Valid: d.G1Valid,
		G2:      d.G2.value(),
		G2Valid: d.G2Valid,
	}
}

// toDocument converts sol to its YAML form with entries in index order.
func toDocument(id int64, sol types.Solution) *solutionDoc {
	doc := &solutionDoc{
		ID:   id,
		Type: sol.Type().String(),
		Time: sol.Time(),
	}

	switch s := sol.(type) {
	case *types.GainSolution:
		for _, idx := range types.SortedIndices(s.Gains) {
			term := toJTermDoc(s.Gains[idx])
			doc.Entries = append(doc.Entries, entryDoc{Antenna: idx.Antenna, Beam: idx.Beam, Gain: &term})
		}
	case *types.BandpassSolution:
		for _, idx := range types.SortedIndices(s.Bandpass) {
			channels := make([]jtermDoc, len(s.Bandpass[idx]))
			for i, t := range s.Bandpass[idx] {
				channels[i] = toJTermDoc(t)
			}
			doc.Entries = append(doc.Entries, entryDoc{Antenna: idx.Antenna, Beam: idx.Beam, Channels: channels})
		}
	case *types.LeakageSolution:
		for _, idx := range types.SortedIndices(s.Leakages) {
			t := s.Leakages[idx]
			doc.Entries = append(doc.Entries, entryDoc{
				Antenna: idx.Antenna,
				Beam:    idx.Beam,
				Leakage: &dtermDoc{D12: toComplexDoc(t.D12), D21: toComplexDoc(t.D21)},
			})
		}
	}
	return doc
}

// solution converts the document to a solution of type want. A type
// named in the document must agree with want.
func (d *solutionDoc) solution(want types.SolutionType) (types.Solution, error) {
	if d.Type != "" {
		typ, err := types.ParseSolutionType(d.Type)
		if err != nil {
			return nil, err
		}
		if typ != want {
			return nil, fmt.Errorf("document holds a %s solution, not %s", typ, want)
		}
	}

	seen := make(map[types.JonesIndex]bool, len(d.Entries))
	for _, e := range d.Entries {
		idx := types.JonesIndex{Antenna: e.Antenna, Beam: e.Beam}
		if seen[idx] {
			return nil, fmt.Errorf("duplicate entry for antenna %d beam %d", e.Antenna, e.Beam)
		}
		seen[idx] = true
	}

	switch want {
	case types.SolutionGain:
		s := &types.GainSolution{Timestamp: d.Time, Gains: make(map[types.JonesIndex]types.JonesJTerm)}
		for _, e := range d.Entries {
			if e.Gain == nil {
				return nil, fmt.Errorf("entry antenna %d beam %d has no gain", e.Antenna, e.Beam)
			}
			s.Gains[types.JonesIndex{Antenna: e.Antenna, Beam: e.Beam}] = e.Gain.term()
		}
		return s, nil

	case types.SolutionBandpass:
		s := &types.BandpassSolution{Timestamp: d.Time, Bandpass: make(map[types.JonesIndex][]types.JonesJTerm)}
		for _, e := range d.Entries {
			terms := make([]types.JonesJTerm, len(e.Channels))
			for i, c := range e.Channels {
				terms[i] = c.term()
			}
			s.Bandpass[types.JonesIndex{Antenna: e.Antenna, Beam: e.Beam}] = terms
		}
		return s, nil

	case types.SolutionLeakage:
		s := &types.LeakageSolution{Timestamp: d.Time, Leakages: make(map[types.JonesIndex]types.JonesDTerm)}
		for _, e := range d.Entries {
			if e.Leakage == nil {
				return nil, fmt.Errorf("entry antenna %d beam %d has no leakage", e.Antenna, e.Beam)
			}
			s.Leakages[types.JonesIndex{Antenna: e.Antenna, Beam: e.Beam}] = types.JonesDTerm{
				D12: e.Leakage.D12.value(),
				D21: e.Leakage.D21.value(),
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown solution type %s", want)
}

// readDocument decodes a solution document from path, or stdin for "-".
func readDocument(path string) (*solutionDoc, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var doc solutionDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &doc, nil
}

// writeYAML encodes v to w as a YAML document.
func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
