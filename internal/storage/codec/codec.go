// Package codec serializes calibration solutions for the blob store.
//
// Solutions are written in protobuf wire format without generated code:
//
//	Solution: 1 kind (varint), 2 timestamp (double), 3 entry (repeated bytes)
//	Entry:    1 antenna (zigzag), 2 beam (zigzag), 3 jterm (repeated bytes), 4 dterm (bytes)
//	JTerm:    1 g1.re, 2 g1.im (float), 3 g1 valid (bool), 4 g2.re, 5 g2.im, 6 g2 valid
//	DTerm:    1 d12.re, 2 d12.im, 3 d21.re, 4 d21.im (float)
//
// A gain entry carries exactly one jterm, a bandpass entry one jterm per
// channel and a leakage entry one dterm. Entries are sorted by JonesIndex.
//
// Every payload starts with a 4 byte little-endian CRC-32 of the message.
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/storage/types"
)

const crcSize = 4

// Field numbers.
const (
	fieldKind      protowire.Number = 1
	fieldTimestamp protowire.Number = 2
	fieldEntry     protowire.Number = 3

	fieldAntenna protowire.Number = 1
	fieldBeam    protowire.Number = 2
	fieldJTerm   protowire.Number = 3
	fieldDTerm   protowire.Number = 4
)

// Encode serializes a solution into a checksummed payload.
func Encode(sol types.Solution) ([]byte, error) {
	if sol == nil {
		return nil, errors.NewInvalidArgument("solution", nil, "nil solution")
	}

	// Reserve room for the checksum.
	buf := make([]byte, crcSize, 256)

	buf = protowire.AppendTag(buf, fieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(sol.Type()))
	buf = protowire.AppendTag(buf, fieldTimestamp, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(sol.Time()))

	var entry []byte
	switch s := sol.(type) {
	case *types.GainSolution:
		for _, idx := range types.SortedIndices(s.Gains) {
			entry = appendIndex(entry[:0], idx)
			entry = protowire.AppendTag(entry, fieldJTerm, protowire.BytesType)
			entry = protowire.AppendBytes(entry, appendJTerm(nil, s.Gains[idx]))
			buf = appendEntry(buf, entry)
		}
	case *types.BandpassSolution:
		for _, idx := range types.SortedIndices(s.Bandpass) {
			entry = appendIndex(entry[:0], idx)
			for _, term := range s.Bandpass[idx] {
				entry = protowire.AppendTag(entry, fieldJTerm, protowire.BytesType)
				entry = protowire.AppendBytes(entry, appendJTerm(nil, term))
			}
			buf = appendEntry(buf, entry)
		}
	case *types.LeakageSolution:
		for _, idx := range types.SortedIndices(s.Leakages) {
			entry = appendIndex(entry[:0], idx)
			entry = protowire.AppendTag(entry, fieldDTerm, protowire.BytesType)
			entry = protowire.AppendBytes(entry, appendDTerm(nil, s.Leakages[idx]))
			buf = appendEntry(buf, entry)
		}
	default:
		return nil, errors.NewInvalidArgument("solution", fmt.Sprintf("%T", sol), "unsupported solution type")
	}

	binary.LittleEndian.PutUint32(buf[:crcSize], crc32.ChecksumIEEE(buf[crcSize:]))
	return buf, nil
}

func appendEntry(buf, entry []byte) []byte {
	buf = protowire.AppendTag(buf, fieldEntry, protowire.BytesType)
	return protowire.AppendBytes(buf, entry)
}

func appendIndex(buf []byte, idx types.JonesIndex) []byte {
	buf = protowire.AppendTag(buf, fieldAntenna, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(idx.Antenna)))
	buf = protowire.AppendTag(buf, fieldBeam, protowire.VarintType)
	return protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(idx.Beam)))
}

func appendFloat(buf []byte, num protowire.Number, v float32) []byte {
	buf = protowire.AppendTag(buf, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(buf, math.Float32bits(v))
}

func appendBool(buf []byte, num protowire.Number, v bool) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, protowire.EncodeBool(v))
}

func appendJTerm(buf []byte, t types.JonesJTerm) []byte {
	buf = appendFloat(buf, 1, real(t.G1))
	buf = appendFloat(buf, 2, imag(t.G1))
	buf = appendBool(buf, 3, t.G1Valid)
	buf = appendFloat(buf, 4, real(t.G2))
	buf = appendFloat(buf, 5, imag(t.G2))
	return appendBool(buf, 6, t.G2Valid)
}

func appendDTerm(buf []byte, t types.JonesDTerm) []byte {
	buf = appendFloat(buf, 1, real(t.D12))
	buf = appendFloat(buf, 2, imag(t.D12))
	buf = appendFloat(buf, 3, real(t.D21))
	return appendFloat(buf, 4, imag(t.D21))
}

// Kind returns the solution type recorded in a payload without decoding
// the entries.
func Kind(data []byte) (types.SolutionType, error) {
	msg, err := verify(data)
	if err != nil {
		return 0, err
	}
	var kind types.SolutionType
	err = walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldKind && typ == protowire.VarintType {
			k, n, err := consumeKind(b)
			kind = k
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return kind, err
}

// Decode parses a payload produced by Encode. The stored kind must match want.
func Decode(data []byte, want types.SolutionType) (types.Solution, error) {
	msg, err := verify(data)
	if err != nil {
		return nil, err
	}

	var (
		kind      types.SolutionType
		timestamp float64
		entries   [][]byte
	)
	err = walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			k, n, err := consumeKind(b)
			kind = k
			return n, err
		case num == fieldTimestamp && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			timestamp = math.Float64frombits(v)
			return n, nil
		case num == fieldEntry && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			entries = append(entries, v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}

	if kind != want {
		return nil, fmt.Errorf("stored %v, requested %v: %w", kind, want, errors.ErrCorrupt)
	}

	switch kind {
	case types.SolutionGain:
		sol := &types.GainSolution{Timestamp: timestamp, Gains: make(map[types.JonesIndex]types.JonesJTerm, len(entries))}
		for i, e := range entries {
			idx, jterms, _, err := decodeEntry(e)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			if len(jterms) != 1 {
				return nil, fmt.Errorf("entry %d: %d gain terms: %w", i, len(jterms), errors.ErrCorrupt)
			}
			sol.Gains[idx] = jterms[0]
		}
		return sol, nil

	case types.SolutionBandpass:
		sol := &types.BandpassSolution{Timestamp: timestamp, Bandpass: make(map[types.JonesIndex][]types.JonesJTerm, len(entries))}
		for i, e := range entries {
			idx, jterms, _, err := decodeEntry(e)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			sol.Bandpass[idx] = jterms
		}
		return sol, nil

	case types.SolutionLeakage:
		sol := &types.LeakageSolution{Timestamp: timestamp, Leakages: make(map[types.JonesIndex]types.JonesDTerm, len(entries))}
		for i, e := range entries {
			idx, _, dterm, err := decodeEntry(e)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			if dterm == nil {
				return nil, fmt.Errorf("entry %d: missing leakage term: %w", i, errors.ErrCorrupt)
			}
			sol.Leakages[idx] = *dterm
		}
		return sol, nil
	}

	return nil, fmt.Errorf("unknown kind %v: %w", kind, errors.ErrCorrupt)
}

// consumeKind reads the kind varint. Kinds are single bytes; anything
// wider is corrupt.
func consumeKind(b []byte) (types.SolutionType, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, n, nil
	}
	if v > 0xff {
		return 0, n, fmt.Errorf("kind %#x out of range: %w", v, errors.ErrCorrupt)
	}
	return types.SolutionType(v), n, nil
}

// verify checks the CRC header and returns the message bytes.
func verify(data []byte) ([]byte, error) {
	if len(data) < crcSize {
		return nil, fmt.Errorf("payload too short (%d bytes): %w", len(data), errors.ErrCorrupt)
	}
	expected := binary.LittleEndian.Uint32(data[:crcSize])
	msg := data[crcSize:]
	if actual := crc32.ChecksumIEEE(msg); actual != expected {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x: %w", expected, actual, errors.ErrCorrupt)
	}
	return msg, nil
}

// walk calls fn for every field in b. fn returns the number of value bytes
// it consumed, negative on a malformed value.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%v: %w", protowire.ParseError(n), errors.ErrCorrupt)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("field %d: %v: %w", num, protowire.ParseError(m), errors.ErrCorrupt)
		}
		b = b[m:]
	}
	return nil
}

func decodeEntry(b []byte) (types.JonesIndex, []types.JonesJTerm, *types.JonesDTerm, error) {
	var (
		idx    types.JonesIndex
		jterms = []types.JonesJTerm{}
		dterm  *types.JonesDTerm
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldAntenna && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			idx.Antenna = int16(protowire.DecodeZigZag(v))
			return n, nil
		case num == fieldBeam && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			idx.Beam = int16(protowire.DecodeZigZag(v))
			return n, nil
		case num == fieldJTerm && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			t, err := decodeJTerm(v)
			if err != nil {
				return 0, err
			}
			jterms = append(jterms, t)
			return n, nil
		case num == fieldDTerm && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			t, err := decodeDTerm(v)
			if err != nil {
				return 0, err
			}
			dterm = &t
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return idx, jterms, dterm, err
}

func decodeJTerm(b []byte) (types.JonesJTerm, error) {
	var (
		t                  types.JonesJTerm
		g1r, g1i, g2r, g2i float32
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case typ == protowire.Fixed32Type && num >= 1 && num <= 5 && num != 3:
			v, n := protowire.ConsumeFixed32(b)
			f := math.Float32frombits(v)
			switch num {
			case 1:
				g1r = f
			case 2:
				g1i = f
			case 4:
				g2r = f
			case 5:
				g2i = f
			}
			return n, nil
		case typ == protowire.VarintType && (num == 3 || num == 6):
			v, n := protowire.ConsumeVarint(b)
			if num == 3 {
				t.G1Valid = protowire.DecodeBool(v)
			} else {
				t.G2Valid = protowire.DecodeBool(v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	t.G1 = complex(g1r, g1i)
	t.G2 = complex(g2r, g2i)
	return t, err
}

func decodeDTerm(b []byte) (types.JonesDTerm, error) {
	var parts [4]float32
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.Fixed32Type && num >= 1 && num <= 4 {
			v, n := protowire.ConsumeFixed32(b)
			parts[num-1] = math.Float32frombits(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return types.JonesDTerm{
		D12: complex(parts[0], parts[1]),
		D21: complex(parts[2], parts[3]),
	}, err
}
