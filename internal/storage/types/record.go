package types

import "fmt"

// Location identifies a byte range inside the chunked blob store.
// It is opaque to the index beyond storage.
type Location struct {
	File   int32
	Offset int64
	Length int32
}

// End returns the offset just past the range.
func (l Location) End() int64 {
	return l.Offset + int64(l.Length)
}

// String returns "file:offset+length".
func (l Location) String() string {
	return fmt.Sprintf("%d:%d+%d", l.File, l.Offset, l.Length)
}

// Record is one index row. At most one record exists per (ID, Type).
type Record struct {
	ID       int64
	Type     SolutionType
	Time     float64
	Location Location
}

// Key identifies a stored solution.
type Key struct {
	ID   int64
	Type SolutionType
}

// String returns "id/tag".
func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ID, k.Type.Tag())
}
