// Package storage implements the calibration solution store.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Engine    │────▶│    Codec    │────▶│ Blob Store  │
//	│  (façade)   │     │ (protowire) │     │  (chunks)   │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │
//	       ▼
//	┌─────────────┐
//	│    Index    │
//	│  (DuckDB)   │
//	└─────────────┘
//
// A solution is encoded, appended to the current chunk file and located
// by an index row keyed on (id, type). Adds are serialized; if the index
// rejects the row the blob write is rolled back. Reads look up the row and
// fetch the bytes, batching by chunk where several solutions are wanted.
//
// The engine also provides:
//   - Identifier issue and time-bound lookups
//   - Gzip archival of rolled chunk files
//   - Parquet export of the catalog
//   - DDSketch-based size and latency statistics
package storage
