// Package sqlitefmt decodes the on-disk SQLite b-tree page layout directly
// from a memory-mapped database image, bypassing the engine's own consistency
// checks. It is the read side of the salvage pipeline: a damaged file is
// mapped read-only, every page is classified by its type byte, and surviving
// index cells are reassembled payload-by-payload, following overflow chains
// where a key spills across pages.
//
// The package is organized as:
//
//   - varint.go: SQLite variable-length integer encoding/decoding
//   - page.go: page classification, header and cell-pointer-array decoding
//   - payload.go: cell payload reconstruction including overflow chains
//   - dbmap.go: read-only memory map of the source file
//
// Nothing here mutates the source file.
package sqlitefmt
