package sqlitefmt

import (
	"encoding/binary"
	"fmt"

	serrors "github.com/ppggff/sos/core/errors"
)

// Page type tag bytes (first byte of the b-tree page header)
const (
	PageTypeInteriorIndex = 0x02 // Interior index b-tree page
	PageTypeLeafIndex     = 0x0a // Leaf index b-tree page
)

// Page geometry of the observed source format.
const (
	PageSize       = 4096 // Fixed page size of the source files this tool handles
	FileHeaderSize = 100  // Database file header on page 1
)

// Page header layout
const (
	hdrOffsetType       = 0 // Page type (1 byte)
	hdrOffsetFreeblock  = 1 // First freeblock offset (2 bytes)
	hdrOffsetNumCells   = 3 // Number of cells (2 bytes)
	hdrOffsetCellStart  = 5 // Start of cell content area (2 bytes)
	hdrOffsetFragmented = 7 // Fragmented free bytes (1 byte)
	hdrOffsetRightChild = 8 // Right-most child pointer (4 bytes, interior only)

	HeaderSizeLeaf     = 8  // Leaf pages: 8 bytes
	HeaderSizeInterior = 12 // Interior pages: 12 bytes (includes right child pointer)
)

// Kind classifies a page for the salvage scan. Table b-tree pages, free-list
// pages and anything unrecognized are all KindOther and are skipped.
type Kind int

const (
	KindOther Kind = iota
	KindLeafIndex
	KindInteriorIndex
)

func (k Kind) String() string {
	switch k {
	case KindLeafIndex:
		return "leaf index"
	case KindInteriorIndex:
		return "interior index"
	default:
		return "other"
	}
}

// PageHeader represents the parsed header of an index b-tree page
type PageHeader struct {
	Type             byte   // Page type tag (0x02 or 0x0a)
	FirstFreeblock   uint16 // Offset to first freeblock (0 if none)
	NumCells         uint16 // Number of cells on this page
	CellContentStart uint32 // Start of cell content area (header value 0 decodes as 65536)
	FragmentedBytes  int8   // Number of fragmented free bytes
	RightChild       uint32 // Right-most child page number (interior pages only)

	HeaderSize int // 8 for leaf pages, 12 for interior pages
}

// IsInterior reports whether the header belongs to an interior index page.
func (h *PageHeader) IsInterior() bool { return h.Type == PageTypeInteriorIndex }

// String returns a string representation of the page header
func (h *PageHeader) String() string {
	return fmt.Sprintf("PageHeader{type=0x%02x, cells=%d, contentStart=%d, freeblock=%d, fragmented=%d}",
		h.Type, h.NumCells, h.CellContentStart, h.FirstFreeblock, h.FragmentedBytes)
}

// View is a zero-copy window over one fixed-size page inside the mapped
// source file. It is only valid while the owning Map stays open.
type View struct {
	Num  uint32 // 1-based page number
	data []byte // Exactly PageSize bytes of the mapped file
}

// Data exposes the raw page bytes. Callers must not mutate them; the
// underlying mapping is read-only and writes would fault.
func (v *View) Data() []byte { return v.data }

// Classify inspects the page type byte. Only the two index b-tree tags are
// recognized; every other value yields KindOther regardless of the rest of
// the page.
func (v *View) Classify() Kind {
	switch v.data[0] {
	case PageTypeLeafIndex:
		return KindLeafIndex
	case PageTypeInteriorIndex:
		return KindInteriorIndex
	default:
		return KindOther
	}
}

// Header decodes the 8-byte (leaf) or 12-byte (interior) page header.
// All multi-byte integers are big-endian.
func (v *View) Header() (*PageHeader, error) {
	h := &PageHeader{
		Type:             v.data[hdrOffsetType],
		FirstFreeblock:   binary.BigEndian.Uint16(v.data[hdrOffsetFreeblock:]),
		NumCells:         binary.BigEndian.Uint16(v.data[hdrOffsetNumCells:]),
		CellContentStart: uint32(binary.BigEndian.Uint16(v.data[hdrOffsetCellStart:])),
		FragmentedBytes:  int8(v.data[hdrOffsetFragmented]),
		HeaderSize:       HeaderSizeLeaf,
	}

	// A zero cell content start means the area begins at byte 65536
	if h.CellContentStart == 0 {
		h.CellContentStart = 65536
	}

	switch h.Type {
	case PageTypeLeafIndex:
	case PageTypeInteriorIndex:
		h.RightChild = binary.BigEndian.Uint32(v.data[hdrOffsetRightChild:])
		h.HeaderSize = HeaderSizeInterior
	default:
		return nil, &serrors.CorruptionError{
			Page: v.Num, Cell: -1,
			Reason: fmt.Sprintf("not an index b-tree page: type=0x%02x", h.Type),
		}
	}

	return h, nil
}

// CellOffsets decodes the cell-pointer array that immediately follows the
// page header: NumCells consecutive 16-bit big-endian offsets relative to the
// page start, in on-page storage order.
func (v *View) CellOffsets(h *PageHeader) ([]uint16, error) {
	end := h.HeaderSize + int(h.NumCells)*2
	if end > len(v.data) {
		return nil, &serrors.CorruptionError{
			Page: v.Num, Cell: -1,
			Reason: fmt.Sprintf("cell pointer array overruns page: %d cells", h.NumCells),
		}
	}

	offsets := make([]uint16, h.NumCells)
	for i := range offsets {
		offsets[i] = binary.BigEndian.Uint16(v.data[h.HeaderSize+i*2:])
	}
	return offsets, nil
}
