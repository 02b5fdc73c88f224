package sqlitefmt

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildIndexPage assembles a synthetic index b-tree page from raw cell
// bytes. Cells are packed from the end of the page; the cell-pointer array
// records them in the given order, which is what the scan preserves.
func buildIndexPage(t *testing.T, typeByte byte, cells [][]byte) []byte {
	t.Helper()

	page := make([]byte, PageSize)
	page[0] = typeByte

	hdrSize := HeaderSizeLeaf
	if typeByte == PageTypeInteriorIndex {
		hdrSize = HeaderSizeInterior
	}

	content := PageSize
	offsets := make([]uint16, 0, len(cells))
	for _, cell := range cells {
		content -= len(cell)
		if content < hdrSize+2*len(cells) {
			t.Fatalf("cells do not fit on one page")
		}
		copy(page[content:], cell)
		offsets = append(offsets, uint16(content))
	}

	binary.BigEndian.PutUint16(page[hdrOffsetNumCells:], uint16(len(cells)))
	binary.BigEndian.PutUint16(page[hdrOffsetCellStart:], uint16(content))
	for i, off := range offsets {
		binary.BigEndian.PutUint16(page[hdrSize+i*2:], off)
	}
	return page
}

// leafCell encodes an inline leaf index cell: size varint followed by the
// payload itself.
func leafCell(payload []byte) []byte {
	buf := make([]byte, 9+len(payload))
	n := PutVarint(buf, uint64(len(payload)))
	copy(buf[n:], payload)
	return buf[:n+len(payload)]
}

// interiorCell prefixes an inline cell with a left-child page pointer.
func interiorCell(child uint32, payload []byte) []byte {
	buf := make([]byte, 4+9+len(payload))
	binary.BigEndian.PutUint32(buf, child)
	n := PutVarint(buf[4:], uint64(len(payload)))
	copy(buf[4+n:], payload)
	return buf[:4+n+len(payload)]
}

// overflowPage builds a whole overflow page: 4-byte next pointer followed by
// continuation bytes.
func overflowPage(t *testing.T, next uint32, content []byte) []byte {
	t.Helper()
	if len(content) > PageSize-4 {
		t.Fatalf("overflow content too large: %d bytes", len(content))
	}
	page := make([]byte, PageSize)
	binary.BigEndian.PutUint32(page, next)
	copy(page[4:], content)
	return page
}

// writeSourceFile concatenates pages into a temp file and maps it. Page 1 is
// prepended automatically as header-space filler, so pages[0] becomes page 2
// of the file.
func writeSourceFile(t *testing.T, pages ...[]byte) *Map {
	t.Helper()

	buf := make([]byte, 0, (len(pages)+1)*PageSize)
	buf = append(buf, make([]byte, PageSize)...) // page 1: header space
	for i, p := range pages {
		if len(p) != PageSize {
			t.Fatalf("page %d has %d bytes, want %d", i+2, len(p), PageSize)
		}
		buf = append(buf, p...)
	}

	path := filepath.Join(t.TempDir(), "source.db")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// pattern returns n deterministic bytes for payload content.
func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*7 + 13)
	}
	return buf
}
