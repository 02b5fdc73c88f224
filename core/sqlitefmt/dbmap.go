package sqlitefmt

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	serrors "github.com/ppggff/sos/core/errors"
)

// Map is the entire source file mapped read-only into memory. It is immutable
// for the lifetime of the run; page views handed out by Page share the
// mapping and become invalid once Close is called.
type Map struct {
	file     *os.File
	data     []byte
	size     int64
	pageSize int
	reserve  int
	path     string
}

// Open stats, opens and maps the file at path read-only using the fixed
// 4096-byte page geometry of the observed format. Each of the three steps
// fails with its own distinct error.
func Open(path string) (*Map, error) {
	return OpenFile(path, PageSize, 0)
}

// OpenFile is Open with explicit page geometry. reserve is the number of
// trailer bytes per page excluded from the usable area.
func OpenFile(path string, pageSize, reserve int) (*Map, error) {
	if pageSize <= 0 || reserve < 0 || reserve >= pageSize {
		return nil, &serrors.ValidationError{Field: "page geometry",
			Message: fmt.Sprintf("page size %d, reserve %d", pageSize, reserve)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &serrors.IOError{Operation: "stat", Path: path, Err: err}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &serrors.IOError{Operation: "open", Path: path, Err: err}
	}

	size := info.Size()
	if size < int64(pageSize) {
		file.Close()
		return nil, &serrors.IOError{Operation: "mmap", Path: path,
			Err: fmt.Errorf("file smaller than one page: %d bytes", size)}
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		file.Close()
		return nil, &serrors.IOError{Operation: "mmap", Path: path, Err: err}
	}

	return &Map{
		file:     file,
		data:     data,
		size:     size,
		pageSize: pageSize,
		reserve:  reserve,
		path:     path,
	}, nil
}

// Close unmaps and closes the file.
func (m *Map) Close() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return &serrors.IOError{Operation: "munmap", Path: m.path, Err: err}
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return &serrors.IOError{Operation: "close", Path: m.path, Err: err}
		}
		m.file = nil
	}
	return nil
}

// Path returns the mapped file's path.
func (m *Map) Path() string { return m.path }

// PageSize returns the page size in bytes.
func (m *Map) PageSize() int { return m.pageSize }

// UsableSize returns the usable bytes per page, i.e. the page size minus the
// reserved trailer bytes.
func (m *Map) UsableSize() int { return m.pageSize - m.reserve }

// PageCount returns the number of whole pages in the file. A partially
// written trailing page is never visited, so any remainder bytes are ignored.
func (m *Map) PageCount() uint32 {
	return uint32(m.size / int64(m.pageSize))
}

// Page resolves the 1-based page number n to a zero-copy view.
func (m *Map) Page(n uint32) (*View, error) {
	if n < 1 || n > m.PageCount() {
		return nil, &serrors.CorruptionError{Page: n, Cell: -1,
			Reason: fmt.Sprintf("page number out of range (file has %d pages)", m.PageCount())}
	}
	off := int64(n-1) * int64(m.pageSize)
	return &View{Num: n, data: m.data[off : off+int64(m.pageSize)]}, nil
}

// Geometry is the page layout declared in the 100-byte database header on
// page 1. The salvage scan itself trusts the fixed format geometry instead;
// this is exposed for the inspect and verify commands.
type Geometry struct {
	PageSize int // Declared page size (header value 1 means 65536)
	Reserve  int // Reserved trailer bytes per page
}

// Header parses the declared geometry from the database header.
func (m *Map) Header() (*Geometry, error) {
	if m.size < FileHeaderSize {
		return nil, &serrors.CorruptionError{Page: 1, Cell: -1,
			Reason: "file shorter than the database header"}
	}
	ps := int(binary.BigEndian.Uint16(m.data[16:]))
	if ps == 1 {
		ps = 65536
	}
	if ps < 512 || ps > 65536 || ps&(ps-1) != 0 {
		return nil, &serrors.CorruptionError{Page: 1, Cell: -1,
			Reason: fmt.Sprintf("implausible declared page size %d", ps)}
	}
	return &Geometry{PageSize: ps, Reserve: int(m.data[20])}, nil
}
