// Package checksum implements the integrity codec protecting the destination
// database: a two-part 32+32-bit sum stored in the reserved trailer bytes of
// every page. The sum is derived with BLAKE3 over the page content prefixed
// by the page number and a fixed salt, so a page copied to a different slot
// verifies as corrupt.
package checksum

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	serrors "github.com/ppggff/sos/core/errors"
)

const (
	// SumSize is the number of reserved trailer bytes the codec occupies
	// per page: two big-endian 32-bit checksum parts.
	SumSize = 8

	// DefaultPageSize is the page size assumed before the destination's
	// real geometry is known. Page 1 must always verify at this size.
	DefaultPageSize = 4096

	// salt seeds the second checksum part.
	salt = 0x5ca1ab1e
)

// Sum is one page's two-part checksum.
type Sum struct {
	Part1 uint32
	Part2 uint32
}

func (s Sum) String() string { return fmt.Sprintf("0x%08x%08x", s.Part1, s.Part2) }

// sumPage computes the checksum of data for the given page number. The page
// number and salt are folded into the hashed prefix so that identical content
// on different pages yields different sums.
func sumPage(pageNo uint32, data []byte) Sum {
	var seed [8]byte
	binary.BigEndian.PutUint32(seed[0:], pageNo)
	binary.BigEndian.PutUint32(seed[4:], salt)

	h := blake3.New()
	h.Write(seed[:])
	h.Write(data)
	d := h.Sum(nil)

	return Sum{
		Part1: binary.BigEndian.Uint32(d[0:]),
		Part2: binary.BigEndian.Uint32(d[4:]),
	}
}

// Codec calculates and then either stores or verifies page checksums. It is
// installed into the destination sink's page I/O path; geometry is unknown
// until the sink reports it through SetPageGeometry.
type Codec struct {
	pageSize int
	reserve  int
	path     string
}

// New returns a codec for the destination file at path. Page size and
// reserve size start at zero and are filled in by SetPageGeometry once the
// destination's header has been read.
func New(path string) *Codec {
	return &Codec{path: path}
}

// SetPageGeometry is the size-change hook: the sink calls it as soon as the
// authoritative page size and reserved-byte count are known.
func (c *Codec) SetPageGeometry(pageSize, reserve int) {
	c.pageSize = pageSize
	c.reserve = reserve
}

// Checksum computes and then either stores or verifies a checksum. The sum
// is read or stored in the last SumSize bytes of the page buffer. The page
// size is passed in as pageLen because the configured page size is not
// always the right one: page 1 must additionally verify at DefaultPageSize.
// In write mode the sum is written into the page and true is returned. In
// verify mode the return value reports whether the stored sum matched.
func (c *Codec) Checksum(pageNo uint32, page []byte, pageLen int, write bool) bool {
	if pageLen > len(page) || pageLen <= SumSize {
		return false
	}
	dataLen := pageLen - SumSize
	sum := sumPage(pageNo, page[:dataLen])

	trailer := page[dataLen:pageLen]
	if write {
		binary.BigEndian.PutUint32(trailer[0:], sum.Part1)
		binary.BigEndian.PutUint32(trailer[4:], sum.Part2)
		return true
	}

	stored := Sum{
		Part1: binary.BigEndian.Uint32(trailer[0:]),
		Part2: binary.BigEndian.Uint32(trailer[4:]),
	}
	return stored == sum
}

// Apply is the page I/O entry point.
//
// Page 1 is special. It contains the database configuration, including page
// size and reserve size, so the engine cannot hand the codec authoritative
// geometry before page 1 itself has been processed. Page 1 is therefore
// written and verifiable as a DefaultPageSize-sized page as well as at the
// configured page size when that is larger. For every other page the reserve
// size must be exactly the size of the checksum.
func (c *Codec) Apply(pageNo uint32, page []byte, write bool) bool {
	if pageNo == 1 {
		if write && c.pageSize > DefaultPageSize {
			c.Checksum(pageNo, page, DefaultPageSize, write)
		}
	} else {
		if c.reserve != SumSize {
			return false
		}
	}

	pageLen := c.pageSize
	if pageLen == 0 {
		pageLen = DefaultPageSize
	}
	return c.Checksum(pageNo, page, pageLen, write)
}

// fileGeometry reads the declared page size and reserve count from the
// 100-byte database header at the start of f.
func fileGeometry(f *os.File, path string) (pageSize, reserve int, err error) {
	var hdr [100]byte
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, 100), hdr[:]); err != nil {
		return 0, 0, &serrors.IOError{Operation: "read header", Path: path, Err: err}
	}
	ps := int(binary.BigEndian.Uint16(hdr[16:]))
	if ps == 1 {
		ps = 65536
	}
	if ps < 512 || ps > 65536 || ps&(ps-1) != 0 {
		return 0, 0, &serrors.CorruptionError{Page: 1, Cell: -1,
			Reason: fmt.Sprintf("implausible declared page size %d", ps)}
	}
	return ps, int(hdr[20]), nil
}

// StampFile writes checksums into every page of the database at path. The
// file's header must declare exactly SumSize reserved bytes per page;
// otherwise there is nowhere to store the sums and the file is left alone.
func StampFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return &serrors.IOError{Operation: "open", Path: path, Err: err}
	}
	defer f.Close()

	pageSize, reserve, err := fileGeometry(f, path)
	if err != nil {
		return err
	}
	if reserve != SumSize {
		return &serrors.ValidationError{Field: "reserved bytes",
			Message: fmt.Sprintf("file reserves %d trailer bytes per page, codec needs %d", reserve, SumSize)}
	}

	info, err := f.Stat()
	if err != nil {
		return &serrors.IOError{Operation: "stat", Path: path, Err: err}
	}

	c := New(path)
	c.SetPageGeometry(pageSize, reserve)

	page := make([]byte, pageSize)
	pages := uint32(info.Size() / int64(pageSize))
	for pno := uint32(1); pno <= pages; pno++ {
		off := int64(pno-1) * int64(pageSize)
		if _, err := f.ReadAt(page, off); err != nil {
			return &serrors.IOError{Operation: "read page", Path: path, Err: err}
		}
		if !c.Apply(pno, page, true) {
			return &serrors.CorruptionError{Page: pno, Cell: -1, Reason: "codec refused page"}
		}
		if _, err := f.WriteAt(page, off); err != nil {
			return &serrors.IOError{Operation: "write page", Path: path, Err: err}
		}
	}
	if err := f.Sync(); err != nil {
		return &serrors.IOError{Operation: "sync", Path: path, Err: err}
	}
	return nil
}

// Report summarizes a verification pass.
type Report struct {
	Pages    uint32   // Pages examined
	BadPages []uint32 // Pages whose stored sum did not match
}

// OK reports whether every examined page verified.
func (r *Report) OK() bool { return len(r.BadPages) == 0 }

// VerifyFile checks the checksum of every page of the database at path.
// A non-nil report with BadPages entries is not an error; the caller decides
// how to treat mismatches.
func VerifyFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &serrors.IOError{Operation: "open", Path: path, Err: err}
	}
	defer f.Close()

	pageSize, reserve, err := fileGeometry(f, path)
	if err != nil {
		return nil, err
	}
	if reserve != SumSize {
		return nil, &serrors.ValidationError{Field: "reserved bytes",
			Message: fmt.Sprintf("file reserves %d trailer bytes per page, codec needs %d", reserve, SumSize)}
	}

	info, err := f.Stat()
	if err != nil {
		return nil, &serrors.IOError{Operation: "stat", Path: path, Err: err}
	}

	c := New(path)
	c.SetPageGeometry(pageSize, reserve)

	report := &Report{}
	page := make([]byte, pageSize)
	pages := uint32(info.Size() / int64(pageSize))
	for pno := uint32(1); pno <= pages; pno++ {
		if _, err := f.ReadAt(page, int64(pno-1)*int64(pageSize)); err != nil {
			return nil, &serrors.IOError{Operation: "read page", Path: path, Err: err}
		}
		report.Pages++
		if !c.Apply(pno, page, false) {
			report.BadPages = append(report.BadPages, pno)
		}
	}
	return report, nil
}
