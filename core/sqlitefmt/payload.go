package sqlitefmt

import (
	"encoding/binary"
	"fmt"
)

// Payload is the reconstructed byte content of one index cell's key. Index
// b-tree cells carry only a key, no separate value. A payload whose declared
// size is inconsistent with the bytes actually available on the page or its
// overflow chain is marked invalid and carries no data.
type Payload struct {
	Size   uint64 // Declared total payload length, including overflow
	Data   []byte // The assembled key bytes, exactly Size long when Valid
	Valid  bool
	Reason string // Why the payload was rejected, when !Valid
}

func invalidPayload(size uint64, format string, args ...any) Payload {
	return Payload{Size: size, Reason: fmt.Sprintf(format, args...)}
}

// MaxLocal returns the largest payload that is always stored entirely on the
// originating page for the given usable page size.
func MaxLocal(usable int) int {
	return (usable-12)*64/255 - 23
}

// MinLocal returns the smallest number of payload bytes kept on the
// originating page when a payload spills to overflow pages.
func MinLocal(usable int) int {
	return (usable-12)*32/255 - 23
}

// CalculateEmbedPayloadSize returns how many bytes of a spilling payload stay
// on the originating page. This is the engine's local/overflow threshold
// formula and must be reproduced exactly for byte-accurate compatibility:
// the surplus term keeps room for at least 4 sibling cells per page while
// minimizing overflow-chain length. Callers only invoke it when
// payloadSize > MaxLocal(usable).
func CalculateEmbedPayloadSize(payloadSize uint64, usable int) int {
	minLocal := uint64(MinLocal(usable))
	maxLocal := uint64(MaxLocal(usable))
	surplus := minLocal + (payloadSize-minLocal)%uint64(usable-4)
	if surplus <= maxLocal {
		return int(surplus)
	}
	return int(minLocal)
}

// PayloadReader reconstructs cell payloads, following overflow chains across
// the mapped file when a key does not fit on its originating page.
type PayloadReader struct {
	m *Map

	// MaxDeclaredSize, when non-zero, rejects any payload whose declared
	// size exceeds it before any chain following is attempted. Zero means
	// no limit.
	MaxDeclaredSize uint64
}

// NewPayloadReader returns a reader over the given source map.
func NewPayloadReader(m *Map) *PayloadReader {
	return &PayloadReader{m: m}
}

// Read reconstructs the payload of the cell at cellOffset on page v.
// Interior index cells carry a 4-byte left-child pointer before the payload
// header; leaf cells do not. The returned payload is independently owned and
// remains usable after the view goes away.
func (r *PayloadReader) Read(v *View, h *PageHeader, cellOffset uint16) Payload {
	page := v.Data()
	pos := int(cellOffset)

	if h.IsInterior() {
		// Skip the left-child page pointer
		pos += 4
	}
	if pos >= len(page) {
		return invalidPayload(0, "cell offset %d outside page", cellOffset)
	}

	size, n := GetVarint(page[pos:])
	if n == 0 {
		return invalidPayload(0, "truncated payload size varint at offset %d", pos)
	}
	pos += n

	if r.MaxDeclaredSize > 0 && size > r.MaxDeclaredSize {
		return invalidPayload(size, "declared size %d exceeds limit %d", size, r.MaxDeclaredSize)
	}
	if size == 0 {
		return Payload{Size: 0, Data: nil, Valid: true}
	}

	usable := r.m.UsableSize()
	maxLocal := uint64(MaxLocal(usable))

	if size <= maxLocal {
		// Entire payload is inline
		if pos+int(size) > len(page) {
			return invalidPayload(size, "inline payload of %d bytes overruns page", size)
		}
		buf := make([]byte, size)
		copy(buf, page[pos:pos+int(size)])
		return Payload{Size: size, Data: buf, Valid: true}
	}

	// Payload spills: local prefix, then a 4-byte overflow page pointer
	local := CalculateEmbedPayloadSize(size, usable)
	if pos+local+4 > len(page) {
		return invalidPayload(size, "local payload of %d bytes overruns page", local)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, page[pos:pos+local]...)
	next := binary.BigEndian.Uint32(page[pos+local:])

	return r.followOverflow(buf, size, next)
}

// followOverflow appends overflow-chain content to buf until the declared
// size is reached. Each overflow page holds a 4-byte big-endian next-page
// number (0 = terminal) followed by up to usable-4 continuation bytes.
// Iteration is bounded by the computed remaining byte count, never by the
// chain pointers alone, so a cyclic or runaway chain is reported as a
// corrupt payload instead of looping forever.
func (r *PayloadReader) followOverflow(buf []byte, size uint64, next uint32) Payload {
	perPage := uint64(r.m.UsableSize() - 4)
	remaining := size - uint64(len(buf))

	// ceil(remaining/perPage) pages are expected; one extra hop of slack
	maxHops := int(remaining/perPage) + 2

	for hops := 0; remaining > 0; hops++ {
		if hops >= maxHops {
			return invalidPayload(size, "overflow chain exceeds %d hops", maxHops)
		}
		if next == 0 {
			return invalidPayload(size, "overflow chain ends %d bytes short", remaining)
		}
		ov, err := r.m.Page(next)
		if err != nil {
			return invalidPayload(size, "overflow page %d outside file", next)
		}

		data := ov.Data()
		take := perPage
		if take > remaining {
			take = remaining
		}
		buf = append(buf, data[4:4+take]...)
		remaining -= take
		next = binary.BigEndian.Uint32(data[0:4])
	}

	// The terminal overflow page carries a zero next pointer. A chain that
	// still points onward after supplying the declared bytes is cyclic or
	// spliced into unrelated pages.
	if next != 0 {
		return invalidPayload(size, "overflow chain does not terminate (next=%d)", next)
	}

	return Payload{Size: size, Data: buf, Valid: true}
}
