package sqlitefmt

// Variable-length integer encoding/decoding (SQLite format)
// Based on SQLite's varint implementation

// PutVarint writes a 64-bit unsigned integer to p and returns the number of bytes written.
// The integer is encoded as a variable-length integer using SQLite's encoding:
// - Lower 7 bits of each byte are used for data
// - High bit (0x80) set on all bytes except the last
// - Most significant byte first (big-endian)
// - Maximum of 9 bytes (last byte uses all 8 bits)
func PutVarint(p []byte, v uint64) int {
	if v <= 0x7f {
		p[0] = byte(v)
		return 1
	}
	if v <= 0x3fff {
		p[0] = byte((v>>7)&0x7f) | 0x80
		p[1] = byte(v & 0x7f)
		return 2
	}

	if v&(uint64(0xff000000)<<32) != 0 {
		// 9-byte case: all 8 bits of the 9th byte are used
		p[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			p[i] = byte(v&0x7f) | 0x80
			v >>= 7
		}
		return 9
	}

	// Count the 7-bit groups, then emit most significant first
	n := 1
	for tmp := v >> 7; tmp > 0; tmp >>= 7 {
		n++
	}
	for i := n - 1; i >= 0; i-- {
		b := byte((v >> uint(i*7)) & 0x7f)
		if i > 0 {
			b |= 0x80
		}
		p[n-1-i] = b
	}
	return n
}

// GetVarint reads a 64-bit variable-length integer from p and returns the
// value and the number of bytes consumed (1-9). A return count of 0 means the
// slice was too short to hold the encoding.
func GetVarint(p []byte) (uint64, int) {
	if len(p) == 0 {
		return 0, 0
	}
	// Fast path for 1-byte case
	if p[0] < 0x80 {
		return uint64(p[0]), 1
	}
	// Fast path for 2-byte case
	if len(p) > 1 && p[1] < 0x80 {
		return (uint64(p[0]&0x7f) << 7) | uint64(p[1]), 2
	}

	var v uint64
	for i := 0; i < 8; i++ {
		if i >= len(p) {
			return 0, 0
		}
		v = (v << 7) | uint64(p[i]&0x7f)
		if p[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	// 9th byte contributes all 8 bits
	if len(p) < 9 {
		return 0, 0
	}
	v = (v << 8) | uint64(p[8])
	return v, 9
}

// VarintLen returns the number of bytes required to encode v as a varint
func VarintLen(v uint64) int {
	n := 1
	for v >>= 7; v > 0; v >>= 7 {
		n++
	}
	if n > 9 {
		n = 9
	}
	return n
}
