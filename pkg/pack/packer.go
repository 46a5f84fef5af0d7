// Package pack provides cursor-based binary packing primitives over a
// caller-owned, fixed-capacity buffer: varints, zigzag, little-endian fixed
// width values and the tagged multi-field selector encodings used for compact
// telemetry records.
package pack

import "math"

// Packer writes into a fixed buffer. Writes past the end of the buffer are
// silently dropped; every Put method returns how many bytes it actually wrote, so
// callers detect truncation by comparing the sum against what they expected or
// by checking Truncated.
type Packer struct {
	buf       []byte
	pos       int
	truncated bool
}

// NewPacker creates a packer over buf. The full length of buf is the capacity.
func NewPacker(buf []byte) *Packer {
	return &Packer{buf: buf}
}

// Reset rewinds the cursor to the start of the buffer.
func (p *Packer) Reset() {
	p.pos = 0
	p.truncated = false
}

// Bytes returns the packed bytes. The slice aliases the caller's buffer.
func (p *Packer) Bytes() []byte {
	return p.buf[:p.pos]
}

// Len returns the number of bytes packed so far.
func (p *Packer) Len() int {
	return p.pos
}

// Remaining returns the free capacity.
func (p *Packer) Remaining() int {
	return len(p.buf) - p.pos
}

// Full reports whether the buffer has no free capacity left.
func (p *Packer) Full() bool {
	return p.pos >= len(p.buf)
}

// Truncated reports whether any write was dropped since the last Reset.
func (p *Packer) Truncated() bool {
	return p.truncated
}

// PutByte appends a single byte.
func (p *Packer) PutByte(b byte) int {
	if p.pos >= len(p.buf) {
		p.truncated = true
		return 0
	}
	p.buf[p.pos] = b
	p.pos++
	return 1
}

// PutBytes appends as much of b as fits.
func (p *Packer) PutBytes(b []byte) int {
	n := copy(p.buf[p.pos:], b)
	p.pos += n
	if n < len(b) {
		p.truncated = true
	}
	return n
}

// PutUvarint appends v 7 bits at a time, least significant group first, with
// the high bit marking continuation.
func (p *Packer) PutUvarint(v uint32) int {
	n := 0
	for v >= 0x80 {
		n += p.PutByte(byte(v) | 0x80)
		v >>= 7
	}
	return n + p.PutByte(byte(v))
}

// PutSvarint appends v zigzag encoded so small negative values stay short.
func (p *Packer) PutSvarint(v int32) int {
	return p.PutUvarint(ZigZag(v))
}

// PutU16 appends v in little-endian byte order.
func (p *Packer) PutU16(v uint16) int {
	return p.PutByte(byte(v)) + p.PutByte(byte(v>>8))
}

// PutU32 appends v in little-endian byte order.
func (p *Packer) PutU32(v uint32) int {
	return p.PutByte(byte(v)) +
		p.PutByte(byte(v>>8)) +
		p.PutByte(byte(v>>16)) +
		p.PutByte(byte(v>>24))
}

// PutFloat32 appends the raw IEEE-754 bits of v, little-endian.
func (p *Packer) PutFloat32(v float32) int {
	return p.PutU32(math.Float32bits(v))
}

// ZigZag maps signed to unsigned integers: 0->0, -1->1, 1->2, -2->3, ...
func ZigZag(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

// UnZigZag reverses ZigZag.
func UnZigZag(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}

// UvarintLen returns the number of bytes PutUvarint writes for v.
func UvarintLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}
