package pack

import (
	"errors"
	"math"
)

var (
	ErrShortBuffer    = errors.New("pack: buffer too short")
	ErrVarintOverflow = errors.New("pack: varint overflow")
)

// maxVarintLen32 is the longest varint a uint32 can produce.
const maxVarintLen32 = 5

// Unpacker reads values written by a Packer from a byte slice.
type Unpacker struct {
	buf []byte
	pos int
}

// NewUnpacker creates an unpacker reading from buf.
func NewUnpacker(buf []byte) *Unpacker {
	return &Unpacker{buf: buf}
}

// Position returns the current read offset.
func (u *Unpacker) Position() int {
	return u.pos
}

// Remaining returns the number of unread bytes.
func (u *Unpacker) Remaining() int {
	return len(u.buf) - u.pos
}

// ReadByte reads a single byte.
func (u *Unpacker) ReadByte() (byte, error) {
	if u.pos >= len(u.buf) {
		return 0, ErrShortBuffer
	}
	b := u.buf[u.pos]
	u.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes. The result aliases the underlying buffer.
func (u *Unpacker) ReadBytes(n int) ([]byte, error) {
	if n < 0 || u.pos+n > len(u.buf) {
		return nil, ErrShortBuffer
	}
	b := u.buf[u.pos : u.pos+n]
	u.pos += n
	return b, nil
}

// ReadUvarint reads an unsigned varint. The fifth byte holds the top four bits
// of a uint32; anything more is ErrVarintOverflow.
func (u *Unpacker) ReadUvarint() (uint32, error) {
	var v uint32
	for i := 0; i < maxVarintLen32; i++ {
		b, err := u.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == maxVarintLen32-1 && b > 0x0F {
			return 0, ErrVarintOverflow
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b < 0x80 {
			return v, nil
		}
	}
	return 0, ErrVarintOverflow
}

// ReadSvarint reads a zigzag encoded varint.
func (u *Unpacker) ReadSvarint() (int32, error) {
	v, err := u.ReadUvarint()
	if err != nil {
		return 0, err
	}
	return UnZigZag(v), nil
}

// ReadU16 reads a little-endian uint16.
func (u *Unpacker) ReadU16() (uint16, error) {
	b, err := u.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// ReadU32 reads a little-endian uint32.
func (u *Unpacker) ReadU32() (uint32, error) {
	b, err := u.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// ReadFloat32 reads a little-endian IEEE-754 float.
func (u *Unpacker) ReadFloat32() (float32, error) {
	v, err := u.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadTag2_3S32 reads three values written by PutTag2_3S32.
func (u *Unpacker) ReadTag2_3S32() ([3]int32, error) {
	var out [3]int32
	lead, err := u.ReadByte()
	if err != nil {
		return out, err
	}

	switch lead >> 6 {
	case tag2Bits2:
		out[0] = signExtend(uint32(lead>>4), 2)
		out[1] = signExtend(uint32(lead>>2), 2)
		out[2] = signExtend(uint32(lead), 2)
	case tag2Bits4:
		b, err := u.ReadByte()
		if err != nil {
			return out, err
		}
		out[0] = signExtend(uint32(lead), 4)
		out[1] = signExtend(uint32(b>>4), 4)
		out[2] = signExtend(uint32(b), 4)
	case tag2Bits6:
		b, err := u.ReadBytes(2)
		if err != nil {
			return out, err
		}
		out[0] = signExtend(uint32(lead), 6)
		out[1] = signExtend(uint32(b[0]), 6)
		out[2] = signExtend(uint32(b[1]), 6)
	case tag2Bits32:
		widths := lead
		for i := range out {
			n := int(widths&0x03) + 1
			b, err := u.ReadBytes(n)
			if err != nil {
				return out, err
			}
			var v uint32
			for j := n - 1; j >= 0; j-- {
				v = v<<8 | uint32(b[j])
			}
			out[i] = signExtend(v, uint(8*n))
			widths >>= 2
		}
	}
	return out, nil
}

// ReadTag8_4S16 reads four values written by PutTag8_4S16.
func (u *Unpacker) ReadTag8_4S16() ([4]int32, error) {
	var out [4]int32
	selector, err := u.ReadByte()
	if err != nil {
		return out, err
	}

	var current byte
	half := false
	nibble := func() (uint32, error) {
		if half {
			half = false
			return uint32(current & 0x0F), nil
		}
		b, err := u.ReadByte()
		if err != nil {
			return 0, err
		}
		current = b
		half = true
		return uint32(b >> 4), nil
	}

	for i := range out {
		bits := 0
		switch selector & 0x03 {
		case field4Bits4:
			bits = 4
		case field4Bits8:
			bits = 8
		case field4Bit16:
			bits = 16
		}
		selector >>= 2

		var v uint32
		for k := 0; k < bits/4; k++ {
			n, err := nibble()
			if err != nil {
				return out, err
			}
			v = v<<4 | n
		}
		if bits > 0 {
			out[i] = signExtend(v, uint(bits))
		}
	}
	return out, nil
}

// ReadTag8_8SVB reads count values written by PutTag8_8SVB.
func (u *Unpacker) ReadTag8_8SVB(count int) ([]int32, error) {
	count = min(max(count, 0), 8)
	out := make([]int32, count)
	switch count {
	case 0:
		return out, nil
	case 1:
		v, err := u.ReadSvarint()
		if err != nil {
			return nil, err
		}
		out[0] = v
		return out, nil
	}

	header, err := u.ReadByte()
	if err != nil {
		return nil, err
	}
	for i := range out {
		if header&(1<<i) == 0 {
			continue
		}
		v, err := u.ReadSvarint()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadNonZeroBytes reads count bytes written by PutNonZeroBytes.
func (u *Unpacker) ReadNonZeroBytes(count int) ([]byte, error) {
	out := make([]byte, min(max(count, 0), 8))
	if err := u.readNonZeroInto(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadNonZeroBlob reads a count byte blob written by PutNonZeroBlob.
func (u *Unpacker) ReadNonZeroBlob(count int) ([]byte, error) {
	if count < 0 || count > MaxBlob {
		return nil, ErrShortBuffer
	}
	out := make([]byte, count)
	for off := 0; off < count; off += 8 {
		if err := u.readNonZeroInto(out[off:min(off+8, count)]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (u *Unpacker) readNonZeroInto(out []byte) error {
	header, err := u.ReadByte()
	if err != nil {
		return err
	}
	for i := range out {
		if header&(1<<i) == 0 {
			continue
		}
		b, err := u.ReadByte()
		if err != nil {
			return err
		}
		out[i] = b
	}
	return nil
}

// signExtend interprets the low bits of v as a two's complement number.
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
