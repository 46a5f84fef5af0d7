package pack

// Selector values for PutTag2_3S32, stored in the top two bits of the lead byte.
const (
	tag2Bits2  = 0
	tag2Bits4  = 1
	tag2Bits6  = 2
	tag2Bits32 = 3
)

// Per-field byte widths used by the 32-bit fallback of PutTag2_3S32.
const (
	width1 = 0
	width2 = 1
	width3 = 2
	width4 = 3
)

// Per-field classes for PutTag8_4S16.
const (
	field4Zero  = 0
	field4Bits4 = 1
	field4Bits8 = 2
	field4Bit16 = 3
)

// MaxBlob is the largest input PutNonZeroBlob accepts.
const MaxBlob = 192

const maxBlobGroups = MaxBlob / 8

// PutTag2_3S32 packs three signed values behind a 2-bit selector that picks the
// narrowest uniform width (2, 4, 6 or 32 bits) holding all of them.
//
//	2 bits:  [sel|aa|bb|cc]
//	4 bits:  [sel|00aaaa] [bbbbcccc]
//	6 bits:  [sel|aaaaaa] [00bbbbbb] [00cccccc]
//	32 bits: [sel|cc|bb|aa] then each value in 1..4 little-endian bytes
//
// In the 32-bit case the low two bit pairs of the lead byte give the byte width
// of each field, first field lowest.
func (p *Packer) PutTag2_3S32(values [3]int32) int {
	selector := tag2Bits2
	for _, v := range values {
		switch {
		case v >= 32 || v < -32:
			selector = tag2Bits32
		case v >= 8 || v < -8:
			selector = max(selector, tag2Bits6)
		case v >= 2 || v < -2:
			selector = max(selector, tag2Bits4)
		}
	}

	switch selector {
	case tag2Bits2:
		return p.PutByte(byte(selector<<6) |
			byte(values[0]&0x03)<<4 |
			byte(values[1]&0x03)<<2 |
			byte(values[2]&0x03))
	case tag2Bits4:
		return p.PutByte(byte(selector<<6)|byte(values[0]&0x0F)) +
			p.PutByte(byte(values[1]&0x0F)<<4|byte(values[2]&0x0F))
	case tag2Bits6:
		return p.PutByte(byte(selector<<6)|byte(values[0]&0x3F)) +
			p.PutByte(byte(values[1]&0x3F)) +
			p.PutByte(byte(values[2]&0x3F))
	}

	var widths byte
	for i := len(values) - 1; i >= 0; i-- {
		widths <<= 2
		widths |= byteWidth(values[i])
	}

	n := p.PutByte(byte(selector<<6) | widths)
	for _, v := range values {
		switch widths & 0x03 {
		case width1:
			n += p.PutByte(byte(v))
		case width2:
			n += p.PutU16(uint16(v))
		case width3:
			n += p.PutByte(byte(v)) + p.PutByte(byte(v>>8)) + p.PutByte(byte(v>>16))
		case width4:
			n += p.PutU32(uint32(v))
		}
		widths >>= 2
	}
	return n
}

func byteWidth(v int32) byte {
	switch {
	case v >= -128 && v < 128:
		return width1
	case v >= -32768 && v < 32768:
		return width2
	case v >= -8388608 && v < 8388608:
		return width3
	default:
		return width4
	}
}

// PutTag8_4S16 packs four signed 16-bit values. A lead byte carries two selector
// bits per field (first field lowest) classifying it as zero (omitted), 4, 8 or
// 16 bits. The surviving values follow back to back, high nibble first, so two
// 4-bit fields share a byte and wider fields may straddle a nibble boundary.
func (p *Packer) PutTag8_4S16(values [4]int32) int {
	var selector byte
	for i := len(values) - 1; i >= 0; i-- {
		selector <<= 2
		v := values[i]
		switch {
		case v == 0:
			selector |= field4Zero
		case v >= -8 && v < 8:
			selector |= field4Bits4
		case v >= -128 && v < 128:
			selector |= field4Bits8
		default:
			selector |= field4Bit16
		}
	}

	n := p.PutByte(selector)
	var pending byte
	half := false
	for _, v := range values {
		switch selector & 0x03 {
		case field4Bits4:
			if half {
				n += p.PutByte(pending | byte(v&0x0F))
				half = false
			} else {
				pending = byte(v << 4)
				half = true
			}
		case field4Bits8:
			if half {
				n += p.PutByte(pending | byte((v>>4)&0x0F))
				pending = byte(v << 4)
			} else {
				n += p.PutByte(byte(v))
			}
		case field4Bit16:
			if half {
				n += p.PutByte(pending | byte((v>>12)&0x0F))
				n += p.PutByte(byte(v >> 4))
				pending = byte(v << 4)
			} else {
				n += p.PutByte(byte(v >> 8))
				n += p.PutByte(byte(v))
			}
		}
		selector >>= 2
	}
	if half {
		n += p.PutByte(pending)
	}
	return n
}

// PutTag8_8SVB packs up to eight signed values. A single value is written as a
// bare zigzag varint. Otherwise a header byte marks the nonzero fields (first
// field in the low bit) and only those follow, each as a zigzag varint. Values
// past the eighth are ignored.
func (p *Packer) PutTag8_8SVB(values []int32) int {
	if len(values) > 8 {
		values = values[:8]
	}
	switch len(values) {
	case 0:
		return 0
	case 1:
		return p.PutSvarint(values[0])
	}

	var header byte
	for i, v := range values {
		if v != 0 {
			header |= 1 << i
		}
	}
	n := p.PutByte(header)
	for _, v := range values {
		if v != 0 {
			n += p.PutSvarint(v)
		}
	}
	return n
}

// PutNonZeroBytes packs up to eight raw bytes as a bitmap of the nonzero ones
// followed by those bytes. Bytes past the eighth are ignored.
func (p *Packer) PutNonZeroBytes(b []byte) int {
	if len(b) > 8 {
		b = b[:8]
	}
	var header byte
	for i, v := range b {
		if v != 0 {
			header |= 1 << i
		}
	}
	n := p.PutByte(header)
	for _, v := range b {
		if v != 0 {
			n += p.PutByte(v)
		}
	}
	return n
}

// PutNonZeroBlob packs b as consecutive 8-byte groups, each wrapped like
// PutNonZeroBytes. The blob is first compacted into bounded scratch space and is
// then copied whole or not at all: inputs over MaxBlob bytes, or compacted blobs
// that do not fit the remaining capacity, write nothing and return 0.
func (p *Packer) PutNonZeroBlob(b []byte) int {
	if len(b) > MaxBlob {
		p.truncated = true
		return 0
	}

	var scratch [maxBlobGroups * 9]byte
	sp := NewPacker(scratch[:])
	for off := 0; off < len(b); off += 8 {
		sp.PutNonZeroBytes(b[off:min(off+8, len(b))])
	}

	if sp.Len() > p.Remaining() {
		p.truncated = true
		return 0
	}
	return p.PutBytes(sp.Bytes())
}
