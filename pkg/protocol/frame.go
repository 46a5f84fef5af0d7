package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Reserved bytes. A frame body never contains a literal Delimiter or Escape:
// both are sent as Escape followed by the original byte XOR EscapeMask.
const (
	Delimiter  byte = 0x7E
	Escape     byte = 0x7D
	EscapeMask byte = 0x20
)

const (
	// MaxPayload is the largest payload a frame carries.
	MaxPayload = 512

	// CheckSize is the size of the trailing frame check.
	CheckSize = 2

	// MaxFrameSize bounds the wire size of any frame: every body byte escaped,
	// plus the delimiter.
	MaxFrameSize = 2*(MaxPayload+CheckSize) + 1
)

var (
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrTruncated       = errors.New("protocol: frame buffer too small")
	ErrNoDelimiter     = errors.New("protocol: no frame delimiter")
	ErrCorruptFrame    = errors.New("protocol: corrupt frame")
	ErrBadEscape       = errors.New("protocol: bad escape sequence")
	ErrShortFrame      = errors.New("protocol: frame shorter than check")
	ErrChecksum        = errors.New("protocol: check mismatch")
)

// EncodedLen returns the number of bytes Pack writes for payload.
func EncodedLen(payload []byte) int {
	var check [CheckSize]byte
	binary.LittleEndian.PutUint16(check[:], Checksum(payload))
	return stuffedLen(payload) + stuffedLen(check[:]) + 1
}

func stuffedLen(b []byte) int {
	n := len(b)
	for _, c := range b {
		if c == Delimiter || c == Escape {
			n++
		}
	}
	return n
}

// Pack frames payload into dst and returns the frame length. The frame is the
// stuffed payload and little-endian check followed by a single delimiter, which
// also serves as the start of whatever frame follows. Nothing is written on
// error.
func Pack(dst, payload []byte) (int, error) {
	if len(payload) > MaxPayload {
		return 0, ErrPayloadTooLarge
	}
	var check [CheckSize]byte
	binary.LittleEndian.PutUint16(check[:], Checksum(payload))

	size := stuffedLen(payload) + stuffedLen(check[:]) + 1
	if size > len(dst) {
		return 0, ErrTruncated
	}

	n := stuff(dst, payload)
	n += stuff(dst[n:], check[:])
	dst[n] = Delimiter
	return n + 1, nil
}

// AppendFrame appends the frame for payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, ErrPayloadTooLarge
	}
	start := len(dst)
	dst = append(dst, make([]byte, EncodedLen(payload))...)
	n, err := Pack(dst[start:], payload)
	if err != nil {
		return dst[:start], err
	}
	return dst[:start+n], nil
}

func stuff(dst, src []byte) int {
	n := 0
	for _, c := range src {
		if c == Delimiter || c == Escape {
			dst[n] = Escape
			dst[n+1] = c ^ EscapeMask
			n += 2
			continue
		}
		dst[n] = c
		n++
	}
	return n
}

// Parse extracts the first frame from buf. consumed counts every byte through
// the delimiter that ends the frame, whether or not the frame was valid, so a
// stream cursor can always move forward. consumed is 0 only when buf holds no
// delimiter yet (ErrNoDelimiter). Invalid frames return an error wrapping
// ErrCorruptFrame. The payload does not alias buf.
func Parse(buf []byte) (payload []byte, consumed int, err error) {
	end := bytes.IndexByte(buf, Delimiter)
	if end < 0 {
		return nil, 0, ErrNoDelimiter
	}
	consumed = end + 1

	body, err := unstuff(buf[:end])
	if err != nil {
		return nil, consumed, fmt.Errorf("%w: %w", ErrCorruptFrame, err)
	}
	if len(body) < CheckSize {
		return nil, consumed, fmt.Errorf("%w: %w", ErrCorruptFrame, ErrShortFrame)
	}
	if len(body)-CheckSize > MaxPayload {
		return nil, consumed, fmt.Errorf("%w: %w", ErrCorruptFrame, ErrPayloadTooLarge)
	}

	payload = body[:len(body)-CheckSize]
	want := binary.LittleEndian.Uint16(body[len(body)-CheckSize:])
	if got := Checksum(payload); got != want {
		return nil, consumed, fmt.Errorf("%w: %w (got 0x%04x want 0x%04x)", ErrCorruptFrame, ErrChecksum, got, want)
	}
	return payload, consumed, nil
}

type scanState uint8

const (
	scanLiteral scanState = iota
	scanEscaped
	scanInvalid
)

// step advances the unstuffing scanner by one input byte. It returns the next
// state and, when emit is true, the decoded byte.
func (st scanState) step(c byte) (next scanState, out byte, emit bool) {
	switch st {
	case scanLiteral:
		if c == Escape {
			return scanEscaped, 0, false
		}
		return scanLiteral, c, true
	case scanEscaped:
		c ^= EscapeMask
		if c != Delimiter && c != Escape {
			return scanInvalid, 0, false
		}
		return scanLiteral, c, true
	default:
		return scanInvalid, 0, false
	}
}

func unstuff(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	st := scanLiteral
	for _, c := range src {
		var b byte
		var emit bool
		st, b, emit = st.step(c)
		if st == scanInvalid {
			return nil, ErrBadEscape
		}
		if emit {
			out = append(out, b)
		}
	}
	if st != scanLiteral {
		// Dangling escape before the delimiter.
		return nil, ErrBadEscape
	}
	return out, nil
}

// Frames calls fn for every frame in buf in order and returns the number of
// bytes consumed. It stops at the first invalid frame and returns its error; the
// rest of buf is not scanned. A trailing partial frame is left unconsumed and is
// not an error.
func Frames(buf []byte, fn func(payload []byte) error) (int, error) {
	total := 0
	for total < len(buf) {
		payload, n, err := Parse(buf[total:])
		if n == 0 {
			return total, nil
		}
		total += n
		if err != nil {
			return total, err
		}
		if err := fn(payload); err != nil {
			return total, err
		}
	}
	return total, nil
}
