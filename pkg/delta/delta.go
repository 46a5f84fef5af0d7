// Package delta implements the recursive block diff used to compress successive
// snapshots of fixed-size records.
//
// A buffer of up to MaxSize bytes is covered by three levels of header bytes:
//
//	root   one header, bit i set when top block i (64 bytes) changed
//	block  one header per dirty top block, bit i set when sub-block i (8 bytes) changed
//	leaf   one header per dirty sub-block, bit i set when byte i changed,
//	       followed by the new value of every changed byte
//
// Clean blocks cost nothing beyond their clear bit in the parent header. A buffer
// that did not change at all encodes to zero bytes.
package delta

import "errors"

// MaxSize is the largest buffer the three-level geometry can address (8*8*8).
const MaxSize = 512

// maxEncodedLen is MaxEncodedLen(MaxSize).
const maxEncodedLen = 1 + MaxSize/64 + MaxSize/8 + MaxSize

// blockSizes is the child size at each level of the recursion.
var blockSizes = [...]int{64, 8, 1}

var (
	ErrTruncated    = errors.New("delta: output buffer too small")
	ErrSizeMismatch = errors.New("delta: previous and current sizes differ")
	ErrTooLarge     = errors.New("delta: buffer exceeds 512 bytes")
	ErrCorrupt      = errors.New("delta: malformed delta")
)

// MaxEncodedLen returns the worst-case encoded size of a size-byte buffer: every
// header at every level plus every byte.
func MaxEncodedLen(size int) int {
	if size <= 0 {
		return 0
	}
	leaves := (size + 7) / 8
	blocks := (size + 63) / 64
	return 1 + blocks + leaves + size
}

// Encode writes the difference between prev and cur into dst and returns the
// number of bytes written. Zero means the buffers are identical. Nothing is
// written to dst when it returns ErrTruncated.
func Encode(dst, prev, cur []byte) (int, error) {
	if len(prev) != len(cur) {
		return 0, ErrSizeMismatch
	}
	if len(cur) > MaxSize {
		return 0, ErrTooLarge
	}
	if len(cur) == 0 {
		return 0, nil
	}

	// Headers of clean blocks are written and then rewound, so the encode runs in
	// a worst-case scratch buffer and is copied out once the final size is known.
	var scratch [maxEncodedLen]byte
	e := encoder{dst: scratch[:], prev: prev, cur: cur}
	if _, err := e.block(0, 0, len(cur)); err != nil {
		return 0, err
	}
	if e.pos > len(dst) {
		return 0, ErrTruncated
	}
	return copy(dst, scratch[:e.pos]), nil
}

type encoder struct {
	dst  []byte
	prev []byte
	cur  []byte
	pos  int
}

func (e *encoder) put(b byte) error {
	if e.pos >= len(e.dst) {
		return ErrTruncated
	}
	e.dst[e.pos] = b
	e.pos++
	return nil
}

// block encodes cur[off:off+n] at the given level. It reports whether anything
// was written; a clean block rewinds over its own header.
func (e *encoder) block(level, off, n int) (bool, error) {
	child := blockSizes[level]
	start := e.pos
	if err := e.put(0); err != nil {
		return false, err
	}

	var header byte
	for i := 0; i*child < n; i++ {
		childOff := off + i*child
		if child == 1 {
			if e.prev[childOff] == e.cur[childOff] {
				continue
			}
			if err := e.put(e.cur[childOff]); err != nil {
				return false, err
			}
			header |= 1 << i
			continue
		}

		childLen := min(child, n-i*child)
		dirty, err := e.block(level+1, childOff, childLen)
		if err != nil {
			return false, err
		}
		if dirty {
			header |= 1 << i
		}
	}

	if header == 0 {
		e.pos = start
		return false, nil
	}
	e.dst[start] = header
	return true, nil
}

// Decode applies delta on top of dst, overwriting only the bytes the delta marks
// as changed, and returns the number of delta bytes consumed. dst must already
// hold the state the delta was computed against. On ErrCorrupt dst may have been
// partially written.
func Decode(dst, delta []byte) (int, error) {
	if len(delta) == 0 {
		return 0, nil
	}
	if len(dst) > MaxSize {
		return 0, ErrTooLarge
	}

	d := decoder{dst: dst, src: delta}
	if err := d.block(0, 0, len(dst)); err != nil {
		return 0, err
	}
	return d.pos, nil
}

type decoder struct {
	dst []byte
	src []byte
	pos int
}

func (d *decoder) next() (byte, error) {
	if d.pos >= len(d.src) {
		return 0, ErrCorrupt
	}
	b := d.src[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) block(level, off, n int) error {
	header, err := d.next()
	if err != nil {
		return err
	}
	if header == 0 {
		// Encoders never emit an empty header.
		return ErrCorrupt
	}

	child := blockSizes[level]
	for i := 0; i < 8; i++ {
		if header&(1<<i) == 0 {
			continue
		}
		if i*child >= n {
			return ErrCorrupt
		}
		childOff := off + i*child
		if child == 1 {
			b, err := d.next()
			if err != nil {
				return err
			}
			d.dst[childOff] = b
			continue
		}
		if err := d.block(level+1, childOff, min(child, n-i*child)); err != nil {
			return err
		}
	}
	return nil
}
