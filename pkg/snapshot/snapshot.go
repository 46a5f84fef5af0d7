// Package snapshot defines the fixed-layout flight state sample recorded by the
// black box.
package snapshot

import (
	"errors"
	"fmt"

	"blackbox/pkg/pack"
)

// Size is the wire size of a Snapshot.
const Size = 82

// ErrSize is returned when a buffer is not exactly Size bytes long.
var ErrSize = errors.New("snapshot: wrong buffer size")

// Snapshot is one sample of flight state. Its wire form is the fields below in
// declaration order, little-endian, with no padding.
type Snapshot struct {
	Time     uint32   // microseconds since boot
	Gyro     [3]int16 // x, y, z
	Acc      [3]int16 // x, y, z
	Mag      [3]int16 // x, y, z
	Attitude [3]int16 // roll, pitch, yaw in decidegrees
	Motor    [8]int16
	Servo    [8]int16
	RC       [4]int16 // roll, pitch, yaw, throttle
	VBat     uint16   // 0.01 V
	Amperage int16    // 0.01 A
	Altitude int32    // cm
	SonarAlt int32    // cm
	RSSI     uint16
}

// MarshalTo writes the wire form of s into dst, which must hold at least Size
// bytes.
func (s *Snapshot) MarshalTo(dst []byte) error {
	if len(dst) < Size {
		return fmt.Errorf("%w: have %d need %d", ErrSize, len(dst), Size)
	}
	p := pack.NewPacker(dst[:Size])
	p.PutU32(s.Time)
	putInt16s(p, s.Gyro[:])
	putInt16s(p, s.Acc[:])
	putInt16s(p, s.Mag[:])
	putInt16s(p, s.Attitude[:])
	putInt16s(p, s.Motor[:])
	putInt16s(p, s.Servo[:])
	putInt16s(p, s.RC[:])
	p.PutU16(s.VBat)
	p.PutU16(uint16(s.Amperage))
	p.PutU32(uint32(s.Altitude))
	p.PutU32(uint32(s.SonarAlt))
	p.PutU16(s.RSSI)
	return nil
}

// Bytes returns the wire form of s.
func (s *Snapshot) Bytes() [Size]byte {
	var out [Size]byte
	_ = s.MarshalTo(out[:])
	return out
}

func putInt16s(p *pack.Packer, values []int16) {
	for _, v := range values {
		p.PutU16(uint16(v))
	}
}

// Unmarshal fills s from a Size byte wire form.
func (s *Snapshot) Unmarshal(src []byte) error {
	if len(src) != Size {
		return fmt.Errorf("%w: have %d want %d", ErrSize, len(src), Size)
	}
	u := pack.NewUnpacker(src)
	// Lengths were checked above, so reads cannot fail.
	s.Time, _ = u.ReadU32()
	readInt16s(u, s.Gyro[:])
	readInt16s(u, s.Acc[:])
	readInt16s(u, s.Mag[:])
	readInt16s(u, s.Attitude[:])
	readInt16s(u, s.Motor[:])
	readInt16s(u, s.Servo[:])
	readInt16s(u, s.RC[:])
	s.VBat, _ = u.ReadU16()
	amp, _ := u.ReadU16()
	s.Amperage = int16(amp)
	alt, _ := u.ReadU32()
	s.Altitude = int32(alt)
	sonar, _ := u.ReadU32()
	s.SonarAlt = int32(sonar)
	s.RSSI, _ = u.ReadU16()
	return nil
}

func readInt16s(u *pack.Unpacker, out []int16) {
	for i := range out {
		v, _ := u.ReadU16()
		out[i] = int16(v)
	}
}

// FromBytes decodes a Size byte wire form.
func FromBytes(src []byte) (Snapshot, error) {
	var s Snapshot
	err := s.Unmarshal(src)
	return s, err
}
