package snapshot

import (
	"errors"
	"fmt"

	"blackbox/pkg/pack"
)

// MaxCompactSize bounds the length of a compact record.
const MaxCompactSize = 192

var ErrCompactTruncated = errors.New("snapshot: compact record buffer too small")

// EncodeCompact writes cur as a compact record relative to prev and returns its
// length. Every field is stored as the difference from prev using the tagged
// packer formats, so a quiet aircraft costs a handful of bytes per sample. This
// is a diagnostic alternative to the delta codec; nothing on the wire uses it.
func EncodeCompact(dst []byte, prev, cur *Snapshot) (int, error) {
	p := pack.NewPacker(dst)

	p.PutUvarint(cur.Time - prev.Time)
	p.PutTag2_3S32(diff3(prev.Gyro, cur.Gyro))
	p.PutTag2_3S32(diff3(prev.Acc, cur.Acc))
	p.PutTag2_3S32(diff3(prev.Mag, cur.Mag))
	p.PutTag2_3S32(diff3(prev.Attitude, cur.Attitude))
	p.PutTag8_8SVB(diffN(prev.Motor[:], cur.Motor[:]))
	p.PutTag8_8SVB(diffN(prev.Servo[:], cur.Servo[:]))

	var rc [4]int32
	for i := range rc {
		rc[i] = int32(cur.RC[i] - prev.RC[i])
	}
	p.PutTag8_4S16(rc)

	p.PutSvarint(int32(cur.VBat) - int32(prev.VBat))
	p.PutSvarint(int32(cur.Amperage) - int32(prev.Amperage))
	p.PutSvarint(cur.Altitude - prev.Altitude)
	p.PutSvarint(cur.SonarAlt - prev.SonarAlt)
	p.PutSvarint(int32(cur.RSSI) - int32(prev.RSSI))

	if p.Truncated() {
		return 0, ErrCompactTruncated
	}
	return p.Len(), nil
}

func diff3(prev, cur [3]int16) [3]int32 {
	return [3]int32{
		int32(cur[0]) - int32(prev[0]),
		int32(cur[1]) - int32(prev[1]),
		int32(cur[2]) - int32(prev[2]),
	}
}

func diffN(prev, cur []int16) []int32 {
	out := make([]int32, len(cur))
	for i := range cur {
		out[i] = int32(cur[i]) - int32(prev[i])
	}
	return out
}

// DecodeCompact reverses EncodeCompact against the same prev and returns the
// reconstructed snapshot with the number of bytes read.
func DecodeCompact(src []byte, prev *Snapshot) (Snapshot, int, error) {
	u := pack.NewUnpacker(src)
	out, err := decodeCompact(u, prev)
	if err != nil {
		return Snapshot{}, u.Position(), fmt.Errorf("snapshot: decode compact record: %w", err)
	}
	return out, u.Position(), nil
}

func decodeCompact(u *pack.Unpacker, prev *Snapshot) (Snapshot, error) {
	out := *prev

	dt, err := u.ReadUvarint()
	if err != nil {
		return out, err
	}
	out.Time = prev.Time + dt

	for _, dst := range []*[3]int16{&out.Gyro, &out.Acc, &out.Mag, &out.Attitude} {
		d, err := u.ReadTag2_3S32()
		if err != nil {
			return out, err
		}
		for i := range dst {
			dst[i] += int16(d[i])
		}
	}

	for _, dst := range [][]int16{out.Motor[:], out.Servo[:]} {
		d, err := u.ReadTag8_8SVB(len(dst))
		if err != nil {
			return out, err
		}
		for i := range dst {
			dst[i] += int16(d[i])
		}
	}

	rc, err := u.ReadTag8_4S16()
	if err != nil {
		return out, err
	}
	for i := range out.RC {
		out.RC[i] += int16(rc[i])
	}

	var scalars [5]int32
	for i := range scalars {
		if scalars[i], err = u.ReadSvarint(); err != nil {
			return out, err
		}
	}
	out.VBat = uint16(int32(prev.VBat) + scalars[0])
	out.Amperage = int16(int32(prev.Amperage) + scalars[1])
	out.Altitude = prev.Altitude + scalars[2]
	out.SonarAlt = prev.SonarAlt + scalars[3]
	out.RSSI = uint16(int32(prev.RSSI) + scalars[4])
	return out, nil
}
