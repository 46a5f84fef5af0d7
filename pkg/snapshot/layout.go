package snapshot

import (
	"encoding/binary"
	"fmt"
)

// Field describes one scalar in the wire form.
type Field struct {
	Name   string
	CType  string
	Offset int
	Size   int
}

type fieldGroup struct {
	name  string
	ctype string
	names []string
}

var groups = []fieldGroup{
	{"time_us", "uint32_t", nil},
	{"gyro", "int16_t", []string{"x", "y", "z"}},
	{"acc", "int16_t", []string{"x", "y", "z"}},
	{"mag", "int16_t", []string{"x", "y", "z"}},
	{"attitude", "int16_t", []string{"roll", "pitch", "yaw"}},
	{"motor", "int16_t", []string{"0", "1", "2", "3", "4", "5", "6", "7"}},
	{"servo", "int16_t", []string{"0", "1", "2", "3", "4", "5", "6", "7"}},
	{"rc", "int16_t", []string{"roll", "pitch", "yaw", "throttle"}},
	{"vbat", "uint16_t", nil},
	{"amperage", "int16_t", nil},
	{"altitude_cm", "int32_t", nil},
	{"sonar_alt_cm", "int32_t", nil},
	{"rssi", "uint16_t", nil},
}

var layout = buildLayout()

func buildLayout() []Field {
	var out []Field
	offset := 0
	add := func(name, ctype string) {
		size, ok := typeSize(ctype)
		if !ok {
			panic(fmt.Sprintf("snapshot: unsupported c type %q", ctype))
		}
		out = append(out, Field{Name: name, CType: ctype, Offset: offset, Size: size})
		offset += size
	}
	for _, g := range groups {
		if len(g.names) == 0 {
			add(g.name, g.ctype)
			continue
		}
		for _, n := range g.names {
			add(g.name+"_"+n, g.ctype)
		}
	}
	if offset != Size {
		panic(fmt.Sprintf("snapshot: layout covers %d bytes, want %d", offset, Size))
	}
	return out
}

// Layout returns the ordered field table of the wire form.
func Layout() []Field {
	return append([]Field(nil), layout...)
}

// DecodeFields decodes a wire form into a map keyed by field name.
func DecodeFields(buf []byte) (map[string]any, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("%w: have %d want %d", ErrSize, len(buf), Size)
	}
	out := make(map[string]any, len(layout))
	for _, f := range layout {
		value, err := decodeValue(f.CType, buf[f.Offset:f.Offset+f.Size])
		if err != nil {
			return nil, fmt.Errorf("decode field %s: %w", f.Name, err)
		}
		out[f.Name] = value
	}
	return out, nil
}

func decodeValue(ctype string, data []byte) (any, error) {
	switch ctype {
	case "int16_t":
		return int16(binary.LittleEndian.Uint16(data)), nil
	case "uint16_t":
		return binary.LittleEndian.Uint16(data), nil
	case "int32_t":
		return int32(binary.LittleEndian.Uint32(data)), nil
	case "uint32_t":
		return binary.LittleEndian.Uint32(data), nil
	default:
		return nil, fmt.Errorf("unsupported c type %q", ctype)
	}
}

func typeSize(ctype string) (int, bool) {
	switch ctype {
	case "int16_t", "uint16_t":
		return 2, true
	case "int32_t", "uint32_t":
		return 4, true
	default:
		return 0, false
	}
}
