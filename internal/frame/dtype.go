package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnknownDType reports a type name outside the fixed table.
var ErrUnknownDType = errors.New("unknown dtype")

// DType names a numeric element type.
type DType string

const (
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

var dtypeSizes = map[DType]int{
	Uint8:   1,
	Int8:    1,
	Uint16:  2,
	Int16:   2,
	Uint32:  4,
	Int32:   4,
	Float32: 4,
	Uint64:  8,
	Int64:   8,
	Float64: 8,
}

// Size returns the element width in bytes.
func (d DType) Size() (int, bool) {
	size, ok := dtypeSizes[d]
	return size, ok
}

// ParseDType resolves a type name case-insensitively.
func ParseDType(name string) (DType, error) {
	d := DType(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := dtypeSizes[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDType, name)
	}
	return d, nil
}

func (d DType) isFloat() bool    { return d == Float32 || d == Float64 }
func (d DType) isUnsigned() bool { return strings.HasPrefix(string(d), "uint") }

// EncodeScalar converts a decimal literal into a little-endian scalar of the given type.
func EncodeScalar(d DType, literal string) ([]byte, error) {
	size, ok := d.Size()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDType, d)
	}
	literal = strings.TrimSpace(literal)
	out := make([]byte, size)
	bits := size * 8

	switch {
	case d.isFloat():
		v, err := strconv.ParseFloat(literal, bits)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d, err)
		}
		if size == 4 {
			binary.LittleEndian.PutUint32(out, math.Float32bits(float32(v)))
		} else {
			binary.LittleEndian.PutUint64(out, math.Float64bits(v))
		}
	case d.isUnsigned():
		v, err := strconv.ParseUint(literal, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d, err)
		}
		putUint(out, v)
	default:
		v, err := strconv.ParseInt(literal, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d, err)
		}
		putUint(out, uint64(v))
	}
	return out, nil
}

func putUint(out []byte, v uint64) {
	switch len(out) {
	case 1:
		out[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(v))
	default:
		binary.LittleEndian.PutUint64(out, v)
	}
}

// DecodeScalar interprets a little-endian scalar. Integers come back as
// uint64 or int64, floats as float64.
func DecodeScalar(d DType, raw []byte) (any, error) {
	size, ok := d.Size()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDType, d)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("decode %s: got %d bytes, want %d", d, len(raw), size)
	}
	var u uint64
	switch size {
	case 1:
		u = uint64(raw[0])
	case 2:
		u = uint64(binary.LittleEndian.Uint16(raw))
	case 4:
		u = uint64(binary.LittleEndian.Uint32(raw))
	default:
		u = binary.LittleEndian.Uint64(raw)
	}
	switch d {
	case Float32:
		return float64(math.Float32frombits(uint32(u))), nil
	case Float64:
		return math.Float64frombits(u), nil
	case Int8:
		return int64(int8(u)), nil
	case Int16:
		return int64(int16(u)), nil
	case Int32:
		return int64(int32(u)), nil
	case Int64:
		return int64(u), nil
	default:
		return u, nil
	}
}

// DecodeUint64 reads an 8-byte little-endian value, reporting false on a short slice.
func DecodeUint64(raw []byte) (uint64, bool) {
	if len(raw) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(raw), true
}
