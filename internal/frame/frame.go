// Package frame defines the detector frame model shared by ingest, the ring
// buffer, and the storage sink, along with the fixed numeric type table.
package frame

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// ErrShapeOverflow reports a shape whose byte size does not fit in uint64.
var ErrShapeOverflow = errors.New("shape size overflows")

// Byte orders accepted on the wire.
const (
	LittleEndian = "little"
	BigEndian    = "big"
)

// Metadata describes one frame independent of its payload bytes.
type Metadata struct {
	Index      uint64
	Shape      []uint64
	DType      DType
	Endianness string
	ByteSize   int
	// Header maps field name to its little-endian encoded scalar.
	Header map[string][]byte
}

// Frame is a decoded message from the detector stream.
type Frame struct {
	Metadata
	Data []byte
	// HeaderErrors holds configured header fields whose values could not be
	// encoded. They are absent from Header; the frame itself is kept.
	HeaderErrors map[string]error
}

// Elements returns the product of the shape dimensions, reporting false
// when the product overflows.
func (m Metadata) Elements() (uint64, bool) {
	if len(m.Shape) == 0 {
		return 0, true
	}
	total := uint64(1)
	for _, dim := range m.Shape {
		hi, lo := bits.Mul64(total, dim)
		if hi != 0 {
			return 0, false
		}
		total = lo
	}
	return total, true
}

// Validate checks the metadata against the type table and the payload size.
func (m Metadata) Validate() error {
	size, ok := m.DType.Size()
	if !ok {
		return fmt.Errorf("frame %d: %w: %q", m.Index, ErrUnknownDType, m.DType)
	}
	switch m.Endianness {
	case LittleEndian, BigEndian:
	default:
		return fmt.Errorf("frame %d: unsupported endianness %q", m.Index, m.Endianness)
	}
	if len(m.Shape) == 0 {
		return fmt.Errorf("frame %d: empty shape", m.Index)
	}
	elements, ok := m.Elements()
	var want uint64
	if ok {
		var hi uint64
		hi, want = bits.Mul64(elements, uint64(size))
		ok = hi == 0
	}
	if !ok {
		return fmt.Errorf("frame %d: %w: shape %v of %s", m.Index, ErrShapeOverflow, m.Shape, m.DType)
	}
	if want != uint64(m.ByteSize) {
		return fmt.Errorf("frame %d: payload is %d bytes, shape %v of %s needs %d", m.Index, m.ByteSize, m.Shape, m.DType, want)
	}
	return nil
}

// Clone returns a deep copy so the caller may retain it after the source is recycled.
func (m Metadata) Clone() Metadata {
	out := m
	out.Shape = append([]uint64(nil), m.Shape...)
	if m.Header != nil {
		out.Header = make(map[string][]byte, len(m.Header))
		for name, value := range m.Header {
			out.Header[name] = append([]byte(nil), value...)
		}
	}
	return out
}

// NormalizeEndianness maps empty input onto the little-endian default.
func NormalizeEndianness(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return LittleEndian
	}
	return value
}
