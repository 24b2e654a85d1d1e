package testsupport

import (
	"strconv"
	"testing"

	"sfwriter/internal/config"
	"sfwriter/internal/frame"
)

// FrameBuilder produces frames whose headers are encoded with the configured
// field types.
type FrameBuilder struct {
	t       testing.TB
	types   map[string]frame.DType
	pulseID string
	shape   []uint64
}

// NewFrameBuilder reads header types from cfg. Frames carry a 4x4 uint8 payload.
func NewFrameBuilder(t testing.TB, cfg *config.Config) *FrameBuilder {
	t.Helper()
	types := make(map[string]frame.DType, len(cfg.Header.Fields))
	for name, raw := range cfg.Header.Fields {
		dtype, err := frame.ParseDType(raw)
		if err != nil {
			t.Fatalf("header field %s: %v", name, err)
		}
		types[name] = dtype
	}
	return &FrameBuilder{t: t, types: types, pulseID: cfg.Header.PulseIDField, shape: []uint64{4, 4}}
}

// Frame builds frame index with the given header literals. Fields not listed
// are absent from the header.
func (b *FrameBuilder) Frame(index uint64, header map[string]string) *frame.Frame {
	b.t.Helper()
	elements := uint64(1)
	for _, dim := range b.shape {
		elements *= dim
	}
	data := make([]byte, elements)
	for i := range data {
		data[i] = byte(index + uint64(i))
	}

	encoded := make(map[string][]byte, len(header))
	for name, literal := range header {
		dtype, ok := b.types[name]
		if !ok {
			b.t.Fatalf("header field %s is not configured", name)
		}
		raw, err := frame.EncodeScalar(dtype, literal)
		if err != nil {
			b.t.Fatalf("encode %s=%s: %v", name, literal, err)
		}
		encoded[name] = raw
	}

	return &frame.Frame{
		Metadata: frame.Metadata{
			Index:      index,
			Shape:      append([]uint64(nil), b.shape...),
			DType:      frame.Uint8,
			Endianness: frame.LittleEndian,
			ByteSize:   len(data),
			Header:     encoded,
		},
		Data: data,
	}
}

// Pulse builds frame index with every configured header field set: the pulse
// id field to pulseID, "frame" to index, and the rest to 1.
func (b *FrameBuilder) Pulse(index, pulseID uint64) *frame.Frame {
	b.t.Helper()
	header := make(map[string]string, len(b.types))
	for name := range b.types {
		switch name {
		case b.pulseID:
			header[name] = strconv.FormatUint(pulseID, 10)
		case "frame":
			header[name] = strconv.FormatUint(index, 10)
		default:
			header[name] = "1"
		}
	}
	return b.Frame(index, header)
}

// Oversized builds a frame whose payload is size bytes.
func (b *FrameBuilder) Oversized(index uint64, size int) *frame.Frame {
	return &frame.Frame{
		Metadata: frame.Metadata{
			Index:      index,
			Shape:      []uint64{uint64(size)},
			DType:      frame.Uint8,
			Endianness: frame.LittleEndian,
			ByteSize:   size,
		},
		Data: make([]byte, size),
	}
}
