package ingress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sfwriter/internal/frame"
)

// Decoder turns two-part stream messages into frames, extracting the
// configured header fields as little-endian scalars.
type Decoder struct {
	headers map[string]frame.DType
}

// NewDecoder validates the header type table.
func NewDecoder(headerFields map[string]string) (*Decoder, error) {
	d := &Decoder{headers: make(map[string]frame.DType, len(headerFields))}
	for name, kind := range headerFields {
		dtype, err := frame.ParseDType(kind)
		if err != nil {
			return nil, fmt.Errorf("header field %s: %w", name, err)
		}
		d.headers[name] = dtype
	}
	return d, nil
}

// Decode parses parts[0] as metadata and takes parts[1] as the payload.
// Header fields absent from the metadata are left out of the frame header;
// fields with unusable values are left out too and reported in HeaderErrors.
func (d *Decoder) Decode(parts [][]byte) (*frame.Frame, error) {
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected 2 parts, got %d", ErrMalformed, len(parts))
	}

	dec := json.NewDecoder(bytes.NewReader(parts[0]))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}

	index, err := uintField(doc, "frame")
	if err != nil {
		return nil, err
	}
	shape, err := shapeField(doc)
	if err != nil {
		return nil, err
	}
	typeName, _ := doc["type"].(string)
	dtype, err := frame.ParseDType(typeName)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrMalformed, index, err)
	}
	endianness, _ := doc["endianness"].(string)

	f := &frame.Frame{
		Metadata: frame.Metadata{
			Index:      index,
			Shape:      shape,
			DType:      dtype,
			Endianness: frame.NormalizeEndianness(endianness),
			ByteSize:   len(parts[1]),
			Header:     make(map[string][]byte, len(d.headers)),
		},
		Data: parts[1],
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	for name, htype := range d.headers {
		raw, ok := doc[name]
		if !ok {
			continue
		}
		encoded, err := encodeHeader(htype, raw)
		if err != nil {
			if f.HeaderErrors == nil {
				f.HeaderErrors = make(map[string]error)
			}
			f.HeaderErrors[name] = err
			continue
		}
		f.Header[name] = encoded
	}
	return f, nil
}

func uintField(doc map[string]any, key string) (uint64, error) {
	raw, ok := doc[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformed, key)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, key)
	}
	v, err := strconv.ParseUint(num.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformed, key, err)
	}
	return v, nil
}

func shapeField(doc map[string]any) ([]uint64, error) {
	raw, ok := doc["shape"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing or empty \"shape\"", ErrMalformed)
	}
	shape := make([]uint64, len(raw))
	for i, dim := range raw {
		num, ok := dim.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: shape[%d] is not a number", ErrMalformed, i)
		}
		v, err := strconv.ParseUint(num.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: shape[%d]: %v", ErrMalformed, i, err)
		}
		shape[i] = v
	}
	return shape, nil
}

func encodeHeader(dtype frame.DType, raw any) ([]byte, error) {
	literal, err := scalarLiteral(raw)
	if err != nil {
		return nil, err
	}
	return frame.EncodeScalar(dtype, literal)
}

func scalarLiteral(raw any) (string, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case string:
		return strings.TrimSpace(v), nil
	default:
		return "", fmt.Errorf("unsupported value %T", raw)
	}
}
