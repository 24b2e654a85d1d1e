package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sfwriter/internal/frame"
)

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("container closed")
	// ErrShapeMismatch is returned when a write disagrees with the dataset's fixed layout.
	ErrShapeMismatch = errors.New("dataset layout mismatch")
	// ErrLocked is returned when another writer holds the output file.
	ErrLocked = errors.New("output file is locked by another writer")
	// ErrExists is returned when the output file exists and overwrite is disabled.
	ErrExists = errors.New("output file already exists")
	// ErrNotFound is returned by reads of absent frames, datasets, or attributes.
	ErrNotFound = errors.New("not found")
)

// Dataset is the fixed layout of a named dataset.
type Dataset struct {
	Name       string
	Shape      []uint64
	DType      frame.DType
	Endianness string
}

func (d Dataset) sameLayout(other Dataset) bool {
	if d.DType != other.DType || d.Endianness != other.Endianness || len(d.Shape) != len(other.Shape) {
		return false
	}
	for i := range d.Shape {
		if d.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// Sink is the durable destination of a run.
type Sink interface {
	// WriteData stores data as element index of the dataset.
	WriteData(ctx context.Context, ds Dataset, index uint64, data []byte) error
	WriteAttribute(ctx context.Context, path, name string, value any) error
	IsOpen() bool
	Close() error
}

func encodeShape(shape []uint64) string {
	parts := make([]string, len(shape))
	for i, dim := range shape {
		parts[i] = strconv.FormatUint(dim, 10)
	}
	return strings.Join(parts, ",")
}

func decodeShape(raw string) ([]uint64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	shape := make([]uint64, len(parts))
	for i, part := range parts {
		dim, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode shape %q: %w", raw, err)
		}
		shape[i] = dim
	}
	return shape, nil
}

// encodeAttribute returns the stored dtype and text form of value.
func encodeAttribute(value any) (string, string, error) {
	switch v := value.(type) {
	case string:
		return "string", v, nil
	case bool:
		return "bool", strconv.FormatBool(v), nil
	case uint64:
		return "uint64", strconv.FormatUint(v, 10), nil
	case int64:
		return "int64", strconv.FormatInt(v, 10), nil
	case int:
		return "int64", strconv.Itoa(v), nil
	case float64:
		return "float64", strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", "", fmt.Errorf("unsupported attribute type %T", value)
	}
}

func decodeAttribute(dtype, text string) (any, error) {
	switch dtype {
	case "string":
		return text, nil
	case "bool":
		return strconv.ParseBool(text)
	case "uint64":
		return strconv.ParseUint(text, 10, 64)
	case "int64":
		return strconv.ParseInt(text, 10, 64)
	case "float64":
		return strconv.ParseFloat(text, 64)
	default:
		return nil, fmt.Errorf("unknown attribute dtype %q", dtype)
	}
}
