package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidValue reports a parameter value that cannot be represented by its declared type.
var ErrInvalidValue = errors.New("invalid parameter value")

// ParameterType is the declared type of a format parameter.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeUint64  ParameterType = "uint64"
	TypeInt64   ParameterType = "int64"
	TypeFloat64 ParameterType = "float64"
	TypeBool    ParameterType = "bool"
)

// ParseParameterType resolves a declared type name.
func ParseParameterType(name string) (ParameterType, error) {
	t := ParameterType(strings.ToLower(strings.TrimSpace(name)))
	switch t {
	case TypeString, TypeUint64, TypeInt64, TypeFloat64, TypeBool:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported parameter type %q", name)
	}
}

// Coerce converts v into the Go representation of t: string, uint64, int64,
// float64 or bool. JSON numbers and numeric strings are accepted for numeric
// types so values from the HTTP API and the CLI type-check the same way.
func (t ParameterType) Coerce(v any) (any, error) {
	switch t {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want string, got %T", ErrInvalidValue, v)
		}
		return s, nil
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a bool", ErrInvalidValue, b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("%w: want bool, got %T", ErrInvalidValue, v)
	case TypeUint64:
		return coerceUint(v)
	case TypeInt64:
		return coerceInt(v)
	case TypeFloat64:
		return coerceFloat(v)
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", string(t))
	}
}

func numericLiteral(v any) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return n.String(), true
	case string:
		return strings.TrimSpace(n), true
	}
	return "", false
}

func coerceUint(v any) (any, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case int:
		if n >= 0 {
			return uint64(n), nil
		}
	case int64:
		if n >= 0 {
			return uint64(n), nil
		}
	case float64:
		if n >= 0 && n == math.Trunc(n) && n < math.MaxUint64 {
			return uint64(n), nil
		}
	default:
		if lit, ok := numericLiteral(v); ok {
			parsed, err := strconv.ParseUint(lit, 10, 64)
			if err == nil {
				return parsed, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v is not a uint64", ErrInvalidValue, v)
}

func coerceInt(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), nil
		}
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), nil
		}
	default:
		if lit, ok := numericLiteral(v); ok {
			parsed, err := strconv.ParseInt(lit, 10, 64)
			if err == nil {
				return parsed, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v is not an int64", ErrInvalidValue, v)
}

func coerceFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		if lit, ok := numericLiteral(v); ok {
			parsed, err := strconv.ParseFloat(lit, 64)
			if err == nil {
				return parsed, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v is not a float64", ErrInvalidValue, v)
}
