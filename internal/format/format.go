// Package format describes the static metadata layout written into the
// container once an acquisition has all of its parameters.
package format

import (
	"context"
	"fmt"
	"sort"

	"sfwriter/internal/config"
)

// Attribute places one value at Path/Name. Parameter-sourced attributes take
// the submitted parameter value; the rest carry the literal Value.
type Attribute struct {
	Path      string
	Name      string
	Parameter string
	Value     string
}

// Format is a parsed, type-checked format declaration.
type Format struct {
	Name       string
	Parameters map[string]ParameterType
	Defaults   map[string]any
	Attributes []Attribute
}

// AttributeWriter persists typed attributes. The storage container implements it.
type AttributeWriter interface {
	WriteAttribute(ctx context.Context, path, name string, value any) error
}

// FromConfig builds a Format from its configuration section.
func FromConfig(cfg config.Format) (*Format, error) {
	f := &Format{
		Name:       cfg.Name,
		Parameters: make(map[string]ParameterType, len(cfg.Parameters)),
		Defaults:   make(map[string]any, len(cfg.Defaults)),
		Attributes: make([]Attribute, 0, len(cfg.Attributes)),
	}
	for name, kind := range cfg.Parameters {
		t, err := ParseParameterType(kind)
		if err != nil {
			return nil, fmt.Errorf("format parameter %s: %w", name, err)
		}
		f.Parameters[name] = t
	}
	for name, value := range cfg.Defaults {
		t, ok := f.Parameters[name]
		if !ok {
			return nil, fmt.Errorf("format default %s: parameter is not declared", name)
		}
		coerced, err := t.Coerce(value)
		if err != nil {
			return nil, fmt.Errorf("format default %s: %w", name, err)
		}
		f.Defaults[name] = coerced
	}
	for _, attr := range cfg.Attributes {
		if attr.Parameter != "" {
			if _, ok := f.Parameters[attr.Parameter]; !ok {
				return nil, fmt.Errorf("format attribute %s/%s: parameter %q is not declared", attr.Path, attr.Name, attr.Parameter)
			}
		}
		f.Attributes = append(f.Attributes, Attribute{
			Path:      attr.Path,
			Name:      attr.Name,
			Parameter: attr.Parameter,
			Value:     attr.Value,
		})
	}
	return f, nil
}

// ParameterNames returns the declared parameter names in sorted order.
func (f *Format) ParameterNames() []string {
	names := make([]string, 0, len(f.Parameters))
	for name := range f.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Write stores every attribute using params for the parameter-sourced ones.
// All attributes are attempted; the first error is returned.
func (f *Format) Write(ctx context.Context, w AttributeWriter, params map[string]any) error {
	var firstErr error
	for _, attr := range f.Attributes {
		var value any = attr.Value
		if attr.Parameter != "" {
			v, ok := params[attr.Parameter]
			if !ok {
				if firstErr == nil {
					firstErr = fmt.Errorf("format attribute %s/%s: parameter %q not set", attr.Path, attr.Name, attr.Parameter)
				}
				continue
			}
			value = v
		}
		if err := w.WriteAttribute(ctx, attr.Path, attr.Name, value); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("write attribute %s/%s: %w", attr.Path, attr.Name, err)
		}
	}
	return firstErr
}
