package acquisition

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sfwriter/internal/logging"
)

// SubmitParameter type-checks and stores a single parameter.
func (c *Controller) SubmitParameter(name string, value any) error {
	return c.SubmitParameters(map[string]any{name: value})
}

// SubmitParameters stores every value or none of them.
func (c *Controller) SubmitParameters(values map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	coerced := make(map[string]any, len(values))
	for _, name := range sortedNames(values) {
		v, err := c.coerce(name, values[name])
		if err != nil {
			return err
		}
		coerced[name] = v
	}
	for name, v := range coerced {
		c.params[name] = v
		c.logger.Info("parameter set", logging.String("parameter", name), logging.Any("value", v))
	}
	c.signalLocked()
	return nil
}

func (c *Controller) coerce(name string, value any) (any, error) {
	kind, ok := c.paramTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	v, err := kind.Coerce(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
	}
	return v, nil
}

// AreAllParametersSet reports whether every declared parameter has a value.
func (c *Controller) AreAllParametersSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.missingLocked()) == 0
}

// MissingParameters lists declared parameters without a value, sorted.
func (c *Controller) MissingParameters() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missingLocked()
}

func (c *Controller) missingLocked() []string {
	var missing []string
	for name := range c.paramTypes {
		if _, ok := c.params[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Parameters returns a copy of the submitted values.
func (c *Controller) Parameters() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.params))
	for name, v := range c.params {
		out[name] = v
	}
	return out
}

// ParameterTypes returns the declared type of every parameter.
func (c *Controller) ParameterTypes() map[string]string {
	out := make(map[string]string, len(c.paramTypes))
	for name, kind := range c.paramTypes {
		out[name] = string(kind)
	}
	return out
}

// WaitForParameters blocks until all parameters are set, the run is killed,
// or ctx ends. It re-checks at least every interval and reports whether the
// parameters are complete.
func (c *Controller) WaitForParameters(ctx context.Context, interval time.Duration) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if c.AreAllParametersSet() {
			return true
		}
		if c.IsKilled() {
			return false
		}
		select {
		case <-ctx.Done():
			return c.AreAllParametersSet()
		case <-c.changes:
		case <-ticker.C:
		}
	}
}

func sortedNames(values map[string]any) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
