package config

import (
	"errors"
	"fmt"
	"sort"

	"sfwriter/internal/frame"
)

// ParameterTypes lists the value types a format parameter may declare.
var ParameterTypes = []string{"string", "uint64", "int64", "float64", "bool"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := ensurePositiveMap(map[string]int{
		"ingress.receive_timeout_ms":           c.Ingress.ReceiveTimeoutMS,
		"ring.slots":                           c.Ring.Slots,
		"storage.read_retry_interval_ms":       c.Storage.ReadRetryIntervalMS,
		"storage.parameters_retry_interval_ms": c.Storage.ParametersRetryIntervalMS,
		"notify.timeout_seconds":               c.Notify.TimeoutSeconds,
		"control.read_header_timeout_seconds":  c.Control.ReadHeaderTimeoutSeconds,
		"control.shutdown_timeout_seconds":     c.Control.ShutdownTimeoutSeconds,
		"shutdown.deadline_seconds":            c.Shutdown.DeadlineSeconds,
		"shutdown.force_exit_grace_seconds":    c.Shutdown.ForceExitGraceSeconds,
	}); err != nil {
		return err
	}
	if c.Ring.SlotBytes <= 0 {
		return errors.New("ring.slot_bytes must be positive")
	}
	if c.Storage.BusyTimeoutMS < 0 {
		return errors.New("storage.busy_timeout_ms must be >= 0")
	}
	if err := c.validateHeader(); err != nil {
		return err
	}
	return c.validateFormat()
}

func (c *Config) validateHeader() error {
	for _, name := range sortedKeys(c.Header.Fields) {
		if _, err := frame.ParseDType(c.Header.Fields[name]); err != nil {
			return fmt.Errorf("header.fields.%s: %w", name, err)
		}
		if name == c.Storage.RawDataset {
			return fmt.Errorf("header.fields.%s collides with storage.raw_dataset", name)
		}
	}
	if c.Header.PulseIDField == "" {
		return nil
	}
	dtype, ok := c.Header.Fields[c.Header.PulseIDField]
	if !ok {
		return fmt.Errorf("header.pulse_id_field %q is not listed in header.fields", c.Header.PulseIDField)
	}
	if dtype != string(frame.Uint64) {
		return fmt.Errorf("header.pulse_id_field %q must be uint64, got %s", c.Header.PulseIDField, dtype)
	}
	return nil
}

func (c *Config) validateFormat() error {
	for _, name := range sortedKeys(c.Format.Parameters) {
		if name == "" {
			return errors.New("format.parameters: empty parameter name")
		}
		if !isParameterType(c.Format.Parameters[name]) {
			return fmt.Errorf("format.parameters.%s: unsupported type %q (want one of %v)", name, c.Format.Parameters[name], ParameterTypes)
		}
	}
	for name := range c.Format.Defaults {
		if _, ok := c.Format.Parameters[name]; !ok {
			return fmt.Errorf("format.defaults.%s: parameter is not declared", name)
		}
	}
	for i, attr := range c.Format.Attributes {
		if attr.Name == "" {
			return fmt.Errorf("format.attributes[%d]: name must be set", i)
		}
		hasParam, hasValue := attr.Parameter != "", attr.Value != ""
		if hasParam == hasValue {
			return fmt.Errorf("format.attributes[%d] (%s): exactly one of parameter or value must be set", i, attr.Name)
		}
		if hasParam {
			if _, ok := c.Format.Parameters[attr.Parameter]; !ok {
				return fmt.Errorf("format.attributes[%d] (%s): parameter %q is not declared", i, attr.Name, attr.Parameter)
			}
		}
	}
	return nil
}

func isParameterType(kind string) bool {
	for _, candidate := range ParameterTypes {
		if candidate == kind {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
