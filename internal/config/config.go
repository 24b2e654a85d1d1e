package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Ingress configures the detector stream receiver.
type Ingress struct {
	ReceiveTimeoutMS int `toml:"receive_timeout_ms"`
}

// Ring sizes the frame buffer between ingest and storage.
type Ring struct {
	Slots     int   `toml:"slots"`
	SlotBytes int64 `toml:"slot_bytes"`
}

// Storage configures the container sink and its polling cadence.
type Storage struct {
	RawDataset                string `toml:"raw_dataset"`
	ReadRetryIntervalMS       int    `toml:"read_retry_interval_ms"`
	ParametersRetryIntervalMS int    `toml:"parameters_retry_interval_ms"`
	BusyTimeoutMS             int    `toml:"busy_timeout_ms"`
	// Overwrite replaces an existing output file instead of refusing to start.
	Overwrite bool `toml:"overwrite"`
}

// Header lists the per-frame scalar fields persisted next to the image data.
type Header struct {
	// Fields maps header field name to its dtype.
	Fields       map[string]string `toml:"fields"`
	PulseIDField string            `toml:"pulse_id_field"`
}

// Notify configures the upstream pulse-id notifier.
type Notify struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// Control configures the HTTP control plane.
type Control struct {
	BindHost                 string `toml:"bind_host"`
	APIToken                 string `toml:"api_token"`
	ReadHeaderTimeoutSeconds int    `toml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `toml:"shutdown_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format      string   `toml:"format"`
	Level       string   `toml:"level"`
	OutputPaths []string `toml:"output_paths"`
}

// Shutdown bounds how long an orderly exit may take before escalation.
type Shutdown struct {
	DeadlineSeconds       int `toml:"deadline_seconds"`
	ForceExitGraceSeconds int `toml:"force_exit_grace_seconds"`
}

// FormatAttribute places one attribute into the container at finalize.
// Exactly one of Parameter or Value is set.
type FormatAttribute struct {
	Path      string `toml:"path"`
	Name      string `toml:"name"`
	Parameter string `toml:"parameter"`
	Value     string `toml:"value"`
}

// Format declares the metadata layout written once all parameters are known.
type Format struct {
	Name string `toml:"name"`
	// Parameters maps parameter name to its type: string, uint64, int64, float64 or bool.
	Parameters map[string]string `toml:"parameters"`
	Defaults   map[string]any    `toml:"defaults"`
	Attributes []FormatAttribute `toml:"attributes"`
}

// Config encapsulates every tunable of the writer.
//
// Configuration sections by subsystem:
//   - Ingress: stream receive timeout
//   - Ring: slot count and slot size
//   - Storage: dataset naming and poll intervals
//   - Header: per-frame scalar fields and the pulse id field
//   - Notify: upstream notification client
//   - Control: HTTP control plane
//   - Logging: log format, level, and outputs
//   - Shutdown: watchdog deadlines
//   - Format: finalize-time metadata layout
type Config struct {
	Ingress  Ingress  `toml:"ingress"`
	Ring     Ring     `toml:"ring"`
	Storage  Storage  `toml:"storage"`
	Header   Header   `toml:"header"`
	Notify   Notify   `toml:"notify"`
	Control  Control  `toml:"control"`
	Logging  Logging  `toml:"logging"`
	Shutdown Shutdown `toml:"shutdown"`
	Format   Format   `toml:"format"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A missing file
// yields the defaults; the returned bool reports whether a file was read.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()
	// Table-valued sections replace the defaults rather than merging into them.
	cfg.Header.Fields = nil
	cfg.Format = Format{}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file %s does not exist", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ReceiveTimeout is the bounded wait of a single ingress receive.
func (c *Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.Ingress.ReceiveTimeoutMS) * time.Millisecond
}

// ReadRetryInterval is how long storage sleeps on an empty buffer before re-checking.
func (c *Config) ReadRetryInterval() time.Duration {
	return time.Duration(c.Storage.ReadRetryIntervalMS) * time.Millisecond
}

// ParametersRetryInterval is the poll period while waiting for format parameters.
func (c *Config) ParametersRetryInterval() time.Duration {
	return time.Duration(c.Storage.ParametersRetryIntervalMS) * time.Millisecond
}

// NotifyTimeout bounds each upstream notification request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSeconds) * time.Second
}

// ShutdownDeadline is the time allowed for the join after the control plane returns.
func (c *Config) ShutdownDeadline() time.Duration {
	return time.Duration(c.Shutdown.DeadlineSeconds) * time.Second
}

// ForceExitGrace is the extra time allowed after a watchdog kill before the process exits.
func (c *Config) ForceExitGrace() time.Duration {
	return time.Duration(c.Shutdown.ForceExitGraceSeconds) * time.Second
}
