package testsupport

import (
	"path/filepath"
	"testing"

	"sfwriter/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config with short poll intervals, a small ring, and a
// log file inside a per-test temp directory. The default format declares no
// parameters so runs finalize without a submission.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Ingress.ReceiveTimeoutMS = 10
	cfgVal.Ring.Slots = 8
	cfgVal.Ring.SlotBytes = 1024
	cfgVal.Storage.ReadRetryIntervalMS = 1
	cfgVal.Storage.ParametersRetryIntervalMS = 5
	cfgVal.Control.BindHost = "127.0.0.1"
	cfgVal.Logging.OutputPaths = []string{filepath.Join(base, "logs", "sfwriter.log")}
	cfgVal.Shutdown.DeadlineSeconds = 5
	cfgVal.Shutdown.ForceExitGraceSeconds = 1
	cfgVal.Format = config.Format{
		Name: "test",
		Attributes: []config.FormatAttribute{
			{Path: "/", Name: "format", Value: "test"},
		},
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithRing overrides the slot count and size.
func WithRing(slots int, slotBytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ring.Slots = slots
		b.cfg.Ring.SlotBytes = slotBytes
	}
}

// WithFormat replaces the finalize-time format.
func WithFormat(format config.Format) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Format = format
	}
}

// WithRequiredParameter declares a string parameter stored as an attribute of /general.
func WithRequiredParameter(name string) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Format.Parameters == nil {
			b.cfg.Format.Parameters = map[string]string{}
		}
		b.cfg.Format.Parameters[name] = "string"
		b.cfg.Format.Attributes = append(b.cfg.Format.Attributes, config.FormatAttribute{
			Path:      "/general",
			Name:      name,
			Parameter: name,
		})
	}
}

// WithHeaderFields replaces the persisted header fields.
func WithHeaderFields(fields map[string]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Header.Fields = fields
	}
}

// WithShutdown overrides the watchdog deadlines.
func WithShutdown(deadlineSeconds, graceSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Shutdown.DeadlineSeconds = deadlineSeconds
		b.cfg.Shutdown.ForceExitGraceSeconds = graceSeconds
	}
}

// OutputPath returns a container path below a directory that does not exist yet.
func OutputPath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "raw", "run_0001.sqlite")
}
