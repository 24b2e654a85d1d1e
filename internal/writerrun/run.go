// Package writerrun assembles the writer process: credentials, logging,
// preflight, signal handling, and the acquisition itself.
package writerrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sfwriter/internal/config"
	"sfwriter/internal/ingress"
	"sfwriter/internal/logging"
	"sfwriter/internal/preflight"
	"sfwriter/internal/privdrop"
	"sfwriter/internal/writer"
)

// Options configures process runtime behavior. Empty fields fall back to the
// configuration file or to the production implementations.
type Options struct {
	LogLevel    string
	LogFormat   string
	Development bool

	// Signals delivers stop requests; defaults to SIGINT and SIGTERM.
	Signals <-chan os.Signal
	// Notify registers the default signal channel; defaults to signal.Notify.
	Notify  func(c chan<- os.Signal, sig ...os.Signal)
	Adapter ingress.Adapter
	Exit    func(code int)
}

// ErrPreflight marks a startup check that failed before anything was opened.
var ErrPreflight = errors.New("preflight failed")

// Run executes one acquisition from credentials to the final summary line.
func Run(ctx context.Context, cfg *config.Config, inv config.Invocation, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := inv.Validate(); err != nil {
		return err
	}

	// Registered before startup so an early signal is queued rather than
	// fatal; it is handled once the writer exists.
	signals := opts.Signals
	if signals == nil {
		notify := opts.Notify
		if notify == nil {
			notify = signal.Notify
		}
		ch := make(chan os.Signal, 2)
		notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	// Before any file is created, including log files.
	creds, err := privdrop.Drop(inv.UserID)
	if err != nil {
		return fmt.Errorf("drop privileges: %w", err)
	}

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("credentials",
		logging.Int("uid", creds.UID),
		logging.Int("gid", creds.GID),
		logging.Bool("dropped", inv.DropsPrivileges()),
	)

	if err := runPreflight(ctx, cfg, inv, logger); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	w, err := writer.New(ctx, writer.Options{
		Config:     cfg,
		Invocation: inv,
		Logger:     logger,
		Registry:   registry,
		Adapter:    opts.Adapter,
		Exit:       opts.Exit,
	})
	if err != nil {
		logging.ErrorWithContext(logger, "writer startup failed", "startup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the output path and control port"),
		)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go handleSignals(runCtx, cancel, w, signals, logger)

	return w.Run(runCtx)
}

// handleSignals requests an orderly stop on the first signal and kills the
// run on the second.
func handleSignals(ctx context.Context, cancel context.CancelFunc, w *writer.Writer, signals <-chan os.Signal, logger *slog.Logger) {
	ctrl := w.Controller()
	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			count++
			if count == 1 {
				logger.Info("signal received; stopping acquisition",
					logging.String("signal", sig.String()),
					logging.String(logging.FieldEventType, "signal_stop"),
				)
				ctrl.Stop()
				continue
			}
			logging.WarnWithContext(logger, "second signal received; killing acquisition", "signal_kill",
				logging.String("signal", sig.String()),
				logging.String(logging.FieldImpact, "format metadata will not be written"),
			)
			ctrl.Kill()
			cancel()
			return
		}
	}
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	format := cfg.Logging.Format
	if strings.TrimSpace(opts.LogFormat) != "" {
		format = opts.LogFormat
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      format,
		OutputPaths: cfg.Logging.OutputPaths,
		Development: opts.Development,
	})
}

func runPreflight(ctx context.Context, cfg *config.Config, inv config.Invocation, logger *slog.Logger) error {
	checkLog := logging.NewComponentLogger(logger, "preflight")
	results := preflight.RunAll(ctx, cfg, inv)
	for _, r := range results {
		switch {
		case r.Passed:
			checkLog.Debug("check passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
		case r.Required:
			logging.ErrorWithContext(checkLog, "check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		default:
			logging.WarnWithContext(checkLog, "check failed", "preflight_warning",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		}
	}
	if err := preflight.Failed(results); err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}
	return nil
}
