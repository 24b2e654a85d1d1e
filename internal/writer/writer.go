package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"sfwriter/internal/acquisition"
	"sfwriter/internal/config"
	"sfwriter/internal/control"
	"sfwriter/internal/format"
	"sfwriter/internal/frame"
	"sfwriter/internal/ingress"
	"sfwriter/internal/logging"
	"sfwriter/internal/metrics"
	"sfwriter/internal/notify"
	"sfwriter/internal/ringbuffer"
	"sfwriter/internal/storage"
)

// ExitForced is the process exit code used when the shutdown watchdog gives up.
const ExitForced = 2

// ErrForcedExit is returned by Run when the watchdog called the exit function
// and it returned, which only happens when tests replace it.
var ErrForcedExit = errors.New("shutdown deadline exceeded; forced exit")

// Options wires a Writer. Adapter, Sink, Notifier, and Listener default to the
// production implementations built from Config and Invocation.
type Options struct {
	Config     *config.Config
	Invocation config.Invocation
	Logger     *slog.Logger
	// Registry receives the writer's metrics and backs GET /metrics.
	Registry *prometheus.Registry
	RunID    string

	Adapter  ingress.Adapter
	Sink     storage.Sink
	Notifier notify.Notifier
	Listener net.Listener
	// Exit terminates the process when the watchdog fires; defaults to os.Exit.
	Exit func(code int)
}

type headerField struct {
	name  string
	dtype frame.DType
}

// Writer owns every component of one acquisition.
type Writer struct {
	cfg    *config.Config
	inv    config.Invocation
	logger *slog.Logger

	ctrl     *acquisition.Controller
	ring     *ringbuffer.Buffer
	adapter  ingress.Adapter
	sink     storage.Sink
	notifier notify.Notifier
	format   *format.Format
	metrics  *metrics.Metrics
	server   *control.Server
	listener net.Listener

	headers []headerField
	// invalidHeaders is owned by the ingest goroutine.
	invalidHeaders map[string]bool
	exit           func(int)
}

// New validates the configuration and opens the output file and the control
// listener. Every failure here is a startup failure; nothing has been
// received yet.
func New(ctx context.Context, opts Options) (*Writer, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	inv := opts.Invocation
	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("validate invocation: %w", err)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	base := opts.Logger
	if base == nil {
		base = logging.NewNop()
	}
	base = base.With(logging.String(logging.FieldRunID, runID))

	w := &Writer{
		cfg:            cfg,
		inv:            inv,
		logger:         logging.NewComponentLogger(base, "writer"),
		invalidHeaders: make(map[string]bool),
		exit:           opts.Exit,
	}
	if w.exit == nil {
		w.exit = os.Exit
	}

	f, err := format.FromConfig(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("load format: %w", err)
	}
	w.format = f

	headers, err := headerFields(cfg.Header.Fields)
	if err != nil {
		return nil, err
	}
	w.headers = headers

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if w.metrics, err = metrics.New(registry); err != nil {
		return nil, err
	}

	if w.ring, err = ringbuffer.New(cfg.Ring.Slots, int(cfg.Ring.SlotBytes)); err != nil {
		return nil, fmt.Errorf("create ring buffer: %w", err)
	}
	w.metrics.Ring(0, w.ring.Cap())

	w.ctrl, err = acquisition.New(acquisition.Options{
		RunID:        runID,
		OutputPath:   inv.OutputPath,
		TargetFrames: inv.FrameCount,
		Parameters:   f.Parameters,
		Defaults:     f.Defaults,
		Logger:       base,
	})
	if err != nil {
		return nil, fmt.Errorf("create acquisition controller: %w", err)
	}

	w.server = control.NewServer(w.ctrl, w.ring, control.Options{
		BindHost:          cfg.Control.BindHost,
		Port:              inv.Port,
		Token:             cfg.Control.APIToken,
		ReadHeaderTimeout: time.Duration(cfg.Control.ReadHeaderTimeoutSeconds) * time.Second,
		ShutdownTimeout:   time.Duration(cfg.Control.ShutdownTimeoutSeconds) * time.Second,
		Gatherer:          registry,
		Logger:            base,
	})
	w.listener = opts.Listener
	if w.listener == nil {
		if w.listener, err = net.Listen("tcp", w.server.Addr()); err != nil {
			return nil, fmt.Errorf("control listen on %s: %w", w.server.Addr(), err)
		}
	}

	w.sink = opts.Sink
	if w.sink == nil {
		if w.sink, err = openContainer(ctx, cfg, inv.OutputPath, base); err != nil {
			_ = w.listener.Close()
			return nil, err
		}
	}

	w.adapter = opts.Adapter
	if w.adapter == nil {
		decoder, err := ingress.NewDecoder(cfg.Header.Fields)
		if err != nil {
			_ = w.listener.Close()
			_ = w.sink.Close()
			return nil, fmt.Errorf("create frame decoder: %w", err)
		}
		w.adapter = ingress.NewZMQ(inv.Address, cfg.ReceiveTimeout(), decoder, base)
	}

	w.notifier = opts.Notifier
	if w.notifier == nil {
		w.notifier = notify.New(notify.Options{
			Address:   inv.NotifyAddress,
			Timeout:   cfg.NotifyTimeout(),
			UserAgent: cfg.Notify.UserAgent,
			Logger:    base,
			Metrics:   w.metrics,
		})
	}

	w.logger.Info("writer ready",
		logging.String("address", inv.Address),
		logging.String("output", inv.OutputPath),
		logging.Uint64("n_frames", inv.FrameCount),
		logging.String("control", w.listener.Addr().String()),
		logging.Int("ring_slots", w.ring.Cap()),
		logging.Int("slot_bytes", w.ring.SlotBytes()),
		logging.String("format", f.Name),
	)
	return w, nil
}

func headerFields(fields map[string]string) ([]headerField, error) {
	out := make([]headerField, 0, len(fields))
	for name, raw := range fields {
		dtype, err := frame.ParseDType(raw)
		if err != nil {
			return nil, fmt.Errorf("header field %s: %w", name, err)
		}
		out = append(out, headerField{name: name, dtype: dtype})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// openContainer creates the output's parent directories and opens the file.
func openContainer(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger) (*storage.Container, error) {
	writerLog := logging.NewComponentLogger(logger, "writer")
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory %s: %w", dir, err)
		}
		writerLog.Debug("output directory ready", logging.String("dir", dir))
	} else {
		writerLog.Info("output path is relative to the working directory; no directories created",
			logging.String("output", path))
	}
	c, err := storage.Open(ctx, path, storage.Options{
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeoutMS) * time.Millisecond,
		Overwrite:   cfg.Storage.Overwrite,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return c, nil
}

// Controller exposes the shared lifecycle state, e.g. for signal handlers.
func (w *Writer) Controller() *acquisition.Controller { return w.ctrl }

// ControlAddr is the address the control plane listens on.
func (w *Writer) ControlAddr() string { return w.listener.Addr().String() }

// Run starts ingest and storage and serves the control plane until storage
// has finished or ctx is cancelled. It returns after both goroutines joined.
func (w *Writer) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := w.ctrl.Start(); err != nil {
		_ = w.listener.Close()
		_ = w.sink.Close()
		return fmt.Errorf("start acquisition: %w", err)
	}
	w.publishLifecycle()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return w.ingest(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return w.store(gctx)
	})

	serveErr := w.server.Serve(runCtx, w.listener)
	if serveErr != nil {
		logging.ErrorWithContext(w.logger, "control plane failed", "control_failed",
			logging.Error(serveErr),
			logging.String(logging.FieldErrorHint, "stop and kill are only available through signals"),
		)
	}
	w.ctrl.Stop()

	err := w.join(g)
	w.logger.Info("acquisition finished", snapshotAttrs(w.ctrl.Snapshot())...)
	return errors.Join(err, serveErr)
}

// join waits for ingest and storage. Past the shutdown deadline the run is
// killed so storage skips the parameter wait; past the grace period the
// process is terminated.
func (w *Writer) join(g *errgroup.Group) error {
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	deadline := time.NewTimer(w.cfg.ShutdownDeadline())
	defer deadline.Stop()
	select {
	case err := <-done:
		return err
	case <-deadline.C:
	}

	logging.WarnWithContext(w.logger, "shutdown deadline exceeded; killing acquisition", "shutdown_deadline",
		logging.Duration("deadline", w.cfg.ShutdownDeadline()),
		logging.String(logging.FieldState, w.ctrl.State().String()),
		logging.String(logging.FieldImpact, "format metadata will not be written"),
	)
	w.ctrl.Kill()

	grace := time.NewTimer(w.cfg.ForceExitGrace())
	defer grace.Stop()
	select {
	case err := <-done:
		return err
	case <-grace.C:
	}

	logging.ErrorWithContext(w.logger, "writer did not stop; forcing exit", "forced_exit",
		logging.String(logging.FieldState, w.ctrl.State().String()),
		logging.String(logging.FieldErrorHint, "inspect the output file; it may be incomplete"),
	)
	w.exit(ExitForced)
	return ErrForcedExit
}

func (w *Writer) publishLifecycle() {
	snap := w.ctrl.Snapshot()
	w.metrics.Lifecycle(int(snap.State), len(snap.MissingParameters))
}

func snapshotAttrs(snap acquisition.Snapshot) []any {
	return logging.Args(
		logging.String(logging.FieldState, snap.State.String()),
		logging.Bool("killed", snap.Killed),
		logging.Uint64("received", snap.ReceivedFrames),
		logging.Uint64("written", snap.WrittenFrames),
		logging.Uint64("dropped", snap.DroppedFrames),
		logging.String("stop_reason", snap.StopReason),
	)
}
