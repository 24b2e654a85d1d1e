package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sfwriter/internal/frame"
	"sfwriter/internal/logging"
	"sfwriter/internal/metrics"
	"sfwriter/internal/ringbuffer"
	"sfwriter/internal/storage"
)

// pulseTracker remembers the first and last pulse id seen by storage.
type pulseTracker struct {
	seen  bool
	first uint64
	last  uint64
}

// observe records id and reports whether it was the first one.
func (p *pulseTracker) observe(id uint64) bool {
	p.last = id
	if p.seen {
		return false
	}
	p.seen = true
	p.first = id
	return true
}

// store drains the ring buffer into the sink, then finalizes the file. Sink
// writes ignore ctx cancellation so a kill never truncates a frame that was
// already claimed.
func (w *Writer) store(ctx context.Context) error {
	logger := logging.NewComponentLogger(w.logger, "storage")
	writeCtx := context.WithoutCancel(ctx)

	var (
		pulses        pulseTracker
		missingLogged = make(map[string]bool)
	)
	retry := time.NewTicker(w.cfg.ReadRetryInterval())
	defer retry.Stop()

	for w.ctrl.IngestActive() || !w.ring.IsEmpty() {
		h, ok := w.ring.TryClaim()
		if !ok {
			select {
			case <-w.ring.Ready():
			case <-retry.C:
			}
			continue
		}
		w.writeFrame(writeCtx, h, &pulses, missingLogged, logger)
	}
	logger.Info("buffer drained", snapshotAttrs(w.ctrl.Snapshot())...)

	if pulses.seen {
		_ = w.notifier.NotifyEnd(writeCtx, pulses.last)
	}
	return w.finalize(ctx, writeCtx, logger)
}

func (w *Writer) writeFrame(ctx context.Context, h *ringbuffer.Handle, pulses *pulseTracker, missingLogged map[string]bool, logger *slog.Logger) {
	start := time.Now()
	meta := h.Metadata()
	index := meta.Index

	raw := storage.Dataset{
		Name:       w.cfg.Storage.RawDataset,
		Shape:      meta.Shape,
		DType:      meta.DType,
		Endianness: meta.Endianness,
	}
	dataErr := w.sink.WriteData(ctx, raw, index, h.Data())
	if dataErr != nil {
		logging.ErrorWithContext(logger, "frame write failed", "frame_write_failed",
			logging.Uint64(logging.FieldFrameIndex, index),
			logging.Error(dataErr),
			logging.String(logging.FieldErrorHint, "check free space and the output file"),
		)
	}

	for _, field := range w.headers {
		value, ok := meta.Header[field.name]
		if !ok {
			w.metrics.MissingHeader(field.name)
			if !missingLogged[field.name] {
				missingLogged[field.name] = true
				logging.WarnWithContext(logger, "header field missing; skipping", "header_missing",
					logging.String("field", field.name),
					logging.Uint64(logging.FieldFrameIndex, index),
					logging.String(logging.FieldErrorHint, "later frames missing this field are logged at debug level"),
				)
			} else {
				logger.Debug("header field missing", logging.String("field", field.name), logging.Uint64(logging.FieldFrameIndex, index))
			}
			continue
		}
		scalar := storage.Dataset{
			Name:       field.name,
			Shape:      []uint64{1},
			DType:      field.dtype,
			Endianness: frame.LittleEndian,
		}
		if err := w.sink.WriteData(ctx, scalar, index, value); err != nil {
			logging.WarnWithContext(logger, "header write failed", "header_write_failed",
				logging.String("field", field.name),
				logging.Uint64(logging.FieldFrameIndex, index),
				logging.Error(err),
			)
		}
	}

	if value, ok := meta.Header[w.cfg.Header.PulseIDField]; ok {
		if id, ok := frame.DecodeUint64(value); ok && pulses.observe(id) {
			w.notifier.NotifyStart(id)
		}
	}

	if err := w.ring.Release(h); err != nil {
		logging.ErrorWithContext(logger, "ring release failed", "ring_release_failed",
			logging.Uint64(logging.FieldFrameIndex, index),
			logging.Error(err),
		)
	}
	w.metrics.Ring(w.ring.Len(), w.ring.Cap())

	if dataErr != nil {
		w.ctrl.DroppedFrame(index)
		w.metrics.Dropped(metrics.DropWriteError)
		return
	}
	w.ctrl.WrittenFrame(index)
	w.metrics.Written(time.Since(start))
}

// finalize waits for parameters, writes format metadata when they are all
// present, and closes the sink unconditionally.
func (w *Writer) finalize(ctx, writeCtx context.Context, logger *slog.Logger) error {
	if w.sink.IsOpen() {
		w.finalizeFormat(ctx, writeCtx, logger)
	}

	closeErr := w.sink.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close output: %w", closeErr)
		logging.ErrorWithContext(logger, "closing output failed", "close_failed", logging.Error(closeErr))
	} else {
		logger.Info("output closed", logging.String("output", w.inv.OutputPath))
	}

	if err := w.ctrl.Terminate(); err != nil {
		logger.Debug("terminate transition skipped", logging.Error(err))
	}
	w.publishLifecycle()
	return closeErr
}

func (w *Writer) finalizeFormat(ctx, writeCtx context.Context, logger *slog.Logger) {
	if err := w.ctrl.BeginParameters(); err != nil {
		logger.Debug("parameters transition skipped", logging.Error(err))
	}
	w.publishLifecycle()

	if missing := w.ctrl.MissingParameters(); len(missing) > 0 {
		logger.Info("waiting for format parameters", logging.Any("missing", missing))
	}
	if !w.ctrl.WaitForParameters(ctx, w.cfg.ParametersRetryInterval()) {
		if err := w.ctrl.Abandon(); err != nil {
			logger.Debug("abandon transition skipped", logging.Error(err))
		}
		logging.WarnWithContext(logger, "format metadata skipped", "format_skipped",
			logging.Bool("killed", w.ctrl.IsKilled()),
			logging.Any("missing", w.ctrl.MissingParameters()),
			logging.String(logging.FieldImpact, "image data is kept without format metadata"),
		)
		return
	}

	if err := w.ctrl.Finalize(); err != nil {
		logger.Debug("finalize transition skipped", logging.Error(err))
	}
	w.publishLifecycle()
	if err := w.format.Write(writeCtx, w.sink, w.ctrl.Parameters()); err != nil {
		logging.ErrorWithContext(logger, "format metadata write failed; image data kept", "format_write_failed",
			logging.String("format", w.format.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "re-add the metadata offline from the parameters in this log"),
		)
		return
	}
	logger.Info("format metadata written", logging.String("format", w.format.Name))
}
