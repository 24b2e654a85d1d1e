package writer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sfwriter/internal/frame"
	"sfwriter/internal/ingress"
	"sfwriter/internal/logging"
	"sfwriter/internal/metrics"
)

// ingest receives frames into the ring buffer until the controller stops
// running. It never blocks longer than the receive timeout.
func (w *Writer) ingest(ctx context.Context) error {
	logger := logging.NewComponentLogger(w.logger, "ingest")
	defer func() {
		if err := w.ctrl.IngestFinished(); err != nil {
			logger.Debug("ingest finish transition skipped", logging.Error(err))
		}
		w.publishLifecycle()
		if err := w.adapter.Close(); err != nil {
			logging.WarnWithContext(logger, "close stream adapter", "adapter_close_failed", logging.Error(err))
		}
		logger.Info("ingest stopped", logging.Uint64("evicted", w.ring.Dropped()))
	}()

	if !w.connect(ctx, logger) {
		return nil
	}
	logger.Info("receiving frames", logging.String("address", w.inv.Address))

	for w.ctrl.IsRunning() && ctx.Err() == nil {
		f, err := w.adapter.Receive(ctx)
		switch {
		case err == nil:
			w.push(f, logger)
		case errors.Is(err, ingress.ErrTimeout):
			w.metrics.Timeout()
		case errors.Is(err, ingress.ErrMalformed):
			w.metrics.Dropped(metrics.DropMalformed)
			logging.WarnWithContext(logger, "malformed stream message discarded", "malformed_message",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the stream source's header format"),
			)
		default:
			w.metrics.ReceiveError()
			logger.Debug("receive failed", logging.Error(err))
		}
	}
	return nil
}

// connect retries until the adapter connects or the run stops.
func (w *Writer) connect(ctx context.Context, logger *slog.Logger) bool {
	retry := w.cfg.ReceiveTimeout()
	for w.ctrl.IsRunning() && ctx.Err() == nil {
		err := w.adapter.Connect(ctx)
		if err == nil {
			return true
		}
		w.metrics.ReceiveError()
		logging.WarnWithContext(logger, "stream connect failed; retrying", "connect_failed",
			logging.String("address", w.inv.Address),
			logging.Error(err),
			logging.Duration("retry_in", retry),
			logging.String(logging.FieldErrorHint, "check that the stream source is up"),
		)
		select {
		case <-ctx.Done():
		case <-w.ctrl.Changes():
		case <-time.After(retry):
		}
	}
	return false
}

// push hands f to storage. The received counter is incremented before the
// commit publishes the frame so written never exceeds received.
func (w *Writer) push(f *frame.Frame, logger *slog.Logger) {
	index := f.Index
	if len(f.Data) > w.ring.SlotBytes() {
		w.drop(index, metrics.DropOversized)
		logging.WarnWithContext(logger, "frame larger than ring slot dropped", "frame_oversized",
			logging.Uint64(logging.FieldFrameIndex, index),
			logging.Int("bytes", len(f.Data)),
			logging.Int("slot_bytes", w.ring.SlotBytes()),
			logging.String(logging.FieldErrorHint, "raise ring.slot_bytes"),
		)
		return
	}

	w.reportHeaderErrors(f, logger)

	h, err := w.ring.Acquire()
	if err != nil {
		w.drop(index, metrics.DropWouldBlock)
		logging.WarnWithContext(logger, "no ring slot available; frame dropped", "ring_would_block",
			logging.Uint64(logging.FieldFrameIndex, index),
			logging.Error(err),
		)
		return
	}
	if evicted, ok := h.Evicted(); ok {
		w.ctrl.DroppedFrame(evicted)
		w.metrics.Dropped(metrics.DropEvicted)
		logging.WarnWithContext(logger, "ring full; oldest frame evicted", "ring_evicted",
			logging.Uint64(logging.FieldFrameIndex, evicted),
			logging.Uint64("incoming_frame", index),
			logging.String(logging.FieldErrorHint, "storage is slower than the stream; raise ring.slots"),
		)
	}

	w.ctrl.ReceivedFrame(index)
	w.metrics.Received()
	if err := w.ring.Commit(h, f.Metadata, f.Data); err != nil {
		w.ctrl.DroppedFrame(index)
		w.metrics.Dropped(metrics.DropOversized)
		logging.WarnWithContext(logger, "commit to ring failed; frame dropped", "ring_commit_failed",
			logging.Uint64(logging.FieldFrameIndex, index),
			logging.Error(err),
		)
		return
	}
	w.metrics.Ring(w.ring.Len(), w.ring.Cap())
	logger.Debug("frame buffered", logging.Uint64(logging.FieldFrameIndex, index))
}

// reportHeaderErrors logs header fields whose values were unusable. The
// frame is kept; storage skips those fields like missing ones.
func (w *Writer) reportHeaderErrors(f *frame.Frame, logger *slog.Logger) {
	for name, err := range f.HeaderErrors {
		if w.invalidHeaders[name] {
			logger.Debug("header value unusable", logging.String("field", name), logging.Uint64(logging.FieldFrameIndex, f.Index), logging.Error(err))
			continue
		}
		w.invalidHeaders[name] = true
		logging.WarnWithContext(logger, "header value unusable; field skipped", "header_invalid",
			logging.String("field", name),
			logging.Uint64(logging.FieldFrameIndex, f.Index),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the stream source's header types; later occurrences are logged at debug level"),
		)
	}
}

// drop accounts for a frame that was received but never reached the buffer.
func (w *Writer) drop(index uint64, reason string) {
	w.ctrl.ReceivedFrame(index)
	w.ctrl.DroppedFrame(index)
	w.metrics.Received()
	w.metrics.Dropped(reason)
}
