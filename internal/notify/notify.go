package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"sfwriter/internal/logging"
	"sfwriter/internal/metrics"
)

// Notification kinds.
const (
	KindStart = "start"
	KindEnd   = "end"
)

// Notifier reports the first and last pulse id of a run.
type Notifier interface {
	// NotifyStart sends the first pulse id in the background and returns immediately.
	NotifyStart(pulseID uint64)
	// NotifyEnd sends the last pulse id and waits for the response.
	NotifyEnd(ctx context.Context, pulseID uint64) error
}

// Options configures New.
type Options struct {
	Address   string
	Timeout   time.Duration
	UserAgent string
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// New builds an HTTP notifier, or a no-op notifier when Address is empty.
func New(opts Options) Notifier {
	address := strings.TrimSpace(opts.Address)
	logger := logging.NewComponentLogger(opts.Logger, "notify")
	if address == "" {
		logger.Info("no upstream address configured; pulse-id notifications disabled")
		return Noop{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		endpoint:  address,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		userAgent: opts.UserAgent,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

type startBody struct {
	StartPulseID uint64 `json:"start_pulse_id"`
}

type stopBody struct {
	StopPulseID uint64 `json:"stop_pulse_id"`
}

// HTTP PUTs JSON bodies to the upstream endpoint.
type HTTP struct {
	endpoint  string
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
	metrics   *metrics.Metrics

	inflight sync.WaitGroup
}

func (h *HTTP) NotifyStart(pulseID uint64) {
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.logger.Info("sending first pulse id",
			logging.Uint64(logging.FieldPulseID, pulseID),
			logging.String("endpoint", h.endpoint),
		)
		err := h.put(ctx, startBody{StartPulseID: pulseID})
		h.metrics.Notification(KindStart, err)
		if err != nil {
			logging.WarnWithContext(h.logger, "start notification failed", "notify_start_failed",
				logging.Uint64(logging.FieldPulseID, pulseID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the upstream address"),
			)
		}
	}()
}

func (h *HTTP) NotifyEnd(ctx context.Context, pulseID uint64) error {
	h.logger.Info("sending last pulse id",
		logging.Uint64(logging.FieldPulseID, pulseID),
		logging.String("endpoint", h.endpoint),
	)
	err := h.put(ctx, stopBody{StopPulseID: pulseID})
	h.metrics.Notification(KindEnd, err)
	if err != nil {
		logging.WarnWithContext(h.logger, "end notification failed", "notify_end_failed",
			logging.Uint64(logging.FieldPulseID, pulseID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the upstream address"),
			logging.String(logging.FieldImpact, "upstream keeps streaming until stopped manually"),
		)
	}
	return err
}

// Wait blocks until in-flight start notifications have finished.
func (h *HTTP) Wait() {
	h.inflight.Wait()
}

func (h *HTTP) put(ctx context.Context, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Noop discards notifications.
type Noop struct{}

func (Noop) NotifyStart(uint64) {}

func (Noop) NotifyEnd(context.Context, uint64) error { return nil }
