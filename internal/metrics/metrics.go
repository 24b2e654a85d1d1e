// Package metrics exposes Prometheus instruments for the acquisition pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sfwriter"

// Drop reasons.
const (
	DropEvicted    = "evicted"
	DropOversized  = "oversized"
	DropWouldBlock = "would_block"
	DropMalformed  = "malformed"
	DropWriteError = "write_error"
)

// Metrics groups every instrument of one writer process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	FramesReceived    prometheus.Counter
	FramesWritten     prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	ReceiveTimeouts   prometheus.Counter
	ReceiveErrors     prometheus.Counter
	HeaderMissing     *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	WriteDuration     prometheus.Histogram
	RingFilled        prometheus.Gauge
	RingCapacity      prometheus.Gauge
	State             prometheus.Gauge
	ParametersMissing prometheus.Gauge
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames accepted from the stream and handed to the ring buffer.",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Frames persisted to the output container.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames discarded before being written, by reason.",
		}, []string{"reason"}),
		ReceiveTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_timeouts_total",
			Help:      "Stream receives that returned without a message.",
		}),
		ReceiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Stream receives that failed at the transport.",
		}),
		HeaderMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "header_fields_missing_total",
			Help:      "Configured header fields absent from a frame.",
		}, []string{"field"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Upstream pulse-id notifications, by kind and result.",
		}, []string{"kind", "result"}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_write_duration_seconds",
			Help:      "Time to persist one frame including its header fields.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		RingFilled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_buffer_filled_slots",
			Help:      "Committed frames waiting for storage.",
		}),
		RingCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_buffer_slots",
			Help:      "Total slots of the ring buffer.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "acquisition_state",
			Help:      "Lifecycle state: 0 initializing, 1 running, 2 stop requested, 3 draining, 4 parameters pending, 5 finalizing, 6 killed, 7 terminated.",
		}),
		ParametersMissing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parameters_missing",
			Help:      "Format parameters not yet submitted.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.FramesReceived, m.FramesWritten, m.FramesDropped, m.ReceiveTimeouts, m.ReceiveErrors,
		m.HeaderMissing, m.Notifications, m.WriteDuration, m.RingFilled, m.RingCapacity,
		m.State, m.ParametersMissing,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Received() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

func (m *Metrics) Written(d time.Duration) {
	if m == nil {
		return
	}
	m.FramesWritten.Inc()
	m.WriteDuration.Observe(d.Seconds())
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Timeout() {
	if m == nil {
		return
	}
	m.ReceiveTimeouts.Inc()
}

func (m *Metrics) ReceiveError() {
	if m == nil {
		return
	}
	m.ReceiveErrors.Inc()
}

func (m *Metrics) MissingHeader(field string) {
	if m == nil {
		return
	}
	m.HeaderMissing.WithLabelValues(field).Inc()
}

// Notification records one upstream call; err nil counts as success.
func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Notifications.WithLabelValues(kind, result).Inc()
}

// Ring publishes the buffer occupancy.
func (m *Metrics) Ring(filled, capacity int) {
	if m == nil {
		return
	}
	m.RingFilled.Set(float64(filled))
	m.RingCapacity.Set(float64(capacity))
}

// Lifecycle publishes the state number and missing parameter count.
func (m *Metrics) Lifecycle(state int, missingParameters int) {
	if m == nil {
		return
	}
	m.State.Set(float64(state))
	m.ParametersMissing.Set(float64(missingParameters))
}
