// Package acquisition holds the shared lifecycle state of one acquisition:
// counters, the stop and kill flags, format parameters, and the state machine
// that ingest, storage, and the control plane coordinate through.
package acquisition

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sfwriter/internal/format"
	"sfwriter/internal/logging"
)

var (
	// ErrUnknownParameter is returned when a submitted name is not declared by the format.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrInvalidParameter is returned when a submitted value does not match its declared type.
	ErrInvalidParameter = errors.New("invalid parameter value")
	// ErrIllegalTransition is returned when a lifecycle change is not allowed from the current state.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// Options configures a Controller.
type Options struct {
	RunID        string
	OutputPath   string
	TargetFrames uint64
	// Parameters declares every format parameter and its type.
	Parameters map[string]format.ParameterType
	// Defaults pre-populates parameters that need not be submitted.
	Defaults map[string]any
	Logger   *slog.Logger
	Now      func() time.Time
}

// Controller is safe for concurrent use by every goroutine of a run.
type Controller struct {
	mu sync.Mutex

	runID      string
	outputPath string
	target     uint64

	state  State
	killed bool
	reason string

	received     uint64
	written      uint64
	dropped      uint64
	lastReceived uint64
	lastWritten  uint64

	paramTypes map[string]format.ParameterType
	params     map[string]any

	startedAt time.Time
	stoppedAt time.Time

	changes chan struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a controller in the Initializing state.
func New(opts Options) (*Controller, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Controller{
		runID:      opts.RunID,
		outputPath: opts.OutputPath,
		target:     opts.TargetFrames,
		state:      StateInitializing,
		paramTypes: make(map[string]format.ParameterType, len(opts.Parameters)),
		params:     make(map[string]any, len(opts.Parameters)),
		changes:    make(chan struct{}, 1),
		logger:     logging.NewComponentLogger(opts.Logger, "acquisition"),
		now:        now,
	}
	for name, kind := range opts.Parameters {
		c.paramTypes[name] = kind
	}
	for name, value := range opts.Defaults {
		coerced, err := c.coerce(name, value)
		if err != nil {
			return nil, fmt.Errorf("parameter default: %w", err)
		}
		c.params[name] = coerced
	}
	return c, nil
}

// Start moves the run into Running. A stop requested before Start is kept:
// the run starts already stopping and goes straight to draining.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopRequested && c.startedAt.IsZero() {
		c.startedAt = c.now()
		c.stoppedAt = c.startedAt
		return nil
	}
	if err := c.transitionLocked(StateRunning); err != nil {
		return err
	}
	c.startedAt = c.now()
	return nil
}

// IsRunning reports whether ingest should keep receiving.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRunning
}

// IngestActive reports whether ingest may still commit frames.
func (c *Controller) IngestActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateInitializing, StateRunning, StateStopRequested:
		return true
	default:
		return false
	}
}

// ReceivedFrame records a frame handed to the buffer. Reaching the target
// frame count requests a stop.
func (c *Controller) ReceivedFrame(index uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received++
	c.lastReceived = index
	if c.target > 0 && c.received >= c.target && c.state == StateRunning {
		c.requestStopLocked("target frame count reached")
	}
}

// WrittenFrame records a frame persisted by the sink.
func (c *Controller) WrittenFrame(index uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written++
	c.lastWritten = index
}

// DroppedFrame records a frame that was received but will never be written.
func (c *Controller) DroppedFrame(index uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
	c.logger.Debug("frame dropped", logging.Uint64(logging.FieldFrameIndex, index))
}

// Stop requests a graceful stop. Repeated calls are no-ops.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestStopLocked("stop requested")
}

// Kill abandons the wait for parameters and also requests a stop.
func (c *Controller) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.killed {
		c.killed = true
		c.logger.Info("kill requested", logging.String(logging.FieldState, c.state.String()))
	}
	c.requestStopLocked("kill requested")
	c.signalLocked()
}

func (c *Controller) IsKilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

func (c *Controller) requestStopLocked(reason string) {
	switch c.state {
	case StateInitializing, StateRunning:
	default:
		return
	}
	if err := c.transitionLocked(StateStopRequested); err != nil {
		return
	}
	c.reason = reason
	c.stoppedAt = c.now()
	c.signalLocked()
}

// IngestFinished marks the end of ingest. Storage drains what remains.
func (c *Controller) IngestFinished() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning || c.state == StateInitializing {
		c.requestStopLocked("ingest exited")
	}
	return c.transitionLocked(StateDraining)
}

// BeginParameters moves the run into ParametersPending after the buffer drained.
func (c *Controller) BeginParameters() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StateParametersPending)
}

// Finalize moves ParametersPending into Finalizing.
func (c *Controller) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StateFinalizing)
}

// Abandon moves ParametersPending into Killed; format metadata is skipped.
func (c *Controller) Abandon() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StateKilled)
}

// Terminate records that the container has been closed.
func (c *Controller) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StateTerminated)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) transitionLocked(to State) error {
	from := c.state
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		logging.WarnWithContext(c.logger, "illegal state transition rejected", "illegal_transition",
			logging.String("from", from.String()),
			logging.String("to", to.String()),
			logging.String(logging.FieldImpact, "state unchanged"),
		)
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	c.state = to
	c.logger.Info("state changed",
		logging.String("from", from.String()),
		logging.String(logging.FieldState, to.String()),
	)
	c.signalLocked()
	return nil
}

// Changes is signalled on stop, kill, parameter submission, and state changes.
// Signals are coalesced.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) signalLocked() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
