package testsupport

import (
	"context"
	"sync"
	"time"

	"sfwriter/internal/frame"
	"sfwriter/internal/ingress"
)

// ScriptedAdapter replays queued frames. With nothing queued, Receive waits
// for the timeout and reports ingress.ErrTimeout, like a quiet stream.
type ScriptedAdapter struct {
	mu       sync.Mutex
	queue    []*frame.Frame
	timeout  time.Duration
	arrived  chan struct{}
	received int
	connects int
	closed   bool
}

// NewScriptedAdapter queues frames for delivery in order.
func NewScriptedAdapter(timeout time.Duration, frames ...*frame.Frame) *ScriptedAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	return &ScriptedAdapter{
		queue:   append([]*frame.Frame(nil), frames...),
		timeout: timeout,
		arrived: make(chan struct{}, 1),
	}
}

// Push queues more frames.
func (a *ScriptedAdapter) Push(frames ...*frame.Frame) {
	a.mu.Lock()
	a.queue = append(a.queue, frames...)
	a.mu.Unlock()
	select {
	case a.arrived <- struct{}{}:
	default:
	}
}

func (a *ScriptedAdapter) Connect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	return nil
}

func (a *ScriptedAdapter) Receive(ctx context.Context) (*frame.Frame, error) {
	if f, ok := a.next(); ok {
		return f, nil
	}
	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ingress.ErrTimeout
	case <-a.arrived:
		if f, ok := a.next(); ok {
			return f, nil
		}
		return nil, ingress.ErrTimeout
	}
}

func (a *ScriptedAdapter) next() (*frame.Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || len(a.queue) == 0 {
		return nil, false
	}
	f := a.queue[0]
	a.queue = a.queue[1:]
	a.received++
	return f, true
}

func (a *ScriptedAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Delivered is the number of frames handed out by Receive.
func (a *ScriptedAdapter) Delivered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received
}

// Pending is the number of queued frames not yet delivered.
func (a *ScriptedAdapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

func (a *ScriptedAdapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
