// Package ingress receives detector frames from the network stream.
//
// Each stream message has two parts: a JSON metadata document and the raw
// frame payload. Receive waits at most the configured timeout so the ingest
// loop can observe a stop request promptly.
package ingress

import (
	"context"
	"errors"

	"sfwriter/internal/frame"
)

var (
	// ErrTimeout is returned by Receive when no message arrived in time.
	ErrTimeout = errors.New("receive timed out")
	// ErrReceiverStopped is returned by Receive once the transport has failed or closed.
	ErrReceiverStopped = errors.New("receiver stopped")
	// ErrMalformed wraps messages that could not be decoded into a frame.
	ErrMalformed = errors.New("malformed message")
)

// Adapter is a source of frames.
type Adapter interface {
	Connect(ctx context.Context) error
	// Receive returns the next frame, ErrTimeout, or a transport error.
	Receive(ctx context.Context) (*frame.Frame, error)
	Close() error
}
