package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"sfwriter/internal/frame"
	"sfwriter/internal/logging"
)

// ZMQ receives frames from a ZeroMQ PUSH stream through a PULL socket.
//
// The socket is drained by a reader goroutine so Receive can bound its wait;
// zmq4 sockets offer no per-call receive deadline.
type ZMQ struct {
	address string
	timeout time.Duration
	decoder *Decoder
	logger  *slog.Logger

	mu      sync.Mutex
	sock    zmq4.Socket
	cancel  context.CancelFunc
	msgs    chan zmq4.Msg
	done    chan struct{}
	readErr error
}

// NewZMQ returns an unconnected adapter for address.
func NewZMQ(address string, timeout time.Duration, decoder *Decoder, logger *slog.Logger) *ZMQ {
	return &ZMQ{
		address: address,
		timeout: timeout,
		decoder: decoder,
		logger:  logging.NewComponentLogger(logger, "ingress"),
	}
}

// Connect dials the stream and starts the reader goroutine.
func (z *ZMQ) Connect(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.sock != nil {
		return nil
	}

	sockCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sock := zmq4.NewPull(sockCtx)
	if err := sock.Dial(z.address); err != nil {
		cancel()
		_ = sock.Close()
		return fmt.Errorf("connect %s: %w", z.address, err)
	}

	z.sock = sock
	z.cancel = cancel
	z.msgs = make(chan zmq4.Msg)
	z.done = make(chan struct{})
	z.readErr = nil
	go z.read(sockCtx, sock, z.msgs, z.done)

	z.logger.Info("connected to stream", logging.String("address", z.address))
	return nil
}

func (z *ZMQ) read(ctx context.Context, sock zmq4.Socket, out chan<- zmq4.Msg, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() == nil {
				z.mu.Lock()
				z.readErr = err
				z.mu.Unlock()
				logging.WarnWithContext(z.logger, "stream receive failed", "ingress_receive_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check that the detector stream is reachable"),
					logging.String(logging.FieldImpact, "no further frames will be received"),
				)
			}
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Receive waits up to the configured timeout for the next frame.
func (z *ZMQ) Receive(ctx context.Context) (*frame.Frame, error) {
	z.mu.Lock()
	msgs := z.msgs
	z.mu.Unlock()
	if msgs == nil {
		return nil, ErrReceiverStopped
	}

	timer := time.NewTimer(z.timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-msgs:
		if !ok {
			// Wait out the timeout so a dead transport does not spin the ingest loop.
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
			return nil, z.stoppedErr()
		}
		return z.decoder.Decode(msg.Frames)
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (z *ZMQ) stoppedErr() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.readErr != nil {
		return fmt.Errorf("%w: %v", ErrReceiverStopped, z.readErr)
	}
	return ErrReceiverStopped
}

// Close stops the reader goroutine and closes the socket.
func (z *ZMQ) Close() error {
	z.mu.Lock()
	sock, cancel, done := z.sock, z.cancel, z.done
	z.sock = nil
	z.mu.Unlock()
	if sock == nil {
		return nil
	}

	cancel()
	err := sock.Close()
	<-done
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close stream socket: %w", err)
	}
	z.logger.Info("stream closed", logging.String("address", z.address))
	return nil
}
