// Package transport owns the byte-stream handle to the device: a reader
// loop that feeds the Slipmux decoder and emits bus events per frame,
// and a writer loop that serializes outbound frames onto the same
// handle. Both loops run on their own goroutine; the handle itself is
// never touched by the event loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/basket/slipterm/internal/bus"
	"github.com/basket/slipterm/internal/shared"
	"github.com/basket/slipterm/internal/slipmux"
)

// Conn is any bidirectional byte stream: a UNIX domain socket, a serial
// port, or an in-memory pipe for tests.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a fresh Conn to the device, retried with backoff by the
// reader loop on failure.
type Dialer func(ctx context.Context) (Conn, error)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 15 * time.Second
	readBufferSize = 4096
)

// Transport pairs a Dialer with the bus it publishes frame and
// connection-lifecycle events to, and accepts outbound frames over its
// own send queue.
type Transport struct {
	dial   Dialer
	bus    *bus.Bus
	logger *slog.Logger

	outbound chan slipmux.Frame
}

// New returns a Transport that dials with d and publishes to b.
func New(d Dialer, b *bus.Bus, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		dial:     d,
		bus:      b,
		logger:   logger,
		outbound: make(chan slipmux.Frame, 64),
	}
}

// Send enqueues a frame for the writer loop. Safe to call from any
// goroutine.
func (t *Transport) Send(f slipmux.Frame) {
	t.outbound <- f
}

// Run drives the reconnect/read loop until ctx is cancelled: open with
// backoff, emit Connected, read-and-decode until error, emit
// Disconnected, retry. Each successful connection gets a fresh trace id
// attached to the context and to every log line from its reader and
// writer goroutines, so one connection's lifetime can be grepped out of
// interleaved logs.
func (t *Transport) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := t.dial(ctx)
		if err != nil {
			t.logger.Warn("transport: dial failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff
		t.bus.Send("Connected", ConnectedEvent{})

		traceID := shared.NewTraceID()
		connCtx := shared.WithTraceID(ctx, traceID)
		connLogger := t.logger.With("trace_id", traceID)

		writerDone := make(chan struct{})
		writerCtx, cancelWriter := context.WithCancel(connCtx)
		go t.writeLoop(writerCtx, conn, connLogger, writerDone)

		t.readLoop(connCtx, conn, connLogger)

		cancelWriter()
		<-writerDone
		conn.Close()
		t.bus.Send("Disconnected", DisconnectedEvent{})
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// ConnectedEvent and DisconnectedEvent are the bus payloads for
// transport lifecycle transitions.
type ConnectedEvent struct{}
type DisconnectedEvent struct{}

// FrameEvent wraps one decoded Slipmux frame for the bus.
type FrameEvent struct {
	Frame slipmux.Frame
}

// DecodeErrorEvent reports a per-frame Slipmux decode error:
// never fatal, just surfaced for logging.
type DecodeErrorEvent struct {
	Err error
}

func (t *Transport) readLoop(ctx context.Context, conn Conn, logger *slog.Logger) {
	decoder := slipmux.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			for _, result := range decoder.Push(buf[:n]) {
				if result.Err != nil {
					t.bus.Send("DecodeError", DecodeErrorEvent{Err: result.Err})
					continue
				}
				t.bus.Send(frameEventKind(result.Frame), FrameEvent{Frame: result.Frame})
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("transport: read error", "error", err)
			}
			return
		}
	}
}

func frameEventKind(f slipmux.Frame) string {
	switch f.Kind {
	case slipmux.Diagnostic:
		return "Diagnostic"
	case slipmux.Configuration:
		return "Configuration"
	default:
		return "Packet"
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn Conn, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-t.outbound:
			encoded := slipmux.Encode(frame)
			if _, err := conn.Write(encoded); err != nil {
				logger.Warn("transport: write error", "error", err)
				return
			}
		}
	}
}

// ErrUnsupportedTransport is returned by Dialers that don't recognize a
// requested transport path scheme.
var ErrUnsupportedTransport = fmt.Errorf("transport: unsupported transport path")
