// Package tunnel implements the host-side TUN bridge: a reader goroutine
// blocked on an interruptible read from the device, and a writer
// goroutine that triggers the interrupt and
// enqueues outbound packets for the reader to drain and write once it
// wakes. No third-party TUN binding exists anywhere in the example
// corpus this module was grounded on, so Device is a narrow interface
// slipterm defines itself (mirroring transport.Conn) rather than
// depending on a library that was never exercised anywhere in the
// codebase; a real TUN implementation plugs in by satisfying it.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/basket/slipterm/internal/bus"
)

// Device is the host-side virtual network interface. RecvIntr blocks
// until either a packet arrives or Interrupt is called, in which case
// it returns ErrInterrupted. Name reports the interface's resolved name
// (possibly with an assigned address appended, as the device reports
// it once brought up).
type Device interface {
	Name() string
	RecvIntr(buf []byte) (n int, err error)
	Send(packet []byte) error
	Interrupt() error
	Close() error
}

// ErrInterrupted is returned by Device.RecvIntr when Interrupt was
// called while it was blocked.
var ErrInterrupted = fmt.Errorf("tunnel: read interrupted")

// SetupError is returned when opening the TUN device fails, with a
// Hint identifying the likely cause so the caller can print a targeted
// diagnostic instead of a bare I/O error.
type SetupError struct {
	Interface string
	Hint      string
	Err       error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("tunnel: failed to open %q: %s (%v)", e.Interface, e.Hint, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Opener constructs a Device bound to the given interface name. Setup
// failures are not retried.
type Opener func(name string) (Device, error)

// SendPacketEvent carries one packet read from the tunnel device,
// destined for the transport writer.
type SendPacketEvent struct {
	Data []byte
}

// NetworkConnectEvent announces the tunnel device came up, carrying its
// resolved name (and address, if the device reports one).
type NetworkConnectEvent struct {
	Name string
}

// Bridge owns one TUN device for the life of the process.
type Bridge struct {
	dev    Device
	bus    *bus.Bus
	logger *slog.Logger

	outbound chan []byte
}

// Open opens the interface via opener and returns a ready Bridge, or a
// *SetupError on failure.
func Open(opener Opener, name string, b *bus.Bus, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dev, err := opener(name)
	if err != nil {
		return nil, err
	}
	br := &Bridge{dev: dev, bus: b, logger: logger, outbound: make(chan []byte, 64)}
	b.Send("NetworkConnect", NetworkConnectEvent{Name: dev.Name()})
	return br, nil
}

// WritePacket enqueues a packet for delivery to the device: it triggers
// the read interruptor and hands the bytes off for the reader to drain
// on wake.
func (b *Bridge) WritePacket(packet []byte) {
	b.outbound <- packet
	if err := b.dev.Interrupt(); err != nil {
		b.logger.Warn("tunnel: interrupt failed", "error", err)
	}
}

// Run drives the blocking-read loop until ctx is cancelled or the
// device reports a fatal error. Each inbound packet is published as a
// SendPacketEvent; on an interrupt, any queued outbound packet is
// drained and written before resuming the blocking read.
func (b *Bridge) Run(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := b.dev.RecvIntr(buf)
		if err != nil {
			if err == ErrInterrupted {
				b.drainOutbound()
				continue
			}
			b.logger.Warn("tunnel: read error", "error", err)
			return
		}
		if n == 0 {
			b.logger.Warn("tunnel: read zero bytes, closing bridge")
			return
		}
		packet := append([]byte(nil), buf[:n]...)
		b.bus.TrySend("SendPacket", SendPacketEvent{Data: packet})
	}
}

func (b *Bridge) drainOutbound() {
	select {
	case packet := <-b.outbound:
		if err := b.dev.Send(packet); err != nil {
			b.logger.Warn("tunnel: write error", "error", err)
		}
	default:
	}
}

// Close releases the underlying device.
func (b *Bridge) Close() error {
	return b.dev.Close()
}
