package tunnel_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/basket/slipterm/internal/bus"
	"github.com/basket/slipterm/internal/tunnel"
)

// fakeDevice is an in-memory Device that lets tests inject inbound
// packets and observe outbound writes, modeling the interrupt-driven
// blocking-read contract without a real OS TUN interface.
type fakeDevice struct {
	mu          sync.Mutex
	inbound     chan []byte
	interrupted chan struct{}
	written     [][]byte
	closed      bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		inbound:     make(chan []byte, 8),
		interrupted: make(chan struct{}, 8),
	}
}

func (f *fakeDevice) Name() string { return "slip0" }

func (f *fakeDevice) RecvIntr(buf []byte) (int, error) {
	select {
	case packet := <-f.inbound:
		return copy(buf, packet), nil
	case <-f.interrupted:
		return 0, tunnel.ErrInterrupted
	}
}

func (f *fakeDevice) Send(packet []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), packet...))
	return nil
}

func (f *fakeDevice) Interrupt() error {
	f.interrupted <- struct{}{}
	return nil
}

func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

func TestBridgePublishesInboundPackets(t *testing.T) {
	dev := newFakeDevice()
	b := bus.New(nil)
	br, err := tunnel.Open(func(name string) (tunnel.Device, error) { return dev, nil }, "slip0", b, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go br.Run(ctx)

	connected := <-b.Receive()
	if connected.Kind != "NetworkConnect" {
		t.Fatalf("expected NetworkConnect first, got %s", connected.Kind)
	}

	dev.inbound <- []byte{0x45, 0x00, 0x01}

	ev := <-b.Receive()
	if ev.Kind != "SendPacket" {
		t.Fatalf("expected SendPacket event, got %s", ev.Kind)
	}
	payload := ev.Payload.(tunnel.SendPacketEvent)
	if len(payload.Data) != 3 {
		t.Fatalf("expected 3-byte packet, got %d", len(payload.Data))
	}
}

func TestWritePacketDrainsOnInterrupt(t *testing.T) {
	dev := newFakeDevice()
	b := bus.New(nil)
	br, err := tunnel.Open(func(name string) (tunnel.Device, error) { return dev, nil }, "slip0", b, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	<-b.Receive() // NetworkConnect

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go br.Run(ctx)

	br.WritePacket([]byte{0xAA, 0xBB})

	deadline := time.After(2 * time.Second)
	for {
		dev.mu.Lock()
		n := len(dev.written)
		dev.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for interrupt-driven write")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
