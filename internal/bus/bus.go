// Package bus provides the single event channel that glues every worker
// goroutine in slipterm to the event loop. Producers are the transport
// reader/writer, the terminal-input reader, the tunnel bridge, the cron
// runner, and the event loop itself (for follow-up events it emits back
// onto the same channel). There is exactly one consumer: the event loop.
package bus

import (
	"log/slog"
	"sync/atomic"
)

const defaultCapacity = 256

// Event is a single value carried on the bus. Event bodies are defined by
// the app package; bus itself is payload-agnostic.
type Event struct {
	Kind    string
	Payload interface{}
}

// Bus is a multi-producer, single-consumer channel of Events. Unlike a
// fan-out pub/sub bus, Bus never duplicates an event across subscribers:
// there is one Receive() channel, shared by whichever goroutine is acting
// as the event loop. Secondary observers that need visibility into state
// (the status server, the Telegram relay) are expected to consume
// published snapshots instead of subscribing to the bus directly, so the
// MPSC discipline never becomes MPMC.
type Bus struct {
	ch     chan Event
	logger *slog.Logger

	dropped atomic.Int64
}

// New creates a Bus with the default buffer capacity.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ch:     make(chan Event, defaultCapacity),
		logger: logger,
	}
}

// Send delivers an event to the consumer, blocking if the buffer is full.
// Producer goroutines should use Send rather than TrySend unless they must
// never block (e.g. a caller holding a lock the consumer might need).
func (b *Bus) Send(kind string, payload interface{}) {
	b.ch <- Event{Kind: kind, Payload: payload}
}

// TrySend delivers an event without blocking. If the buffer is full the
// event is dropped and the drop counter is incremented; this is used by
// producers (like the tunnel reader) that must not stall their own read
// loop waiting on a slow consumer.
func (b *Bus) TrySend(kind string, payload interface{}) bool {
	select {
	case b.ch <- Event{Kind: kind, Payload: payload}:
		return true
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("bus: dropped event, consumer not keeping up", "kind", kind, "total_dropped", n)
		return false
	}
}

// Receive returns the single consumer-side channel. Only the event loop
// should read from it.
func (b *Bus) Receive() <-chan Event {
	return b.ch
}

// DroppedCount returns the number of events dropped by TrySend so far.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}
