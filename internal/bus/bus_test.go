package bus_test

import (
	"testing"
	"time"

	"github.com/basket/slipterm/internal/bus"
)

func TestSendReceiveOrder(t *testing.T) {
	b := bus.New(nil)
	go func() {
		b.Send("a", 1)
		b.Send("b", 2)
		b.Send("c", 3)
	}()

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-b.Receive():
			got = append(got, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", got, want)
		}
	}
}

func TestTrySendDropsWhenFull(t *testing.T) {
	b := bus.New(nil)
	// Fill the buffer without a consumer draining it.
	sent := 0
	for b.TrySend("fill", nil) {
		sent++
		if sent > 10000 {
			t.Fatal("buffer never reported full")
		}
	}
	if b.DroppedCount() == 0 {
		t.Fatal("expected at least one dropped event")
	}
}

func TestReceiveIsSingleChannel(t *testing.T) {
	b := bus.New(nil)
	ch1 := b.Receive()
	ch2 := b.Receive()
	if ch1 != ch2 {
		t.Fatal("Receive should always return the same underlying channel")
	}
}
