package packetlog_test

import (
	"testing"
	"time"

	"github.com/basket/slipterm/internal/packetlog"
)

func TestAppendDecodesIPv4Headline(t *testing.T) {
	l := packetlog.New()
	raw := make([]byte, 20)
	raw[0] = 0x45 // version 4, IHL 5
	raw[8] = 64   // hop limit / TTL
	raw[9] = 17   // UDP
	copy(raw[12:16], []byte{10, 0, 0, 1})
	copy(raw[16:20], []byte{10, 0, 0, 2})

	e := l.Append(packetlog.ToHost, raw, time.Now())
	if e.Source != "10.0.0.1" || e.Destination != "10.0.0.2" {
		t.Fatalf("got src=%q dst=%q", e.Source, e.Destination)
	}
	if e.NextProto != 17 || e.HopLimit != 64 {
		t.Fatalf("got proto=%d hoplimit=%d", e.NextProto, e.HopLimit)
	}
	if len(l.Entries()) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(l.Entries()))
	}
}

func TestAppendDirectionTagging(t *testing.T) {
	l := packetlog.New()
	l.Append(packetlog.ToNode, []byte{0x60}, time.Now())
	if l.Entries()[0].Direction != packetlog.ToNode {
		t.Fatal("expected ToNode direction preserved")
	}
}
