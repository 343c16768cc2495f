// Package packetlog implements the append-only packet log: every IP
// packet shuttled through the tunnel bridge, tagged by direction and
// decoded into its headline fields.
package packetlog

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Direction identifies which way a packet travelled through the bridge.
type Direction int

const (
	ToHost Direction = iota
	ToNode
)

func (d Direction) String() string {
	if d == ToHost {
		return "toHost"
	}
	return "toNode"
}

// Entry is one decoded packet headline.
type Entry struct {
	Arrived     time.Time
	Direction   Direction
	Source      string
	Destination string
	NextProto   uint8
	HopLimit    uint8
	PayloadLen  int
	Raw         []byte
}

// Log accumulates packet entries in arrival order.
type Log struct {
	entries []Entry
}

// New returns an empty Log.
func New() *Log {
	return &Log{}
}

// Append decodes raw IPv4/IPv6 headline fields and records the packet.
// Decode failures (too short, unknown version) still produce an entry
// with best-effort fields rather than being dropped, since the packet
// log is a diagnostic aid, not a protocol validator.
func (l *Log) Append(dir Direction, raw []byte, now time.Time) Entry {
	e := Entry{Arrived: now, Direction: dir, PayloadLen: len(raw), Raw: raw}
	if len(raw) == 0 {
		l.entries = append(l.entries, e)
		return e
	}

	version := raw[0] >> 4
	switch version {
	case 4:
		if len(raw) >= 20 {
			e.Source = ipv4String(raw[12:16])
			e.Destination = ipv4String(raw[16:20])
			e.NextProto = raw[9]
			e.HopLimit = raw[8]
		}
	case 6:
		if len(raw) >= 40 {
			e.Source = ipv6String(raw[8:24])
			e.Destination = ipv6String(raw[24:40])
			e.NextProto = raw[6]
			e.HopLimit = raw[7]
		}
	}

	l.entries = append(l.entries, e)
	return e
}

// Entries returns every logged packet in arrival order.
func (l *Log) Entries() []Entry {
	return l.entries
}

func ipv4String(b []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

func ipv6String(b []byte) string {
	var groups [8]uint16
	for i := 0; i < 8; i++ {
		groups[i] = binary.BigEndian.Uint16(b[i*2 : i*2+2])
	}
	s := ""
	for i, g := range groups {
		if i > 0 {
			s += ":"
		}
		s += fmt.Sprintf("%x", g)
	}
	return s
}
