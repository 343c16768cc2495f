// Package difflog implements the diagnostic log: a line-buffered
// record of incoming diagnostic text. Bytes may arrive mid-line; the
// log concatenates fragments and splits only on newline. Carriage
// returns and tabs are stripped because they break terminal rendering.
package difflog

import (
	"strings"
	"time"
)

// Line is one completed diagnostic line with its arrival timestamp.
type Line struct {
	Text   string
	Arrived time.Time
}

// Log accumulates diagnostic text fragments into completed lines.
type Log struct {
	lines   []Line
	partial strings.Builder
}

// New returns an empty Log.
func New() *Log {
	return &Log{}
}

// Feed appends a fragment of diagnostic text, completing zero or more
// lines. now is the arrival timestamp stamped on any line completed by
// this call.
func (l *Log) Feed(fragment string, now time.Time) []Line {
	var completed []Line
	for _, r := range fragment {
		switch r {
		case '\r', '\t':
			continue
		case '\n':
			completed = append(completed, Line{Text: l.partial.String(), Arrived: now})
			l.lines = append(l.lines, completed[len(completed)-1])
			l.partial.Reset()
		default:
			l.partial.WriteRune(r)
		}
	}
	return completed
}

// Lines returns every completed line so far, in arrival order.
func (l *Log) Lines() []Line {
	return l.lines
}
