// Package userinput implements the terminal edit buffer, history
// navigation, and output-redirection suffix parsing for one terminal
// session. It has no knowledge of the transport or the command registry:
// Manager only produces a Stripped line and a Sink; classification
// against the registry happens one layer up.
package userinput

import (
	"strings"

	"github.com/basket/slipterm/internal/job"
)

// Manager owns the editable buffer, cursor position, and history stack
// for one terminal session.
type Manager struct {
	buf      []rune
	cursor   int
	history  []string
	histPos  int // index into history while navigating; len(history) means "not navigating"
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{}
}

// Insert adds a rune at the cursor position.
func (m *Manager) Insert(r rune) {
	m.buf = append(m.buf[:m.cursor], append([]rune{r}, m.buf[m.cursor:]...)...)
	m.cursor++
}

// Backspace deletes the rune before the cursor, if any.
func (m *Manager) Backspace() {
	if m.cursor == 0 {
		return
	}
	m.buf = append(m.buf[:m.cursor-1], m.buf[m.cursor:]...)
	m.cursor--
}

// MoveCursor shifts the cursor by delta, clamped to the buffer bounds.
func (m *Manager) MoveCursor(delta int) {
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor > len(m.buf) {
		m.cursor = len(m.buf)
	}
}

// Text returns the current buffer contents.
func (m *Manager) Text() string {
	return string(m.buf)
}

// Cursor returns the current cursor position (in runes).
func (m *Manager) Cursor() int {
	return m.cursor
}

// Clear empties the buffer and resets the cursor.
func (m *Manager) Clear() {
	m.buf = nil
	m.cursor = 0
}

// HistoryUp navigates one step back in history, replacing the buffer
// contents. Returns false if already at the oldest entry.
func (m *Manager) HistoryUp() bool {
	if m.histPos == 0 {
		return false
	}
	m.histPos--
	m.setBuf(m.history[m.histPos])
	return true
}

// HistoryDown navigates one step forward in history. Past the newest
// entry it clears the buffer, matching a fresh line.
func (m *Manager) HistoryDown() bool {
	if m.histPos >= len(m.history) {
		return false
	}
	m.histPos++
	if m.histPos == len(m.history) {
		m.Clear()
		return true
	}
	m.setBuf(m.history[m.histPos])
	return true
}

// SetText replaces the buffer contents outright, moving the cursor to
// the end. Used by completion: the event loop computes the longest
// common prefix and the renderer applies it to the live edit buffer.
func (m *Manager) SetText(s string) {
	m.setBuf(s)
}

func (m *Manager) setBuf(s string) {
	m.buf = []rune(s)
	m.cursor = len(m.buf)
}

// Submit finalizes the current buffer as a submitted line: trims it,
// pushes it onto history (duplicate-suppressed, empties discarded), and
// clears the buffer. It returns the trimmed line.
func (m *Manager) Submit() string {
	line := strings.TrimSpace(m.Text())
	m.Clear()
	if line == "" {
		return line
	}
	if len(m.history) == 0 || m.history[len(m.history)-1] != line {
		m.history = append(m.history, line)
	}
	m.histPos = len(m.history)
	return line
}

// Redirection is the result of stripping a trailing output-redirection
// suffix from a submitted line.
type Redirection struct {
	Stripped string
	Sink     job.Sink
}

// ParseRedirection strips a trailing "> path" or "%> path" suffix.
// "%> -" redirects exported bytes to standard output. The
// suffix, if present, must be preceded by whitespace so that paths
// containing ">" inside a command's own arguments are not misread.
func ParseRedirection(line string) Redirection {
	if idx := lastSuffixIndex(line, "%>"); idx >= 0 {
		path := strings.TrimSpace(line[idx+2:])
		stripped := strings.TrimSpace(line[:idx])
		if path == "-" {
			return Redirection{Stripped: stripped, Sink: job.Sink{Kind: job.SinkWriteStdout}}
		}
		return Redirection{Stripped: stripped, Sink: job.Sink{Kind: job.SinkWriteBinary, Path: path}}
	}
	if idx := lastSuffixIndex(line, ">"); idx >= 0 {
		path := strings.TrimSpace(line[idx+1:])
		stripped := strings.TrimSpace(line[:idx])
		return Redirection{Stripped: stripped, Sink: job.Sink{Kind: job.SinkWriteText, Path: path}}
	}
	return Redirection{Stripped: line, Sink: job.Sink{Kind: job.SinkNone}}
}

// lastSuffixIndex finds the last occurrence of marker that is preceded
// by whitespace or is at the start of the string, so that e.g. a file
// path containing "%>" inside quoted args isn't mistaken for the
// redirection marker itself (a best-effort heuristic; the grammar here
// is deliberately simple command-line syntax, not shell syntax).
func lastSuffixIndex(line string, marker string) int {
	best := -1
	for i := 0; i+len(marker) <= len(line); i++ {
		if line[i:i+len(marker)] != marker {
			continue
		}
		if i > 0 && line[i-1] != ' ' && line[i-1] != '\t' {
			continue
		}
		best = i
	}
	return best
}
