// Package job implements the command handler contract and the job table
// that the exchange engine drives. A Handler is a small state machine
// that owns one logical multi-step CoAP interaction; a Job wraps a
// Handler with its output sink, log, and timestamps; a Table maps the
// current token of every in-flight job to that job, re-keying as
// handlers issue follow-up requests.
package job

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/basket/slipterm/internal/coap"
)

// Handler is the five-method lifecycle contract every command handler
// satisfies. The engine never calls these methods concurrently on the
// same handler, and never calls them from more than one goroutine: the
// job table lives entirely on the event-loop thread.
type Handler interface {
	// Init is called exactly once and returns the seed request. The
	// engine attaches token and message-id before transmission.
	Init() coap.Message

	// Handle is called once per response whose token matches the
	// handler's current token. ok is false when the handler has
	// nothing further to send.
	Handle(resp coap.Message) (next coap.Message, ok bool)

	// WantDisplay reports whether Display should be invoked once the
	// handler finishes (some handlers only export bytes and have
	// nothing worth printing).
	WantDisplay() bool

	// IsFinished reports whether the handler has reached a terminal
	// state. Checked by the engine after every Handle call whose ok
	// return was false.
	IsFinished() bool

	// Display writes a user-visible textual rendering to sink.
	Display(sink io.Writer)

	// Export returns a binary rendering. The default implementation
	// for simple handlers is the UTF-8 bytes of Display's output.
	Export() []byte
}

// Sink selects where a job's rendered or exported output is realized
// once the handler finishes.
type Sink struct {
	Kind SinkKind
	Path string
}

type SinkKind int

const (
	SinkNone SinkKind = iota
	SinkWriteText
	SinkWriteBinary
	SinkWriteStdout
)

// Job pairs a Handler with the bookkeeping the engine and UI need: the
// originating command line, a running log of display output, the
// output sink, and timestamps.
type Job struct {
	ID        uint64
	Handler   Handler
	Sink      Sink
	CLIText   string
	LogText   bytes.Buffer
	StartTime time.Time
	EndTime   time.Time
	Finished  bool
}

// Table maps the current token digest of every in-flight job to that
// job. It is not safe for concurrent use: callers (the exchange engine)
// run exclusively on the event-loop goroutine, so no locking is needed
// here — adding one would misrepresent the ownership model.
type Table struct {
	jobs     map[uint64]*Job
	finished []*Job
	nextID   uint64
}

// NewTable returns an empty job table.
func NewTable() *Table {
	return &Table{jobs: make(map[uint64]*Job)}
}

// Insert installs a job under the given token digest. Used both when a
// job is first created (its seed request's token) and when a handler
// re-keys to a follow-up request's token.
func (t *Table) Insert(tokenDigest uint64, j *Job) {
	t.jobs[tokenDigest] = j
}

// Lookup returns the job currently keyed by tokenDigest, if any.
func (t *Table) Lookup(tokenDigest uint64) (*Job, bool) {
	j, ok := t.jobs[tokenDigest]
	return j, ok
}

// Rekey atomically moves a job from its old token digest to a new one.
// Atomicity here just means "happens entirely within one call on the
// single event-loop goroutine", which is sufficient because no other
// goroutine ever observes the table mid-update.
func (t *Table) Rekey(oldDigest, newDigest uint64, j *Job) {
	delete(t.jobs, oldDigest)
	t.jobs[newDigest] = j
}

// Remove deletes the job keyed by tokenDigest without finalizing it
// (used when a job errors out of the table without a clean finish).
func (t *Table) Remove(tokenDigest uint64) {
	delete(t.jobs, tokenDigest)
}

// Finalize removes a job from the live table, renders/exports it to its
// configured sink, and appends it to the finished-jobs list.
func (t *Table) Finalize(tokenDigest uint64, j *Job, now time.Time) error {
	delete(t.jobs, tokenDigest)
	j.EndTime = now
	j.Finished = true

	if j.Handler.WantDisplay() {
		j.Handler.Display(&j.LogText)
	}

	var sinkErr error
	switch j.Sink.Kind {
	case SinkWriteText:
		sinkErr = writeFile(j.Sink.Path, j.LogText.Bytes())
	case SinkWriteBinary:
		data := j.Handler.Export()
		sinkErr = writeFile(j.Sink.Path, data)
		if sinkErr == nil {
			fmt.Fprintf(&j.LogText, "\n(binary saved to: %s)\n", j.Sink.Path)
		}
	case SinkWriteStdout:
		data := j.Handler.Export()
		fmt.Fprintf(&j.LogText, "\n%s\n", data)
	}
	if sinkErr != nil {
		// File sink error: captured into the job's log and surfaced on
		// next display, never aborts the job.
		fmt.Fprintf(&j.LogText, "\n(sink error: %v)\n", sinkErr)
	}

	t.finished = append(t.finished, j)
	return sinkErr
}

// Finished returns the list of jobs that have reached completion, in
// finalize order.
func (t *Table) Finished() []*Job {
	return t.finished
}

// Len returns the number of in-flight jobs.
func (t *Table) Len() int {
	return len(t.jobs)
}

// NextID allocates a monotonically increasing job id.
func (t *Table) NextID() uint64 {
	t.nextID++
	return t.nextID
}
