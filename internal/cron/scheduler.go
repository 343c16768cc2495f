// Package cron periodically fires scheduled command lines onto
// the event bus as though a user had typed them. It is grounded on a
// tick-driven scheduler shape, retargeted here to synthesize
// TerminalString events straight from config.ScheduledCommand entries
// instead of creating background tasks in a store.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/slipterm/internal/bus"
	"github.com/basket/slipterm/internal/config"
)

var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// TerminalStringEvent is the bus payload synthesized for a due
// scheduled command, matching the ordinary terminal-input event.
type TerminalStringEvent struct {
	Line   string
	Source string // the scheduled command's configured name, for logging
}

type scheduledEntry struct {
	name       string
	line       string
	cronExpr   string
	schedule   cronlib.Schedule
	next       time.Time
	lastRun    time.Time
	lastErrMsg string
}

// Status is the record a scheduled command's entry exposes for the
// status panel: name, command line, schedule, and the outcome of its
// most recent tick.
type Status struct {
	Name     string
	Line     string
	Schedule string
	LastRun  time.Time
	LastErr  string
}

// Runner fires due scheduled commands onto a Bus.
type Runner struct {
	bus      *bus.Bus
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	entries []scheduledEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Runner from the configured scheduled commands. Entries
// with an unparseable cron expression are skipped with a logged
// warning rather than aborting the whole configuration.
func New(commands []config.ScheduledCommand, b *bus.Bus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{bus: b, logger: logger, interval: time.Minute}
	now := time.Now()
	for _, c := range commands {
		sched, err := parser.Parse(c.Cron)
		if err != nil {
			logger.Warn("cronrunner: invalid cron expression, skipping", "name", c.Name, "cron", c.Cron, "error", err)
			continue
		}
		r.entries = append(r.entries, scheduledEntry{
			name:     c.Name,
			line:     c.Line,
			cronExpr: c.Cron,
			schedule: sched,
			next:     sched.Next(now),
		})
	}
	return r
}

// Start begins the tick loop in a background goroutine.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(time.Now())
		}
	}
}

// Tick checks every scheduled entry against now and fires those whose
// next run time has passed. Exported so tests can drive it
// deterministically instead of waiting on a real minute boundary.
func (r *Runner) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		e := &r.entries[i]
		if now.Before(e.next) {
			continue
		}
		r.bus.Send("TerminalString", TerminalStringEvent{Line: e.line, Source: e.name})
		e.next = e.schedule.Next(now)
	}
}

// RecordResult is called by the event loop once a scheduled command's
// dispatch outcome is known: nil for success, otherwise the error that
// made the tick fail (an unknown command name, or a descriptor's Parse
// error). It updates the named entry's last-run record, consumed by
// Status for the status panel.
func (r *Runner) RecordResult(name string, now time.Time, dispatchErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].name != name {
			continue
		}
		r.entries[i].lastRun = now
		if dispatchErr != nil {
			r.entries[i].lastErrMsg = dispatchErr.Error()
		} else {
			r.entries[i].lastErrMsg = ""
		}
		return
	}
}

// Status returns a snapshot of every scheduled entry's record, in
// configuration order.
func (r *Runner) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.entries))
	for i, e := range r.entries {
		out[i] = Status{
			Name:     e.name,
			Line:     e.line,
			Schedule: e.cronExpr,
			LastRun:  e.lastRun,
			LastErr:  e.lastErrMsg,
		}
	}
	return out
}
