package cron_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/basket/slipterm/internal/bus"
	"github.com/basket/slipterm/internal/config"
	"github.com/basket/slipterm/internal/cron"
)

func TestInvalidCronExpressionIsSkippedWithoutPanicking(t *testing.T) {
	b := bus.New(nil)
	r := cron.New([]config.ScheduledCommand{
		{Name: "bad", Cron: "not a cron expression", Line: "/riot/board"},
	}, b, nil)
	r.Tick(time.Now())

	select {
	case ev := <-b.Receive():
		t.Fatalf("expected no event from an invalid schedule, got %+v", ev)
	default:
	}
}

func TestTickFiresDueEntryAsTerminalString(t *testing.T) {
	b := bus.New(nil)
	r := cron.New([]config.ScheduledCommand{
		{Name: "board", Cron: "* * * * *", Line: "/riot/board"},
	}, b, nil)

	// Force the entry due by ticking far enough in the future.
	r.Tick(time.Now().Add(2 * time.Minute))

	select {
	case ev := <-b.Receive():
		if ev.Kind != "TerminalString" {
			t.Fatalf("expected TerminalString event, got %s", ev.Kind)
		}
		payload := ev.Payload.(cron.TerminalStringEvent)
		if payload.Line != "/riot/board" {
			t.Fatalf("expected line /riot/board, got %q", payload.Line)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the due entry to fire")
	}
}

func TestRecordResultUpdatesStatusForMatchingEntry(t *testing.T) {
	b := bus.New(nil)
	r := cron.New([]config.ScheduledCommand{
		{Name: "board", Cron: "* * * * *", Line: "/riot/board"},
		{Name: "ver", Cron: "* * * * *", Line: "/riot/ver"},
	}, b, nil)

	now := time.Now()
	r.RecordResult("board", now, nil)
	r.RecordResult("ver", now, fmt.Errorf("unknown command: ver"))

	statuses := r.Status()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	byName := map[string]cron.Status{}
	for _, s := range statuses {
		byName[s.Name] = s
	}

	board := byName["board"]
	if board.LastErr != "" {
		t.Fatalf("expected board entry to have no error, got %q", board.LastErr)
	}
	if !board.LastRun.Equal(now) {
		t.Fatalf("expected board LastRun %v, got %v", now, board.LastRun)
	}

	ver := byName["ver"]
	if ver.LastErr != "unknown command: ver" {
		t.Fatalf("expected ver entry to record its error, got %q", ver.LastErr)
	}
}
