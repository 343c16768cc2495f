package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/slipterm/internal/bus"
	"github.com/basket/slipterm/internal/config"
	"github.com/basket/slipterm/internal/cron"
	"github.com/basket/slipterm/internal/payloadindex"
	"github.com/basket/slipterm/internal/slipmux"
	"github.com/basket/slipterm/internal/transport"
	"github.com/basket/slipterm/internal/tui"
)

type fakeRenderer struct {
	views []tui.AppView
}

func (f *fakeRenderer) Send(msg tea.Msg) {
	if sm, ok := msg.(tui.StateMsg); ok {
		f.views = append(f.views, sm.View)
	}
}

func newTestApp() (*App, *fakeRenderer, *[]slipmux.Frame) {
	b := bus.New(nil)
	var sent []slipmux.Frame
	a := New(b, nil, func(f slipmux.Frame) { sent = append(sent, f) })
	r := &fakeRenderer{}
	a.AttachRenderer(r)
	return a, r, &sent
}

func TestHandleLineHelpProducesNotice(t *testing.T) {
	a, r, _ := newTestApp()
	a.handleLine("help", "")
	a.render()

	if len(r.views) == 0 {
		t.Fatal("expected at least one rendered view")
	}
	last := r.views[len(r.views)-1]
	found := false
	for _, line := range last.DiagLines {
		if line != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected help output in rendered diagnostic lines, got %+v", last.DiagLines)
	}
}

func TestDispatchDiagnosticAppendsLineAndRenders(t *testing.T) {
	a, r, _ := newTestApp()
	a.dispatch(bus.Event{Kind: "Diagnostic", Payload: transport.FrameEvent{Frame: slipmux.NewDiagnostic("hello\n")}})
	a.render()

	if a.diagLog.Lines()[0].Text != "hello" {
		t.Fatalf("expected diagnostic log to record the line, got %+v", a.diagLog.Lines())
	}
	last := r.views[len(r.views)-1]
	if !containsLine(last.DiagLines, "hello") {
		t.Fatalf("expected rendered view to include the diagnostic line, got %+v", last.DiagLines)
	}
}

func TestDispatchRawDiagnosticForwardsFrame(t *testing.T) {
	a, _, sent := newTestApp()
	a.handleLine("not a known command", "")

	if len(*sent) != 1 {
		t.Fatalf("expected one outbound frame, got %d", len(*sent))
	}
	if (*sent)[0].Kind != slipmux.Diagnostic || (*sent)[0].Text != "not a known command" {
		t.Fatalf("expected raw diagnostic frame, got %+v", (*sent)[0])
	}
}

func TestDispatchRawCoAPIssuesRequest(t *testing.T) {
	a, _, sent := newTestApp()
	a.handleLine("/riot/board", "")

	if len(*sent) != 1 {
		t.Fatalf("expected one outbound frame, got %d", len(*sent))
	}
	if (*sent)[0].Kind != slipmux.Configuration {
		t.Fatalf("expected a CoAP configuration frame, got %+v", (*sent)[0])
	}
}

func TestConnectedEventTriggersDiscoveryRequests(t *testing.T) {
	a, _, sent := newTestApp()
	a.dispatch(bus.Event{Kind: "Connected", Payload: transport.ConnectedEvent{}})

	if !a.connected {
		t.Fatal("expected connected flag set")
	}
	if len(*sent) != 3 {
		t.Fatalf("expected 3 discovery requests (well-known/core, board, ver), got %d", len(*sent))
	}
}

func TestTerminalEOFWithNoJobsEndsRunQuickly(t *testing.T) {
	a, _, _ := newTestApp()
	a.dispatch(bus.Event{Kind: "TerminalEOF"})
	if !a.eofSeen {
		t.Fatal("expected eofSeen set")
	}
	if time.Since(a.eofAt) > time.Second {
		t.Fatal("expected eofAt to be recent")
	}
}

func TestScheduledUnknownCommandRecordsFailureOnRunner(t *testing.T) {
	a, _, _ := newTestApp()
	b := bus.New(nil)
	runner := cron.New([]config.ScheduledCommand{
		{Name: "bogus", Cron: "* * * * *", Line: "not a known command"},
	}, b, nil)
	a.AttachCronRunner(runner)

	a.handleLine("not a known command", "bogus")

	statuses := runner.Status()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status entry, got %d", len(statuses))
	}
	if statuses[0].LastErr == "" {
		t.Fatal("expected scheduled dispatch of an unknown command to record a failure")
	}
	if statuses[0].LastRun.IsZero() {
		t.Fatal("expected LastRun to be set")
	}
}

func TestScheduledKnownCommandRecordsSuccessOnRunner(t *testing.T) {
	a, _, _ := newTestApp()
	b := bus.New(nil)
	runner := cron.New([]config.ScheduledCommand{
		{Name: "board", Cron: "* * * * *", Line: "/riot/board"},
	}, b, nil)
	a.AttachCronRunner(runner)

	a.handleLine("/riot/board", "board")

	statuses := runner.Status()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status entry, got %d", len(statuses))
	}
	if statuses[0].LastErr != "" {
		t.Fatalf("expected no failure recorded, got %q", statuses[0].LastErr)
	}
}

func TestHistoryBuiltinListsRecentExports(t *testing.T) {
	a, r, _ := newTestApp()
	idx, err := payloadindex.Open(filepath.Join(t.TempDir(), "exports.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()
	if _, err := idx.Record(context.Background(), payloadindex.Record{
		JobID: 3, SinkPath: "/tmp/out.bin", ByteLength: 128, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	a.AttachPayloadIndex(idx)

	a.handleLine("history", "")
	a.render()

	last := r.views[len(r.views)-1]
	if !containsSubstringInLines(last.DiagLines, "/tmp/out.bin") {
		t.Fatalf("expected history output to mention the saved export, got %+v", last.DiagLines)
	}
}

func TestHistoryBuiltinWithoutPayloadIndexReportsEmpty(t *testing.T) {
	a, r, _ := newTestApp()
	a.handleLine("history", "")
	a.render()

	last := r.views[len(r.views)-1]
	if !containsSubstringInLines(last.DiagLines, "no saved exports recorded") {
		t.Fatalf("expected a no-history notice, got %+v", last.DiagLines)
	}
}

func containsSubstringInLines(lines []string, want string) bool {
	for _, l := range lines {
		if len(l) >= len(want) {
			for i := 0; i+len(want) <= len(l); i++ {
				if l[i:i+len(want)] == want {
					return true
				}
			}
		}
	}
	return false
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
