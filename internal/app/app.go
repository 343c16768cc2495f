// Package app owns the event loop: the single goroutine that consumes
// the bus, mutates every piece of session state
// (the CoAP log, diagnostic log, packet log, job table, command
// registry, endpoint inventory, device metadata), and republishes a
// render-only snapshot after each event that changed something visible.
// No other goroutine ever touches this state; everything crosses into
// and out of App through bus events or the published snapshot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/basket/slipterm/internal/bus"
	"github.com/basket/slipterm/internal/coap"
	"github.com/basket/slipterm/internal/coaplog"
	"github.com/basket/slipterm/internal/command"
	"github.com/basket/slipterm/internal/cron"
	"github.com/basket/slipterm/internal/difflog"
	"github.com/basket/slipterm/internal/exchange"
	"github.com/basket/slipterm/internal/job"
	"github.com/basket/slipterm/internal/otel"
	"github.com/basket/slipterm/internal/packetlog"
	"github.com/basket/slipterm/internal/payloadindex"
	"github.com/basket/slipterm/internal/relay"
	"github.com/basket/slipterm/internal/scripted"
	"github.com/basket/slipterm/internal/shared"
	"github.com/basket/slipterm/internal/slipmux"
	"github.com/basket/slipterm/internal/statusserver"
	"github.com/basket/slipterm/internal/transport"
	"github.com/basket/slipterm/internal/tui"
	"github.com/basket/slipterm/internal/tunnel"
	"github.com/basket/slipterm/internal/userinput"
)

const noticeBacklog = 500
const idleShutdownTimeout = 3 * time.Second

// renderer is the subset of *tea.Program App needs, so tests can supply
// a fake instead of a live terminal program.
type renderer interface {
	Send(tea.Msg)
}

// App is the event-loop owner. Construct with New, optionally attach a
// renderer/status server/tunnel bridge/relay, then call Run.
type App struct {
	bus    *bus.Bus
	logger *slog.Logger

	coapLog   *coaplog.Log
	diagLog   *difflog.Log
	packetLog *packetlog.Log
	jobs      *job.Table
	registry  *command.Registry
	engine    *exchange.Engine
	payloads  *payloadindex.Index

	connected  bool
	notices    []string
	renderedFinished int

	completionHead       string
	completionCandidates []string

	program      renderer
	status       *statusserver.Server
	tunnelBridge *tunnel.Bridge
	metrics      *otel.Metrics
	scriptHost   *scripted.Host
	cronRunner   *cron.Runner

	relayLines chan<- relay.LineEvent
	relayJobs  chan<- relay.JobSummaryEvent

	sendFrame func(slipmux.Frame)

	eofSeen  bool
	eofAt    time.Time

	lastReportedJobCount int
}

// New wires up every core package into a fresh App. sendFrame is called
// with every outbound frame the engine or tunnel bridge produces; wire
// it to a transport.Transport's Send method.
func New(b *bus.Bus, logger *slog.Logger, sendFrame func(slipmux.Frame)) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		bus:       b,
		logger:    logger,
		coapLog:   coaplog.New(),
		diagLog:   difflog.New(),
		packetLog: packetlog.New(),
		jobs:      job.NewTable(),
		registry:  command.New(),
		sendFrame: sendFrame,
	}
	a.engine = exchange.New(a.coapLog, a.jobs, a.registry, sendFrame)
	a.registerBuiltins()
	return a
}

// AttachRenderer wires an interactive bubbletea program so App pushes a
// StateMsg after every state-changing event.
func (a *App) AttachRenderer(p renderer) { a.program = p }

// AttachStatusServer wires the headless-mode status server.
func (a *App) AttachStatusServer(s *statusserver.Server) { a.status = s }

// AttachTunnel wires the TUN bridge so inbound device packets are
// forwarded to the host interface.
func (a *App) AttachTunnel(br *tunnel.Bridge) { a.tunnelBridge = br }

// AttachMetrics wires OpenTelemetry instrument recording into the event
// loop and the exchange engine's issue/match hooks.
func (a *App) AttachMetrics(m *otel.Metrics) {
	a.metrics = m
	a.engine.OnIssue = func(coap.Message) {
		m.RequestsIssued.Add(context.Background(), 1)
	}
	a.engine.OnMatch = func() {
		m.ResponsesMatched.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("bucket", "log")))
	}
}

// AttachPayloadIndex wires the saved-export metadata index.
func (a *App) AttachPayloadIndex(idx *payloadindex.Index) { a.payloads = idx }

// AttachCronRunner wires the scheduled-command runner so the event loop
// can report each tick's dispatch outcome back onto its records and
// surface them in the status panel.
func (a *App) AttachCronRunner(r *cron.Runner) { a.cronRunner = r }

// AttachRelay wires the read-only Telegram mirror's input channels.
func (a *App) AttachRelay(lines chan<- relay.LineEvent, jobs chan<- relay.JobSummaryEvent) {
	a.relayLines = lines
	a.relayJobs = jobs
}

// AttachScriptHost wires a wazero runtime for loading WASM-scripted
// command handlers. Once attached, LoadScriptsDir can populate the
// command registry with whatever modules it finds.
func (a *App) AttachScriptHost(host *scripted.Host) { a.scriptHost = host }

// LoadScriptsDir compiles and registers every ".wasm" file under dir as
// a command named after its filename (minus extension). Each
// invocation gets its own module instance, so two jobs running the
// same script never share guest memory.
func (a *App) LoadScriptsDir(ctx context.Context, dir string) error {
	if a.scriptHost == nil || dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("app: read scripts dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".wasm" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".wasm")
		path := filepath.Join(dir, entry.Name())
		wasmBytes, err := os.ReadFile(path)
		if err != nil {
			a.logger.Warn("app: skipping unreadable script", "path", path, "error", err)
			continue
		}
		if err := a.registerScript(ctx, name, wasmBytes); err != nil {
			a.logger.Warn("app: skipping script", "path", path, "error", err)
		}
	}
	return nil
}

func (a *App) registerScript(ctx context.Context, name string, wasmBytes []byte) error {
	module, err := a.scriptHost.Load(ctx, name, wasmBytes)
	if err != nil {
		return err
	}
	a.registry.Register(&command.Descriptor{
		Name:        name,
		Description: "scripted command (" + name + ".wasm)",
		Parse: func(string) (command.Outcome, error) {
			return command.Outcome{Kind: command.OutcomeCoAP, Handler: module.NewHandler()}, nil
		},
	})
	return nil
}

func (a *App) registerBuiltins() {
	a.registry.Register(&command.Descriptor{
		Name:        "help",
		Description: "List available commands",
		Parse: func(string) (command.Outcome, error) {
			return command.Outcome{Kind: command.OutcomeInternal, Builtin: "help"}, nil
		},
	})
	a.registry.Register(&command.Descriptor{
		Name:        "history",
		Description: "List recent saved exports",
		Parse: func(string) (command.Outcome, error) {
			return command.Outcome{Kind: command.OutcomeInternal, Builtin: "history"}, nil
		},
	})
}

const historyDefaultLimit = 20

// Run drives the event loop until ctx is canceled, a fatal bus
// disconnect occurs, or (in headless mode, signaled by a prior
// TerminalEOF event) every in-flight job finishes or the idle timeout
// elapses.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-a.bus.Receive():
			if !ok {
				return fmt.Errorf("app: event bus closed")
			}
			a.dispatch(ev)
			a.render()

		case <-ticker.C:
			if a.eofSeen && a.jobs.Len() == 0 {
				return nil
			}
			if a.eofSeen && time.Since(a.eofAt) > idleShutdownTimeout {
				return nil
			}
		}
	}
}

func (a *App) dispatch(ev bus.Event) {
	now := time.Now()
	switch ev.Kind {
	case "Connected":
		a.connected = true
		a.note("connected")
		a.onConnect()

	case "Disconnected":
		a.connected = false
		a.note("disconnected")
		if a.metrics != nil {
			a.metrics.ReconnectCount.Add(context.Background(), 1)
		}

	case "Diagnostic":
		frame := ev.Payload.(transport.FrameEvent).Frame
		a.diagLog.Feed(frame.Text, now)
		a.countFrame("diagnostic")
		a.mirrorLine(frame.Text, now)

	case "Configuration":
		frame := ev.Payload.(transport.FrameEvent).Frame
		a.countFrame("configuration")
		if err := a.engine.HandleConfiguration(frame.Data); err != nil {
			a.note("protocol error: " + err.Error())
		}
		a.drainFinishedJobs(now)

	case "Packet":
		frame := ev.Payload.(transport.FrameEvent).Frame
		a.countFrame("packet")
		a.packetLog.Append(packetlog.ToHost, frame.Data, now)
		if a.tunnelBridge != nil {
			a.tunnelBridge.WritePacket(frame.Data)
		}
		a.countTunnelPacket("toHost")

	case "DecodeError":
		err := ev.Payload.(transport.DecodeErrorEvent).Err
		a.note("framing error: " + err.Error())

	case "NetworkConnect":
		name := ev.Payload.(tunnel.NetworkConnectEvent).Name
		a.note("tunnel interface up: " + name)

	case "SendPacket":
		data := ev.Payload.(tunnel.SendPacketEvent).Data
		a.packetLog.Append(packetlog.ToNode, data, now)
		a.countTunnelPacket("toNode")
		if a.sendFrame != nil {
			a.sendFrame(slipmux.NewPacket(data))
		}

	case tui.TerminalLineEvent:
		a.handleLine(ev.Payload.(string), "")

	case "TerminalString":
		scheduled := ev.Payload.(cron.TerminalStringEvent)
		a.handleLine(scheduled.Line, scheduled.Source)

	case "TerminalEOF":
		a.eofSeen = true
		a.eofAt = now

	case tui.CompletionRequestEvent:
		a.handleCompletion(ev.Payload.(string))
	}
}

func (a *App) onConnect() {
	a.engine.IssueRequest(coap.NewGetRequest("/.well-known/core"))
	a.engine.IssueRequest(coap.NewGetRequest("/riot/board"))
	a.engine.IssueRequest(coap.NewGetRequest("/riot/ver"))
}

func (a *App) handleCompletion(prefix string) {
	head, candidates := a.registry.Complete(prefix)
	a.completionHead = head
	a.completionCandidates = make([]string, 0, len(candidates))
	for _, d := range candidates {
		a.completionCandidates = append(a.completionCandidates, fmt.Sprintf("%-20s %s", d.Name, d.Description))
	}
}

// handleLine processes one submitted command line, whether typed
// interactively or synthesized by the cron runner. source is a label
// for scheduled invocations, empty for interactive ones. Scheduled
// invocations additionally report their dispatch outcome back to the
// cron runner, so an unknown command name or a descriptor's Parse error
// is recorded as a failure on that command's record rather than
// silently forwarded as diagnostic text.
func (a *App) handleLine(line, source string) {
	redir := userinput.ParseRedirection(line)
	classified := a.registry.Classify(redir.Stripped)

	var dispatchErr error
	switch classified.Kind {
	case command.InputRawCoAP:
		a.engine.IssueRequest(coap.NewGetRequest(classified.Path))

	case command.InputRawDiagnostic:
		if source != "" {
			dispatchErr = fmt.Errorf("unknown command: %s", firstField(classified.Text))
			a.note(dispatchErr.Error())
		} else if a.sendFrame != nil {
			a.sendFrame(slipmux.NewDiagnostic(classified.Text))
		}

	case command.InputCommand:
		args := strings.TrimSpace(strings.TrimPrefix(classified.Text, classified.Descriptor.Name))
		outcome, err := classified.Descriptor.Parse(args)
		if err != nil {
			dispatchErr = err
			a.note(err.Error())
		} else {
			a.applyOutcome(line, outcome, redir)
		}
	}

	if source == "" {
		return
	}
	if dispatchErr != nil {
		a.note(fmt.Sprintf("scheduled command %q failed: %s", source, dispatchErr.Error()))
	} else {
		a.note(fmt.Sprintf("scheduled command %q fired: %s", source, line))
	}
	if a.cronRunner != nil {
		a.cronRunner.RecordResult(source, time.Now(), dispatchErr)
	}
}

func firstField(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return text
	}
	return fields[0]
}

func (a *App) applyOutcome(cliText string, outcome command.Outcome, redir userinput.Redirection) {
	switch outcome.Kind {
	case command.OutcomeText:
		if a.sendFrame != nil {
			a.sendFrame(slipmux.NewDiagnostic(outcome.Text))
		}

	case command.OutcomeCoAP:
		handler, ok := outcome.Handler.(job.Handler)
		if !ok {
			a.note("internal error: command produced no handler")
			return
		}
		j := &job.Job{
			ID:        a.jobs.NextID(),
			Handler:   handler,
			Sink:      redir.Sink,
			CLIText:   cliText,
			StartTime: time.Now(),
		}
		a.engine.StartJob(j)

	case command.OutcomeInternal:
		a.runBuiltin(outcome.Builtin)
	}
}

func (a *App) runBuiltin(name string) {
	switch name {
	case "help":
		var b strings.Builder
		for _, d := range a.registry.Available() {
			fmt.Fprintf(&b, "%-20s %s\n", d.Name, d.Description)
		}
		a.note(b.String())
	case "history":
		a.runHistory()
	default:
		a.note("unknown builtin: " + name)
	}
}

// runHistory lists the most recent saved exports from the payload
// index. Available even without an attached index; it just reports
// that nothing has been recorded.
func (a *App) runHistory() {
	if a.payloads == nil {
		a.note("no saved exports recorded")
		return
	}
	records, err := a.payloads.Recent(context.Background(), historyDefaultLimit)
	if err != nil {
		a.note("history: " + err.Error())
		return
	}
	if len(records) == 0 {
		a.note("no saved exports recorded")
		return
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "#%d  job %d  %-30s %8d bytes  %s  %s\n",
			r.ID, r.JobID, r.SinkPath, r.ByteLength, r.ContentFormat, r.CreatedAt.Format(time.RFC3339))
	}
	a.note(b.String())
}

func (a *App) drainFinishedJobs(now time.Time) {
	finished := a.jobs.Finished()
	for ; a.renderedFinished < len(finished); a.renderedFinished++ {
		j := finished[a.renderedFinished]
		text := j.LogText.String()
		a.note(text)
		if a.relayJobs != nil {
			select {
			case a.relayJobs <- relay.JobSummaryEvent{ID: j.ID, CLIText: shared.Redact(j.CLIText), Duration: j.EndTime.Sub(j.StartTime), Summary: shared.Redact(firstLine(text))}:
			default:
			}
		}
		if a.payloads != nil && j.Sink.Kind != job.SinkNone {
			length := len(j.Handler.Export())
			a.payloads.Record(context.Background(), payloadindex.Record{
				JobID: j.ID, SinkPath: j.Sink.Path, ByteLength: int64(length), CreatedAt: now,
			})
		}
	}
}

func (a *App) note(text string) {
	if text == "" {
		return
	}
	a.notices = append(a.notices, text)
	if len(a.notices) > noticeBacklog {
		a.notices = a.notices[len(a.notices)-noticeBacklog:]
	}
}

func (a *App) mirrorLine(text string, arrived time.Time) {
	if a.relayLines == nil {
		return
	}
	select {
	case a.relayLines <- relay.LineEvent{Text: shared.Redact(text), Arrived: arrived}:
	default:
	}
}

func (a *App) countFrame(channel string) {
	if a.metrics == nil {
		return
	}
	a.metrics.FramesDecoded.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("channel", channel)))
}

func (a *App) countTunnelPacket(direction string) {
	if a.metrics == nil {
		return
	}
	a.metrics.TunnelPackets.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("direction", direction)))
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// render builds the current snapshot and publishes it to whichever
// observers are attached.
func (a *App) render() {
	lines := a.diagLog.Lines()
	view := tui.AppView{
		Connected:      a.connected,
		Board:          a.engine.Metadata.Board,
		Version:        a.engine.Metadata.Version,
		JobsInFlight:   a.jobs.Len(),
		JobsFinished:   len(a.jobs.Finished()),
		Completions:    a.completionCandidates,
		CompletionHead: a.completionHead,
	}
	view.DiagLines = append(view.DiagLines, tailLines(lines, 200)...)
	view.DiagLines = append(view.DiagLines, a.notices...)
	a.completionHead = ""
	a.completionCandidates = nil

	if a.program != nil {
		a.program.Send(tui.StateMsg{View: view})
	}
	if a.status != nil {
		snap := statusserver.Snapshot{
			Timestamp:       time.Now(),
			Connected:       view.Connected,
			Board:           view.Board,
			Version:         view.Version,
			JobsInFlight:    view.JobsInFlight,
			JobsFinished:    view.JobsFinished,
			RecentDiagLines: lastStrings(view.DiagLines, 20),
		}
		for _, d := range a.registry.Available() {
			snap.Inventory = append(snap.Inventory, d.Name)
		}
		if a.cronRunner != nil {
			for _, s := range a.cronRunner.Status() {
				snap.ScheduledCmds = append(snap.ScheduledCmds, statusserver.ScheduledCmdView{
					Name:     s.Name,
					Line:     s.Line,
					Schedule: s.Schedule,
					LastRun:  s.LastRun,
					LastErr:  s.LastErr,
				})
			}
		}
		a.status.Publish(snap)
	}
	if a.metrics != nil {
		current := a.jobs.Len()
		if delta := current - a.lastReportedJobCount; delta != 0 {
			a.metrics.JobTableSize.Add(context.Background(), int64(delta))
			a.lastReportedJobCount = current
		}
	}
}


func tailLines(lines []difflog.Line, n int) []string {
	start := 0
	if len(lines) > n {
		start = len(lines) - n
	}
	out := make([]string, 0, len(lines)-start)
	for _, l := range lines[start:] {
		out = append(out, l.Text)
	}
	return out
}

func lastStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}
