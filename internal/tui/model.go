// Package tui is the interactive terminal renderer: a thin bubbletea
// Model that owns only the input edit buffer and the last state snapshot
// pushed to it. All session state — the CoAP log, diagnostic log, job
// table, command registry — lives in the app package's event loop; the
// model never reaches into it directly, it only renders what arrives in
// a StateMsg and emits bus events for what the operator types.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/slipterm/internal/bus"
	"github.com/basket/slipterm/internal/userinput"
)

// AppView is the render-only snapshot the event loop publishes after
// processing each bus event. It never carries the live log/table values
// themselves, only what the renderer needs to draw.
type AppView struct {
	Connected      bool
	Board          string
	Version        string
	DiagLines      []string
	StatusLine     string
	JobsInFlight   int
	JobsFinished   int
	Completions    []string
	CompletionHead string
	Err            error
}

// StateMsg carries a fresh AppView from the event loop into the model.
type StateMsg struct{ View AppView }

// Model is the bubbletea model for slipterm's interactive console.
type Model struct {
	bus   *bus.Bus
	input *userinput.Manager
	theme Theme

	view   AppView
	width  int
	height int

	showCompletion bool
}

// NewModel returns a Model that publishes terminal-input bus events on b
// and renders whatever StateMsg values arrive from the event loop.
func NewModel(b *bus.Bus, theme Theme) Model {
	return Model{bus: b, input: userinput.New(), theme: theme}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// TerminalLineEvent is the bus event kind a submitted line is published
// under; the event loop classifies and dispatches it.
const TerminalLineEvent = "TerminalLine"

// CompletionRequestEvent asks the event loop to compute prefix
// completions for the current buffer contents.
const CompletionRequestEvent = "CompletionRequest"

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.view = msg.View
		m.showCompletion = len(msg.View.Completions) > 0
		if msg.View.CompletionHead != "" {
			m.input.SetText(msg.View.CompletionHead)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+d":
		return m, tea.Quit

	case "enter":
		line := m.input.Submit()
		m.showCompletion = false
		if line == "" {
			return m, nil
		}
		if m.bus != nil {
			m.bus.Send(TerminalLineEvent, line)
		}
		return m, nil

	case "backspace":
		m.input.Backspace()
		return m, nil

	case "left":
		m.input.MoveCursor(-1)
		return m, nil

	case "right":
		m.input.MoveCursor(1)
		return m, nil

	case "up":
		m.input.HistoryUp()
		return m, nil

	case "down":
		m.input.HistoryDown()
		return m, nil

	case "tab":
		if m.bus != nil {
			m.bus.Send(CompletionRequestEvent, m.input.Text())
		}
		return m, nil

	default:
		if msg.Type == tea.KeyRunes {
			for _, r := range msg.Runes {
				m.input.Insert(r)
			}
		}
		return m, nil
	}
}

func (m Model) View() string {
	var b strings.Builder

	status := "disconnected"
	if m.view.Connected {
		status = "connected"
	}
	header := fmt.Sprintf("slipterm — %s", status)
	if m.view.Board != "" {
		header += fmt.Sprintf(" — %s", m.view.Board)
	}
	if m.view.Version != "" {
		header += fmt.Sprintf(" (%s)", m.view.Version)
	}
	b.WriteString(m.theme.Header.Render(header))
	b.WriteString("\n\n")

	for _, line := range m.view.DiagLines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.view.Err != nil {
		b.WriteString(m.theme.Dim.Render("error: " + humanError(m.view.Err)))
		b.WriteString("\n")
	}

	if m.view.StatusLine != "" {
		b.WriteString("\n")
		b.WriteString(m.theme.Dim.Render(m.view.StatusLine))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.Prompt.Render("> "))
	b.WriteString(m.input.Text())

	if m.showCompletion {
		b.WriteString("\n")
		b.WriteString(renderCompletionOverlay(m.view.Completions, m.width))
	}

	return b.String()
}
