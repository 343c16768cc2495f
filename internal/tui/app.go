package tui

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/slipterm/internal/bus"
)

// Run starts the bubbletea program for the interactive console and
// blocks until the operator quits or ctx is canceled, restoring the TTY
// on the way out. It returns the *tea.Program so callers (the event
// loop) can push StateMsg values via Program.Send as state changes.
func Run(ctx context.Context, b *bus.Bus, colorTheme string) (*tea.Program, <-chan error) {
	m := NewModel(b, ThemeByName(colorTheme))
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout), tea.WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		bestEffortResetTTY()
		done <- err
	}()
	return p, done
}
