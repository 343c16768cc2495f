package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderCompletionOverlay draws the prefix-completion candidate list
// (command.Registry.Complete's result) as a bordered box under the
// input line.
func renderCompletionOverlay(candidates []string, width int) string {
	border := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	if width > 4 {
		border = border.Width(width - 4)
	}

	var b strings.Builder
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c)
	}
	return border.Render(b.String())
}
