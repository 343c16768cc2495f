package tui

import "github.com/charmbracelet/lipgloss"

// Theme bundles the lipgloss styles a color theme name maps to. Themes
// are looked up once at startup (config.ColorTheme) and passed into
// NewModel; there is no runtime theme switching.
type Theme struct {
	Header lipgloss.Style
	Dim    lipgloss.Style
	Prompt lipgloss.Style
	Border lipgloss.Style
}

// ThemeByName returns the Theme for name, falling back to "default" for
// anything unrecognized.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return Theme{
			Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("17")),
			Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
			Prompt: lipgloss.NewStyle().Foreground(lipgloss.Color("25")),
			Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("25")),
		}
	case "mono":
		return Theme{
			Header: lipgloss.NewStyle().Bold(true),
			Dim:    lipgloss.NewStyle(),
			Prompt: lipgloss.NewStyle(),
			Border: lipgloss.NewStyle().Border(lipgloss.NormalBorder()),
		}
	case "dark":
		return Theme{
			Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
			Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
			Prompt: lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
			Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")),
		}
	default:
		return Theme{
			Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
			Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
			Prompt: lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
			Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")),
		}
	}
}
