package tui

import "github.com/charmbracelet/lipgloss"

// styles contains all lipgloss styles used by the indicator.
var styles = struct {
	Spinner lipgloss.Style
	Phase   lipgloss.Style
	Elapsed lipgloss.Style
	Tools   lipgloss.Style
	Done    lipgloss.Style
	Error   lipgloss.Style
}{
	Spinner: lipgloss.NewStyle().
		Foreground(lipgloss.Color("212")),

	Phase: lipgloss.NewStyle().
		Bold(true),

	Elapsed: lipgloss.NewStyle().
		Foreground(lipgloss.Color("220")),

	Tools: lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")),

	Done: lipgloss.NewStyle().
		Foreground(lipgloss.Color("82")),

	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),
}
