// Package watch implements the tend live workspace dashboard TUI.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK       lipgloss.Style
	StatusFailed   lipgloss.Style
	StatusConflict lipgloss.Style
	StatusSkipped  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	green := lipgloss.Color("#98C379")

	return Theme{
		StatusOK:       lipgloss.NewStyle().Foreground(green),
		StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
		StatusConflict: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		StatusSkipped:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(green),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}
