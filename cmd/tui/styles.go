package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
)

// Color palette
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Violet
	secondaryColor = lipgloss.Color("#10B981") // Emerald
	accentColor    = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	successColor   = lipgloss.Color("#22C55E") // Green

	fgColor     = lipgloss.Color("#CDD6F4")
	mutedColor  = lipgloss.Color("#6C7086")
	borderColor = lipgloss.Color("#45475A")
	highlightBg = lipgloss.Color("#45475A")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(fgColor).
	Background(primaryColor).
	Padding(0, 2).
	MarginBottom(1)

var subtitleStyle = lipgloss.NewStyle().
	Foreground(mutedColor).
	Italic(true)

var labelStyle = lipgloss.NewStyle().
	Foreground(secondaryColor).
	Bold(true)

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(borderColor).
	Padding(0, 2)

var helpStyle = lipgloss.NewStyle().
	Foreground(mutedColor).
	MarginTop(1)

var (
	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
)

var statusBarStyle = lipgloss.NewStyle().
	Foreground(mutedColor).
	Background(highlightBg).
	Padding(0, 1)

// statusStyle colors a health status.
func statusStyle(status indexopt.HealthStatus) lipgloss.Style {
	switch status {
	case indexopt.StatusHealthy:
		return successStyle
	case indexopt.StatusWarning:
		return warningStyle
	default:
		return errorStyle
	}
}

func severityStyle(p indexopt.Priority) lipgloss.Style {
	switch p {
	case indexopt.PriorityHigh:
		return errorStyle
	case indexopt.PriorityMedium:
		return warningStyle
	default:
		return subtitleStyle
	}
}
