// Package tui provides the interactive Bubble Tea console of the spawnwire
// CLI: a prompt that sends commands to a live worker and a scrolling history
// of what was sent and what came back.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for console components.
var (
	// TitleStyle for the header line.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// SentStyle marks commands sent to the worker.
	SentStyle = lipgloss.NewStyle().
			Foreground(highlightColor)

	// ReceivedStyle marks batches read from the worker.
	ReceivedStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// DiagnosticStyle for captured worker stderr.
	DiagnosticStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for errors.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// BoxStyle for the history container.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

// kindStyle returns the style of a history entry kind.
func kindStyle(k entryKind) lipgloss.Style {
	switch k {
	case entrySent:
		return SentStyle
	case entryReceived:
		return ReceivedStyle
	case entryDiagnostic:
		return DiagnosticStyle
	case entryError:
		return ErrorStyle
	default:
		return LabelStyle
	}
}
