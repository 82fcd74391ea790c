package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/patchscan/internal/version"
)

// Application branding constants
const (
	AppName = "PATCHSCAN"
	AppURL  = "github.com/muurk/patchscan"
)

// AppVersion returns the application version from the centralized version package
func AppVersion() string {
	return version.Version
}

// Layout constants for responsive terminal width
const (
	MinTerminalWidth  = 72  // Minimum supported terminal width
	MinTerminalHeight = 16  // Below this the result list is hidden
	MaxContentWidth   = 120 // Maximum content width before capping
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple
	SubtleColor  = lipgloss.Color("#626262") // Gray
	TextColor    = lipgloss.Color("#FFFFFF") // White
	ErrorColor   = lipgloss.Color("#FF0000") // Red
	BorderColor  = lipgloss.Color("#7D56F4") // Purple (same as primary)
)

var (
	// SpinnerStyle colors the activity spinner
	SpinnerStyle = lipgloss.NewStyle().Foreground(PrimaryColor)

	// SectionTitleStyle is for headings inside the dashboard
	SectionTitleStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true)

	// LabelStyle is for counter labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Width(14)

	// FilterStyle highlights the active class filter
	FilterStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(PrimaryColor).
			Padding(0, 1)

	// ErrorTextStyle is for run errors
	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)
)

// BuildHeaderContent creates header content with app name and URL
func BuildHeaderContent(title string) string {
	left := lipgloss.NewStyle().
		Foreground(TextColor).
		Bold(true).
		Render(AppName + " v" + AppVersion())

	right := lipgloss.NewStyle().
		Foreground(SubtleColor).
		Render(title)

	return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
}

// RenderApplicationContainer wraps screen content in the bordered
// full-terminal panel with header and footer.
func RenderApplicationContainer(title, content, footerText string, terminalWidth, terminalHeight int) string {
	terminalWidth = CalculateWidth(terminalWidth)
	if terminalHeight < MinTerminalHeight {
		terminalHeight = MinTerminalHeight
	}

	headerStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Bottom: "─"}).
		BorderForeground(BorderColor).
		Width(terminalWidth-4).
		Padding(0, 1)

	footerStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Top: "─"}).
		BorderForeground(BorderColor).
		Width(terminalWidth-4).
		Padding(0, 1)

	inner := lipgloss.JoinVertical(
		lipgloss.Left,
		headerStyle.Render(BuildHeaderContent(title)),
		lipgloss.NewStyle().Width(terminalWidth-4).Render(content),
		footerStyle.Render(lipgloss.NewStyle().Foreground(SubtleColor).Render(footerText)),
	)

	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(BorderColor).
		Width(terminalWidth - 2).
		Render(inner)
}

// CalculateWidth clamps a terminal width to the supported range.
func CalculateWidth(terminalWidth int) int {
	if terminalWidth < MinTerminalWidth {
		return MinTerminalWidth
	}
	if terminalWidth > MaxContentWidth {
		return MaxContentWidth
	}
	return terminalWidth
}
