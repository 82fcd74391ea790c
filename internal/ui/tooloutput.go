package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ToolOutput is a box for raw external tool output (objdump listings,
// disassembly) shown in verbose mode.
type ToolOutput struct {
	Title    string   // e.g., "objdump -tT"
	Lines    []string // Output lines
	Width    int      // Terminal width
	MaxLines int      // Maximum lines to display (0 = unlimited)
}

// NewToolOutput creates a new output box
func NewToolOutput(title, content string) *ToolOutput {
	return &ToolOutput{
		Title: title,
		Lines: strings.Split(strings.TrimRight(content, "\n"), "\n"),
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (o *ToolOutput) SetWidth(width int) *ToolOutput {
	o.Width = width
	return o
}

// SetMaxLines limits the number of lines displayed
func (o *ToolOutput) SetMaxLines(n int) *ToolOutput {
	o.MaxLines = n
	return o
}

// FilterLines keeps only lines containing one of patterns.
func (o *ToolOutput) FilterLines(patterns ...string) *ToolOutput {
	var filtered []string
	for _, line := range o.Lines {
		for _, pattern := range patterns {
			if strings.Contains(line, pattern) {
				filtered = append(filtered, line)
				break
			}
		}
	}
	o.Lines = filtered
	return o
}

// Render returns the styled output box as a string
func (o *ToolOutput) Render() string {
	width := o.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := o.Lines
	if o.MaxLines > 0 && len(lines) > o.MaxLines {
		lines = append(lines[:o.MaxLines:o.MaxLines], "... (output truncated)")
	}

	titleStyled := ToolOutputTitleStyle.Render(o.Title)
	contentStyled := ToolOutputContentStyle.Render(strings.Join(lines, "\n"))
	inner := lipgloss.JoinVertical(lipgloss.Left, titleStyled, "", contentStyled)

	boxWidth := width - 4
	if boxWidth < 40 {
		boxWidth = 40
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(boxWidth).
		Padding(0, 1).
		MarginLeft(2).
		Render(inner)
}

// String implements fmt.Stringer
func (o *ToolOutput) String() string {
	return o.Render()
}
