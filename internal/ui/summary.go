package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/patchscan/internal/engine"
)

// StripWidth is the number of classes per row in a class strip.
const StripWidth = 24

// Summary renders the outcome of a scan: per-class counts, a colored class
// strip and, optionally, the ids in selected classes.
type Summary struct {
	Report *engine.Report
	Width  int
	// List selects the classes whose vulnerability ids are listed.
	List []engine.Class
}

// NewSummary creates a summary for report.
func NewSummary(report *engine.Report, list ...engine.Class) *Summary {
	return &Summary{Report: report, Width: GetTerminalWidth(), List: list}
}

// SetWidth sets the terminal width for responsive rendering
func (s *Summary) SetWidth(width int) *Summary {
	s.Width = width
	return s
}

// Render returns the styled summary box.
func (s *Summary) Render() string {
	width := s.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	sum := s.Report.Summary
	lines := []string{
		"",
		HeaderTitleStyle.Render(fmt.Sprintf("%d vulnerabilities classified", sum.Total)),
		"",
	}
	for _, c := range engine.Classes {
		key := ResultKeyStyle.Render(fmt.Sprintf("   %s %s:", ClassStyle(c).Render(c.String()), c.Label()))
		lines = append(lines, key+" "+ResultValueStyle.Render(fmt.Sprint(sum.Count(c))))
	}

	if strip := RenderClassStrip(s.Report.Results, StripWidth); strip != "" {
		lines = append(lines, "", lipgloss.NewStyle().PaddingLeft(3).Render(strip))
	}

	ids := sortedIDs(s.Report.Results)
	for _, c := range s.List {
		var matched []string
		for _, id := range ids {
			if s.Report.Results[id] == c {
				matched = append(matched, id)
			}
		}
		if len(matched) == 0 {
			continue
		}
		lines = append(lines, "", TroubleshootingTitleStyle.Render("   "+c.Label()+":"))
		for _, id := range matched {
			lines = append(lines, "     "+ClassStyle(c).Render(id))
		}
	}
	lines = append(lines, "")

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(summaryBorderColor(sum)).
		Width(width-2).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (s *Summary) String() string {
	return s.Render()
}

// RenderClassStrip renders one colored class character per vulnerability,
// ordered by id, perRow characters to a line.
func RenderClassStrip(results map[string]engine.Class, perRow int) string {
	if len(results) == 0 {
		return ""
	}
	if perRow <= 0 {
		perRow = StripWidth
	}

	var rows []string
	var row strings.Builder
	for i, id := range sortedIDs(results) {
		if i > 0 && i%perRow == 0 {
			rows = append(rows, row.String())
			row.Reset()
		}
		c := results[id]
		row.WriteString(ClassStyle(c).Render(c.String()))
	}
	rows = append(rows, row.String())
	return strings.Join(rows, "\n")
}

func sortedIDs(results map[string]engine.Class) []string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func summaryBorderColor(s engine.Summary) lipgloss.Color {
	switch {
	case s.Missing > 0:
		return ErrorColor
	case s.Claimed > 0:
		return WarningColor
	default:
		return SuccessColor
	}
}
