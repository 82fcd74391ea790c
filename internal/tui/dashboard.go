package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/patchscan/internal/engine"
	"github.com/muurk/patchscan/internal/ui"
)

// ResultMsg delivers one classification to the dashboard.
type ResultMsg engine.Result

// FinishedMsg ends the run. Report may be partial when Err is set.
type FinishedMsg struct {
	Report *engine.Report
	Err    error
}

// dashboardKeyMap defines key bindings for the scan dashboard
type dashboardKeyMap struct {
	Up           key.Binding
	Down         key.Binding
	All          key.Binding
	Patched      key.Binding
	Missing      key.Binding
	Claimed      key.Binding
	NotAffected  key.Binding
	Inconclusive key.Binding
	Quit         key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.All, k.Patched, k.Missing, k.Claimed, k.NotAffected, k.Inconclusive, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.All, k.Patched, k.Missing, k.Claimed, k.NotAffected, k.Inconclusive},
		{k.Quit},
	}
}

// filterFor maps a key press to a class filter. ok is false for keys
// that are not filter keys; a zero class means no filter.
func (k dashboardKeyMap) filterFor(msg tea.KeyMsg) (engine.Class, bool) {
	switch {
	case key.Matches(msg, k.All):
		return 0, true
	case key.Matches(msg, k.Patched):
		return engine.ClassPatched, true
	case key.Matches(msg, k.Missing):
		return engine.ClassMissing, true
	case key.Matches(msg, k.Claimed):
		return engine.ClassClaimed, true
	case key.Matches(msg, k.NotAffected):
		return engine.ClassNotAffected, true
	case key.Matches(msg, k.Inconclusive):
		return engine.ClassInconclusive, true
	}
	return 0, false
}

// ScanModel is the live view of one catalog run.
type ScanModel struct {
	Title string
	Total int

	// Run state
	Done     int
	Counts   engine.Summary
	Results  []engine.Result // Arrival order
	Report   *engine.Report
	Err      error
	Finished bool
	Started  time.Time

	// ExitWhenDone quits as soon as FinishedMsg arrives instead of
	// leaving the result list open for browsing.
	ExitWhenDone bool

	// UI state
	Width  int
	Height int
	Filter engine.Class // Zero shows every class

	Spinner  spinner.Model
	Progress progress.Model
	List     viewport.Model
	Help     help.Model
	Keys     dashboardKeyMap
}

// NewScanModel creates a dashboard for a run of total vulnerabilities.
func NewScanModel(title string, total int) ScanModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	progressBar := progress.New(progress.WithDefaultGradient())
	progressBar.Width = 40

	keys := dashboardKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		All: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "all"),
		),
		Patched: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "patched"),
		),
		Missing: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "missing"),
		),
		Claimed: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "claimed"),
		),
		NotAffected: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "not affected"),
		),
		Inconclusive: key.NewBinding(
			key.WithKeys("_"),
			key.WithHelp("_", "inconclusive"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}

	return ScanModel{
		Title:    title,
		Total:    total,
		Started:  time.Now(),
		Spinner:  s,
		Progress: progressBar,
		List:     viewport.New(MinTerminalWidth-6, 8),
		Help:     help.New(),
		Keys:     keys,
	}
}

// Init starts the spinner
func (m ScanModel) Init() tea.Cmd {
	return m.Spinner.Tick
}

// Update handles run events and key presses
func (m ScanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.Keys.Quit) {
			return m, tea.Quit
		}
		if class, ok := m.Keys.filterFor(msg); ok {
			m.Filter = class
			m.refreshList()
			m.List.GotoTop()
			return m, nil
		}
		var cmd tea.Cmd
		m.List, cmd = m.List.Update(msg)
		return m, cmd

	case ResultMsg:
		res := engine.Result(msg)
		m.Done++
		m.Counts.Add(res.Class)
		m.Results = append(m.Results, res)
		m.refreshList()
		if m.Filter == 0 || m.Filter == res.Class {
			m.List.GotoBottom()
		}
		return m, nil

	case FinishedMsg:
		m.Finished = true
		m.Report = msg.Report
		m.Err = msg.Err
		if msg.Report != nil {
			m.Counts = msg.Report.Summary
		}
		if m.ExitWhenDone {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.Finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// resize fits the result list between the fixed dashboard rows.
func (m *ScanModel) resize() {
	width := CalculateWidth(m.Width)
	m.List.Width = width - 6
	m.Progress.Width = min(width-20, 60)

	// Header, progress, counters, list title, help and borders.
	fixed := 17
	m.List.Height = max(m.Height-fixed, 3)
	m.refreshList()
}

// Visible returns the results passing the current filter.
func (m ScanModel) Visible() []engine.Result {
	if m.Filter == 0 {
		return m.Results
	}
	var out []engine.Result
	for _, r := range m.Results {
		if r.Class == m.Filter {
			out = append(out, r)
		}
	}
	return out
}

func (m *ScanModel) refreshList() {
	visible := m.Visible()
	lines := make([]string, 0, len(visible))
	for _, r := range visible {
		line := fmt.Sprintf("%s  %-24s %8s", ui.ClassStyle(r.Class).Render(r.Class.String()), r.ID, r.Duration.Round(time.Millisecond))
		if r.Panic != "" {
			line += "  " + ErrorTextStyle.Render("panic: "+r.Panic)
		}
		lines = append(lines, line)
	}
	m.List.SetContent(strings.Join(lines, "\n"))
}

// Percent returns the completed fraction of the run.
func (m ScanModel) Percent() float64 {
	if m.Total <= 0 {
		if m.Finished {
			return 1
		}
		return 0
	}
	return float64(m.Done) / float64(m.Total)
}

// View renders the dashboard
func (m ScanModel) View() string {
	return RenderApplicationContainer(m.Title, m.renderContent(), m.Help.View(m.Keys), m.Width, m.Height)
}

func (m ScanModel) renderContent() string {
	var status string
	switch {
	case m.Finished && m.Err != nil:
		status = ErrorTextStyle.Render(fmt.Sprintf("%s Run stopped: %v", ui.FailureMarker, m.Err))
	case m.Finished:
		status = SectionTitleStyle.Render(fmt.Sprintf("%s %d vulnerabilities classified in %s",
			ui.SuccessMarker, m.Counts.Total, time.Since(m.Started).Round(time.Second)))
	default:
		status = SectionTitleStyle.Render(fmt.Sprintf("%s Classifying %d/%d", m.Spinner.View(), m.Done, m.Total))
	}

	counters := make([]string, 0, len(engine.Classes))
	for _, c := range engine.Classes {
		counters = append(counters, LabelStyle.Render(
			ui.ClassStyle(c).Render(c.String())+" "+c.Label())+fmt.Sprintf("%5d", m.Counts.Count(c)))
	}

	listTitle := SectionTitleStyle.Render("Results")
	if m.Filter != 0 {
		listTitle += " " + FilterStyle.Render(m.Filter.Label())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		"",
		" "+status,
		"",
		" "+m.Progress.ViewAs(m.Percent()),
		"",
		lipgloss.NewStyle().PaddingLeft(1).Render(strings.Join(counters, "\n")),
		"",
		" "+listTitle,
		lipgloss.NewStyle().PaddingLeft(1).Render(m.List.View()),
	)
}
