package tui

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/patchscan/internal/engine"
)

// ScanFunc performs the run, reporting each classification to onResult.
type ScanFunc func(ctx context.Context, onResult func(engine.Result)) (*engine.Report, error)

// RunConfig configures Run.
type RunConfig struct {
	Title string
	Total int

	// Input and Output default to the terminal.
	Input  io.Reader
	Output io.Writer

	// NoInput ignores the keyboard, for non-interactive use.
	NoInput bool

	// AltScreen draws on the alternate screen buffer.
	AltScreen bool

	// ExitWhenDone closes the dashboard when the run finishes.
	ExitWhenDone bool
}

type outcome struct {
	report *engine.Report
	err    error
}

// Run shows the dashboard while scan runs and returns the scan's report.
// Quitting the dashboard early cancels the context passed to scan.
func Run(ctx context.Context, config RunConfig, scan ScanFunc) (*engine.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewScanModel(config.Title, config.Total)
	model.ExitWhenDone = config.ExitWhenDone

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	switch {
	case config.NoInput:
		opts = append(opts, tea.WithInput(nil))
	case config.Input != nil:
		opts = append(opts, tea.WithInput(config.Input))
	}
	if config.Output != nil {
		opts = append(opts, tea.WithOutput(config.Output))
	}
	if config.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(model, opts...)

	done := make(chan outcome, 1)
	go func() {
		report, err := scan(ctx, func(res engine.Result) {
			p.Send(ResultMsg(res))
		})
		done <- outcome{report: report, err: err}
		p.Send(FinishedMsg{Report: report, Err: err})
	}()

	_, runErr := p.Run()
	// Stops the scan when the user quit first.
	cancel()
	out := <-done

	if out.err != nil {
		return out.report, out.err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return out.report, runErr
	}
	return out.report, nil
}
