package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// RunnerConfig holds configuration for a command execution
type RunnerConfig struct {
	Title           string    // Command title (e.g., "Firmware Scan")
	Command         string    // Full command (e.g., "patchscan scan ./fw")
	Params          []Param   // Parameters to display in header
	StepNames       []string  // Names for each step
	Troubleshooting []string  // Tips shown on failure
	Verbose         bool      // Whether to show tool output
	Live            bool      // Redraw the progress bar in place (terminals only)
	Output          io.Writer // Output writer (default: os.Stdout)
}

// Runner orchestrates the UI for a multi-step command. It manages the
// header, progress and result flow and hands callbacks to the operation.
type Runner struct {
	config     RunnerConfig
	header     *Header
	progress   *Progress
	output     io.Writer
	toolOutput []*ToolOutput
	startTime  time.Time
	width      int

	mu sync.Mutex
}

// NewRunner creates a new runner for a command
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	width := GetTerminalWidth()

	header := NewHeader(config.Title, config.Command, config.Params...)
	header.SetWidth(width)

	var prog *Progress
	if len(config.StepNames) > 0 {
		prog = NewProgress("", len(config.StepNames))
		prog.SetWidth(width)
		prog.SetStepNames(config.StepNames)
	}

	return &Runner{
		config:   config,
		header:   header,
		progress: prog,
		output:   config.Output,
		width:    width,
	}
}

// Operation is the work performed under a Runner. It reports steps via
// onStep and item progress via onAdvance, and returns the details shown
// in the success box.
type Operation func(ctx context.Context, onStep StepCallback, onAdvance AdvanceCallback) ([]Param, error)

// Run executes the operation with UI updates.
func (r *Runner) Run(ctx context.Context, operation Operation) ([]Param, error) {
	r.startTime = time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	details, err := operation(ctx, r.stepCallback(), r.advanceCallback())
	duration := time.Since(r.startTime)

	if err != nil {
		r.printFailure(err)
	} else {
		r.printSuccess(details, duration)
	}
	return details, err
}

// AddToolOutput stores tool output for verbose display.
func (r *Runner) AddToolOutput(title, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolOutput = append(r.toolOutput, NewToolOutput(title, output).SetWidth(r.width).SetMaxLines(200))
}

// Println writes a line to the runner output, outside the progress flow.
func (r *Runner) Println(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.output, content)
}

func (r *Runner) stepCallback() StepCallback {
	return func(stepNumber int, name string, status StepStatus, message string) {
		if r.progress == nil {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()

		if name != "" && stepNumber > 0 && stepNumber <= len(r.progress.Steps) {
			r.progress.Steps[stepNumber-1].Name = name
		}
		r.progress.UpdateStep(stepNumber, status, message)
		if stepNumber < 1 || stepNumber > len(r.progress.Steps) {
			return
		}

		line := r.progress.RenderStepLine(r.progress.Steps[stepNumber-1])
		switch status {
		case StepComplete, StepFailed, StepSkipped:
			if r.config.Live {
				_, _ = fmt.Fprint(r.output, "\r\033[K")
			}
			_, _ = fmt.Fprintln(r.output, line)
		case StepRunning:
			if r.config.Live {
				_, _ = fmt.Fprint(r.output, line+"\r")
			}
		}
	}
}

func (r *Runner) advanceCallback() AdvanceCallback {
	return func(done, items int) {
		if r.progress == nil {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()

		r.progress.Advance(done, items)
		if r.config.Live {
			_, _ = fmt.Fprint(r.output, "\r\033[K"+r.progress.RenderBar())
		}
	}
}

func (r *Runner) printSuccess(details []Param, duration time.Duration) {
	_, _ = fmt.Fprintln(r.output)

	details = append(details, Param{Key: "Duration", Value: duration.Round(time.Millisecond).String()})
	result := NewSuccessResult(r.config.Title+" complete", details...)
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())

	r.printToolOutput()
}

func (r *Runner) printFailure(err error) {
	_, _ = fmt.Fprintln(r.output)

	troubleshooting := r.config.Troubleshooting
	if len(troubleshooting) == 0 {
		troubleshooting = []string{
			"Try: patchscan verify-setup",
			"Set PATCHSCAN_LOG_LEVEL=debug for detailed logs",
		}
	}

	result := NewFailureResult(r.config.Title+" failed", err, troubleshooting)
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())

	r.printToolOutput()
}

func (r *Runner) printToolOutput() {
	if !r.config.Verbose {
		return
	}
	for _, o := range r.toolOutput {
		_, _ = fmt.Fprintln(r.output)
		_, _ = fmt.Fprintln(r.output, o.Render())
	}
}

// --- Simple helper functions for commands that don't need a Runner ---

// PrintCommandHeader prints a styled command header
func PrintCommandHeader(title, command string, params ...Param) {
	fmt.Println(NewHeader(title, command, params...).Render())
	fmt.Println()
}

// PrintSuccess prints a styled success result
func PrintSuccess(title string, details ...Param) {
	fmt.Println()
	fmt.Println(NewSuccessResult(title, details...).Render())
}

// PrintFailure prints a styled failure result
func PrintFailure(title string, err error, troubleshooting []string) {
	fmt.Println()
	fmt.Println(NewFailureResult(title, err, troubleshooting).Render())
}

// PrintWarning prints a styled warning result
func PrintWarning(title string, details ...Param) {
	fmt.Println()
	fmt.Println(NewWarningResult(title, details...).Render())
}

// PrintPleaseWait prints a styled "please wait" line for long-running
// operations, e.g. ("Downloading catalog", "up to a minute").
func PrintPleaseWait(message string, durationHint string) {
	style := lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true).
		PaddingLeft(2)

	hintStyle := lipgloss.NewStyle().
		Foreground(MutedColor).
		Italic(true)

	line := style.Render("⏳ " + message)
	if durationHint != "" {
		line += " " + hintStyle.Render("("+durationHint+")")
	}
	line += style.Render("...")

	fmt.Println()
	fmt.Println(line)
	fmt.Println()
}
