// Package ui provides terminal UI components for the patchscan CLI.
//
// Components are rendered with Lipgloss and follow a "run once and exit"
// pattern: they render output but don't require user interaction.
//
// # Components
//
//   - Header: command banner with ordered parameters
//   - Progress: progress bar with a step list and an item counter
//   - Result: success, failure and warning boxes
//   - Summary: per-class counts and a colored class strip
//   - ToolOutput: raw objdump/sigtool output for verbose mode
//
// Runner ties them together for multi-step commands:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:     "Firmware Scan",
//	    Command:   "patchscan scan ./fw",
//	    StepNames: []string{"Read build properties", "Load catalog", "Classify"},
//	})
//	details, err := runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback, onAdvance ui.AdvanceCallback) ([]ui.Param, error) {
//	    onStep(1, "", ui.StepRunning, "")
//	    // ...
//	    return nil, nil
//	})
//
// Logging is controlled separately through PATCHSCAN_LOG_LEVEL; when it
// is unset zap is silent and only this package's output is shown.
package ui
