package tool

import (
	"fmt"
	"strings"
)

// ExecutionError represents a failed external tool invocation
// (non-zero exit code or failure to start).
type ExecutionError struct {
	// Tool is the binary that was executed
	Tool string
	// Args are the arguments passed to the tool
	Args []string
	// ExitCode is the process exit code (-1 if the process never ran)
	ExitCode int
	// Stderr is the tool's stderr output
	Stderr string
	// Underlying error if any
	Err error
}

func (e *ExecutionError) Error() string {
	cmdline := strings.TrimSpace(e.Tool + " " + strings.Join(e.Args, " "))
	if e.Err != nil {
		return fmt.Sprintf("%s failed (exit code %d): %v\nstderr: %s",
			cmdline, e.ExitCode, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed (exit code %d)\nstderr: %s",
		cmdline, e.ExitCode, e.Stderr)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ParseError represents tool output that does not match the expected format.
type ParseError struct {
	// Tool is the binary whose output failed to parse
	Tool string
	// Field is the specific field that failed to parse
	Field string
	// Output is the offending output (truncated by the caller if large)
	Output string
	// Underlying error
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s output, field %q: %v\nOutput: %s",
		e.Tool, e.Field, e.Err, e.Output)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PrerequisiteError represents a missing or unusable external tool.
type PrerequisiteError struct {
	// Prerequisite is the name of the missing prerequisite
	Prerequisite string
	// Details provides additional context
	Details string
	// Underlying error
	Err error
}

func (e *PrerequisiteError) Error() string {
	msg := fmt.Sprintf("missing prerequisite: %s", e.Prerequisite)
	if e.Details != "" {
		msg += "\n" + e.Details
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\nError: %v", e.Err)
	}
	return msg
}

func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// TimeoutError represents a tool that did not finish within the configured timeout.
type TimeoutError struct {
	// Tool is the binary that timed out
	Tool string
	// Timeout is the duration that was exceeded
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s\n"+
		"Hint: Increase tools.timeout in the configuration or with --tool-timeout",
		e.Tool, e.Timeout)
}
