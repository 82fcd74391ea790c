package tool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// PrerequisiteCheck represents the result of checking a single prerequisite.
type PrerequisiteCheck struct {
	// Name is the human-readable name of the prerequisite
	Name string
	// Available indicates whether the prerequisite is available
	Available bool
	// Required is false for tools whose absence only degrades results
	Required bool
	// Path is the resolved path (for binary checks)
	Path string
	// Version is the detected version (if applicable)
	Version string
	// Message provides additional context (error message or success info)
	Message string
	// Error contains the underlying error if check failed
	Error error
}

// PrerequisiteResult contains the results of all prerequisite checks.
type PrerequisiteResult struct {
	// Checks contains individual check results
	Checks []PrerequisiteCheck
	// AllAvailable is true if all required prerequisites are available
	AllAvailable bool
}

// ValidatePrerequisites checks the configured external tools:
//   - objdump (required for symbol, disassembly and mask signature tests)
//   - sigtool (optional; rolling signature tests evaluate to unknown without it)
func ValidatePrerequisites(ctx context.Context, config Config) (*PrerequisiteResult, error) {
	result := &PrerequisiteResult{
		Checks:       make([]PrerequisiteCheck, 0, 2),
		AllAvailable: true,
	}

	objdumpCheck := checkBinary(ctx, "objdump", config.ObjdumpPath, true, "--version",
		"Install on Linux: sudo apt-get install binutils-aarch64-linux-gnu\n"+
			"Install on macOS: brew install binutils")
	result.Checks = append(result.Checks, objdumpCheck)
	if !objdumpCheck.Available {
		result.AllAvailable = false
	}

	sigtoolCheck := checkBinary(ctx, "sigtool", config.SigtoolPath, false, "",
		"Rolling signature tests will evaluate to unknown without sigtool.")
	result.Checks = append(result.Checks, sigtoolCheck)

	return result, nil
}

// checkBinary verifies that a tool is on PATH (or at an explicit path)
// and, when versionFlag is set, that it executes.
func checkBinary(ctx context.Context, name, binary string, required bool, versionFlag, hint string) PrerequisiteCheck {
	check := PrerequisiteCheck{
		Name:     name,
		Required: required,
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s not found (%s)\n%s", name, binary, hint)
		return check
	}
	check.Path = path

	if versionFlag == "" {
		check.Available = true
		check.Message = fmt.Sprintf("Found at %s", path)
		return check
	}

	versionCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	output, err := exec.CommandContext(versionCtx, path, versionFlag).Output()
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s found at %s but failed to execute: %v", name, path, err)
		return check
	}

	// Parse version from first line
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		check.Version = strings.TrimSpace(lines[0])
	}

	check.Available = true
	check.Message = fmt.Sprintf("Found at %s", path)
	return check
}

// ValidateObjdumpPath checks that path is an executable GNU objdump.
func ValidateObjdumpPath(ctx context.Context, path string) error {
	if path == "" {
		return &PrerequisiteError{
			Prerequisite: "objdump",
			Details:      "objdump path is empty",
		}
	}

	versionCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	output, err := exec.CommandContext(versionCtx, path, "--version").Output()
	if err != nil {
		return &PrerequisiteError{
			Prerequisite: "objdump",
			Details:      fmt.Sprintf("Failed to execute %s --version", path),
			Err:          err,
		}
	}

	if !strings.Contains(string(output), "objdump") {
		return &PrerequisiteError{
			Prerequisite: "objdump",
			Details:      fmt.Sprintf("%s does not appear to be objdump", path),
		}
	}

	return nil
}

// FormatPrerequisiteReport formats a PrerequisiteResult into a human-readable string.
func FormatPrerequisiteReport(result *PrerequisiteResult) string {
	var sb strings.Builder

	sb.WriteString("Tool Prerequisites Check:\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	for _, check := range result.Checks {
		if check.Available {
			sb.WriteString(fmt.Sprintf("✓ %s\n", check.Name))
			if check.Version != "" {
				sb.WriteString(fmt.Sprintf("  Version: %s\n", check.Version))
			}
			if check.Path != "" {
				sb.WriteString(fmt.Sprintf("  Path: %s\n", check.Path))
			}
		} else {
			marker := "✗"
			if !check.Required {
				marker = "!"
			}
			sb.WriteString(fmt.Sprintf("%s %s\n", marker, check.Name))
			if check.Message != "" {
				sb.WriteString(fmt.Sprintf("  %s\n", check.Message))
			}
		}
		sb.WriteString("\n")
	}

	if result.AllAvailable {
		sb.WriteString("All required prerequisites are available.\n")
	} else {
		sb.WriteString("Some prerequisites are missing. Please install them before scanning.\n")
	}

	return sb.String()
}
