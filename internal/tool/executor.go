package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Config holds the configuration for external tool execution.
type Config struct {
	// ObjdumpPath is the path to an AArch64-capable objdump.
	// Default: "objdump" (searches PATH)
	ObjdumpPath string

	// SigtoolPath is the path to the rolling checksum tool.
	// Default: "sigtool" (searches PATH)
	SigtoolPath string

	// Timeout is the maximum time a single tool invocation may take.
	// Default: 2 minutes
	Timeout time.Duration

	// WorkDir is the working directory for temporary files.
	// Default: os.TempDir()
	WorkDir string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ObjdumpPath: "objdump",
		SigtoolPath: "sigtool",
		Timeout:     2 * time.Minute,
		WorkDir:     os.TempDir(),
	}
}

// Result is the captured output of one tool invocation.
type Result struct {
	Tool     string
	Args     []string
	Stdout   []byte
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ObserveFunc is called after every invocation with the tool's base name.
type ObserveFunc func(tool string, duration time.Duration, err error)

// Executor runs external tools via os/exec.
type Executor struct {
	config  Config
	logger  *zap.Logger
	observe ObserveFunc
}

// NewExecutor creates a new tool executor with the given configuration.
func NewExecutor(config Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		config: config,
		logger: logger,
	}
}

// WithObserver installs a callback invoked after each tool run.
func (e *Executor) WithObserver(fn ObserveFunc) *Executor {
	e.observe = fn
	return e
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Run executes path with args, feeding stdin if non-nil.
// The Result is returned even when the tool fails so callers can
// inspect partial output; err is an *ExecutionError or *TimeoutError.
func (e *Executor) Run(ctx context.Context, path string, args []string, stdin []byte) (*Result, error) {
	startTime := time.Now()
	name := filepath.Base(path)

	timeout := e.config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, path, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()

	result := &Result{
		Tool:     name,
		Args:     args,
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(startTime),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Command failed to start or other error
			result.ExitCode = -1
		}
	}

	if timeoutCtx.Err() == context.DeadlineExceeded {
		err = &TimeoutError{
			Tool:    name,
			Timeout: timeout.String(),
		}
	} else if err != nil {
		err = &ExecutionError{
			Tool:     name,
			Args:     args,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      err,
		}
	}

	e.logger.Debug("tool execution complete",
		zap.String("tool", name),
		zap.Strings("args", args),
		zap.Duration("duration", result.Duration),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_size", len(result.Stdout)),
		zap.Int("stderr_size", len(result.Stderr)),
	)

	if e.observe != nil {
		e.observe(name, result.Duration, err)
	}

	return result, err
}

// writeTempFile writes data to a temporary file in WorkDir and returns its path.
// The caller removes the file.
func (e *Executor) writeTempFile(prefix string, data []byte) (string, error) {
	file, err := os.CreateTemp(e.config.WorkDir, fmt.Sprintf("patchscan-%s-*.bin", prefix))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	return file.Name(), nil
}
