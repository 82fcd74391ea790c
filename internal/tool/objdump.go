package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Objdump wraps the external objdump binary.
type Objdump struct {
	exec *Executor
}

// NewObjdump returns an objdump wrapper using the executor's ObjdumpPath.
func NewObjdump(exec *Executor) *Objdump {
	return &Objdump{exec: exec}
}

// SymbolLines returns the combined static and dynamic symbol table view (-tT).
func (o *Objdump) SymbolLines(ctx context.Context, path string) ([]string, error) {
	return o.lines(ctx, "-tT", path)
}

// SectionLines returns the wide section header view (-h -w).
func (o *Objdump) SectionLines(ctx context.Context, path string) ([]string, error) {
	return o.lines(ctx, "-h", "-w", path)
}

// DisassembleRange disassembles [start, stop) of path.
func (o *Objdump) DisassembleRange(ctx context.Context, path string, start, stop uint64) (string, error) {
	out, err := o.run(ctx,
		"-d",
		fmt.Sprintf("--start-address=0x%02x", start),
		fmt.Sprintf("--stop-address=0x%02x", stop),
		path,
	)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (o *Objdump) lines(ctx context.Context, args ...string) ([]string, error) {
	out, err := o.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return SplitLines(out), nil
}

// run executes objdump. A non-zero exit with usable stdout is accepted:
// objdump exits 1 for -tT on binaries without a dynamic section after
// printing the static table.
func (o *Objdump) run(ctx context.Context, args ...string) ([]byte, error) {
	result, err := o.exec.Run(ctx, o.exec.config.ObjdumpPath, args, nil)
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.ExitCode > 0 && len(result.Stdout) > 0 {
			o.exec.logger.Debug("objdump exited non-zero, using partial output",
				zap.Strings("args", args),
				zap.Int("exit_code", execErr.ExitCode),
				zap.String("stderr", execErr.Stderr),
			)
			return result.Stdout, nil
		}
		return nil, err
	}
	return result.Stdout, nil
}

// SplitLines splits tool output into lines without trailing CR/LF.
func SplitLines(out []byte) []string {
	if len(out) == 0 {
		return nil
	}
	raw := strings.Split(string(out), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimRight(l, "\r"))
	}
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
