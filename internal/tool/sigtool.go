package tool

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Sigtool wraps the external rolling checksum tool.
//
//	sigtool <arch> calc <file> <start> <length>   prints one checksum as hex
//	sigtool <arch> search <file>                  reads a request on stdin,
//	                                              writes 16-byte hit records
type Sigtool struct {
	exec *Executor
}

// NewSigtool returns a sigtool wrapper using the executor's SigtoolPath.
func NewSigtool(exec *Executor) *Sigtool {
	return &Sigtool{exec: exec}
}

// Calc computes the checksum of length bytes of path starting at start.
func (s *Sigtool) Calc(ctx context.Context, arch, path string, start, length int64) ([8]byte, error) {
	var sum [8]byte

	args := []string{arch, "calc", path, strconv.FormatInt(start, 10), strconv.FormatInt(length, 10)}
	result, err := s.exec.Run(ctx, s.exec.config.SigtoolPath, args, nil)
	if err != nil {
		return sum, err
	}

	lines := SplitLines(result.Stdout)
	if len(lines) == 0 {
		return sum, &ParseError{Tool: "sigtool", Field: "checksum", Err: errors.New("empty stdout")}
	}
	line := strings.TrimSpace(lines[0])
	decoded, err := hex.DecodeString(line)
	if err != nil || len(decoded) != len(sum) {
		if err == nil {
			err = fmt.Errorf("expected %d bytes, got %d", len(sum), len(decoded))
		}
		return sum, &ParseError{Tool: "sigtool", Field: "checksum", Output: line, Err: err}
	}
	copy(sum[:], decoded)
	return sum, nil
}

// Checksum computes the checksum of code[offset:offset+length] by staging
// the buffer in a temporary file.
func (s *Sigtool) Checksum(ctx context.Context, arch string, code []byte, offset, length int) ([8]byte, error) {
	path, err := s.exec.writeTempFile("code", code)
	if err != nil {
		return [8]byte{}, err
	}
	defer os.Remove(path)

	return s.Calc(ctx, arch, path, int64(offset), int64(length))
}

// Search runs a batched checksum search over path. The raw stdout is
// returned together with any execution error, since denial messages are
// reported on stdout by a failing process.
func (s *Sigtool) Search(ctx context.Context, arch, path string, request []byte) ([]byte, error) {
	result, err := s.exec.Run(ctx, s.exec.config.SigtoolPath, []string{arch, "search", path}, request)
	if result == nil {
		return nil, err
	}
	return result.Stdout, err
}
