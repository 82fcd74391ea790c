package tool

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var (
	_ Disassembler = (*Objdump)(nil)
	_ Disassembler = (*Native)(nil)
)

type fakeSections struct {
	lines []string
	err   error
	calls int
}

func (f *fakeSections) SectionLines(ctx context.Context, path string) ([]string, error) {
	f.calls++
	return f.lines, f.err
}

const (
	armNOP = 0xd503201f
	armRET = 0xd65f03c0
)

func TestFormatARM64(t *testing.T) {
	code := binary.LittleEndian.AppendUint32(nil, armNOP)
	code = binary.LittleEndian.AppendUint32(code, armNOP)
	code = append(code, 0xaa, 0xbb) // partial trailing word

	out := FormatARM64(0x1000, code)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "    1000:\td503201f \t") {
		t.Errorf("unexpected layout %q", lines[0])
	}
	if !strings.Contains(lines[1], "nop") {
		t.Errorf("expected nop in %q", lines[1])
	}
	if !strings.HasPrefix(lines[1], "    1004:") {
		t.Errorf("expected address 1004 in %q", lines[1])
	}
}

func TestNative_DisassembleRange(t *testing.T) {
	// .text at vma 0x1000 lives at file offset 0x400
	sections := &fakeSections{lines: []string{
		" 10 .text         00000100  0000000000001000  0000000000001000  00000400  2**2  CONTENTS, ALLOC, LOAD, READONLY, CODE",
	}}

	image := make([]byte, 0x500)
	binary.LittleEndian.PutUint32(image[0x450:], armNOP)
	binary.LittleEndian.PutUint32(image[0x454:], armRET)
	path := filepath.Join(t.TempDir(), "libfoo.so")
	if err := os.WriteFile(path, image, 0644); err != nil {
		t.Fatal(err)
	}

	native := NewNative(sections, nil)
	out, err := native.DisassembleRange(context.Background(), path, 0x1050, 0x1058)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "1050:\td503201f") || !strings.Contains(out, "1054:\td65f03c0") {
		t.Errorf("unexpected disassembly:\n%s", out)
	}
	if !strings.Contains(out, "nop") {
		t.Errorf("expected nop in:\n%s", out)
	}

	if _, err := native.DisassembleRange(context.Background(), path, 0x1050, 0x1054); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sections.calls != 1 {
		t.Errorf("expected section view to be cached, got %d calls", sections.calls)
	}
}

func TestNative_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.so")
	if err := os.WriteFile(path, make([]byte, 8), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("inverted range", func(t *testing.T) {
		_, err := NewNative(&fakeSections{}, nil).DisassembleRange(context.Background(), path, 8, 4)
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("section tool failure", func(t *testing.T) {
		_, err := NewNative(&fakeSections{err: errors.New("boom")}, nil).DisassembleRange(context.Background(), path, 0, 4)
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("range past end of file", func(t *testing.T) {
		_, err := NewNative(&fakeSections{}, nil).DisassembleRange(context.Background(), path, 4, 16)
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewNative(&fakeSections{}, nil).DisassembleRange(context.Background(), "/nonexistent", 0, 4)
		if err == nil {
			t.Error("expected error")
		}
	})
}
