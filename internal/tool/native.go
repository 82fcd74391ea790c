package tool

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/muurk/patchscan/internal/symtab"
)

// maxDisassemblyRange bounds a single native disassembly request.
const maxDisassemblyRange = 16 << 20

// Disassembler renders the machine code between two virtual addresses of
// a binary as text, one instruction per line.
type Disassembler interface {
	DisassembleRange(ctx context.Context, path string, start, stop uint64) (string, error)
}

// SectionSource produces the section header view of a binary.
type SectionSource interface {
	SectionLines(ctx context.Context, path string) ([]string, error)
}

// Native disassembles AArch64 code in-process. Only the section header
// view comes from objdump, to map addresses to file offsets.
type Native struct {
	sections SectionSource
	parser   *symtab.Parser
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string][]symtab.Section
}

// NewNative creates a native disassembler.
func NewNative(sections SectionSource, logger *zap.Logger) *Native {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Native{
		sections: sections,
		parser:   symtab.NewParser(),
		logger:   logger,
		cache:    make(map[string][]symtab.Section),
	}
}

// DisassembleRange decodes [start, stop) of path.
func (n *Native) DisassembleRange(ctx context.Context, path string, start, stop uint64) (string, error) {
	if stop < start {
		return "", fmt.Errorf("invalid address range 0x%x-0x%x", start, stop)
	}
	if stop-start > maxDisassemblyRange {
		return "", fmt.Errorf("address range 0x%x-0x%x too large", start, stop)
	}

	sections, err := n.sectionsFor(ctx, path)
	if err != nil {
		return "", err
	}
	pos := symtab.FilePosition(start, sections)

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	code := make([]byte, stop-start)
	read, err := f.ReadAt(code, int64(pos))
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read code at 0x%x: %w", pos, err)
	}
	if read < len(code) {
		return "", fmt.Errorf("short read at 0x%x: got %d of %d bytes: %w", pos, read, len(code), io.ErrUnexpectedEOF)
	}

	n.logger.Debug("Native disassembly",
		zap.String("path", path),
		zap.Uint64("start", start),
		zap.Uint64("stop", stop),
		zap.Uint64("file_position", pos))

	return FormatARM64(start, code), nil
}

func (n *Native) sectionsFor(ctx context.Context, path string) ([]symtab.Section, error) {
	n.mu.Lock()
	cached, ok := n.cache[path]
	n.mu.Unlock()
	if ok {
		return cached, nil
	}

	lines, err := n.sections.SectionLines(ctx, path)
	if err != nil {
		return nil, err
	}
	sections, err := n.parser.ParseSections(lines)
	if err != nil {
		return nil, &ParseError{Tool: "objdump", Field: "sections", Err: err}
	}

	n.mu.Lock()
	n.cache[path] = sections
	n.mu.Unlock()
	return sections, nil
}

// FormatARM64 renders code loaded at addr in an objdump-like layout:
// address, raw word, GNU syntax. Undecodable words print as .inst and a
// trailing partial word is ignored.
func FormatARM64(addr uint64, code []byte) string {
	var b strings.Builder
	for off := 0; off+4 <= len(code); off += 4 {
		word := code[off : off+4]
		raw := binary.LittleEndian.Uint32(word)

		text := fmt.Sprintf(".inst\t0x%08x", raw)
		if inst, err := arm64asm.Decode(word); err == nil {
			text = arm64asm.GNUSyntax(inst)
		}
		fmt.Fprintf(&b, "%8x:\t%08x \t%s\n", addr+uint64(off), raw, text)
	}
	return b.String()
}
