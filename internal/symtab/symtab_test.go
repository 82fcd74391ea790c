package symtab

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

var symbolView = strings.Split(`
/fw/system/lib64/libfoo.so:     file format elf64-littleaarch64

SYMBOL TABLE:
0000000000001000 l    d  .text	0000000000000000 .text
0000000000001050 g     F .text	0000000000000040 parse_header
0000000000001090 g     F .text	0000000000000020 .hidden helper
0000000000002000 g     F .text.unlikely	0000000000000010 cold_path
0000000000003000 g     O .data	0000000000000008 some_global

DYNAMIC SYMBOL TABLE:
0000000000001050 g    DF .text	0000000000000040  Base        parse_header
00000000000010b0 g    DF .text	0000000000000010  LIBC        strlen_impl
0000000000000000      DF *UND*	0000000000000000  LIBC        memcpy
`, "\n")

var sectionView = strings.Split(`
/fw/system/lib64/libfoo.so:     file format elf64-littleaarch64

Sections:
Idx Name          Size      VMA               LMA               File off  Algn  Flags
  9 .plt          00000040  0000000000000f00  0000000000000f00  00000300  2**4  CONTENTS, ALLOC, LOAD, READONLY, CODE
 10 .text         00000100  0000000000001000  0000000000001000  00000400  2**2  CONTENTS, ALLOC, LOAD, READONLY, CODE
 11 .data         00000010  0000000000003000  0000000000003000  00000800  2**3  CONTENTS, ALLOC, LOAD, DATA
`, "\n")

var objectSectionView = strings.Split(`
Sections:
Idx Name          Size      VMA               LMA               File off  Algn  Flags
  0 .text         00000000  0000000000000000  0000000000000000  00000040  2**2  CONTENTS, ALLOC, LOAD, READONLY, CODE
  1 .text.do_work 00000024  0000000000000000  0000000000000000  00000040  2**2  CONTENTS, ALLOC, LOAD, RELOC, READONLY, CODE
  2 .text.cleanup 00000010  0000000000000000  0000000000000000  00000064  2**2  CONTENTS, ALLOC, LOAD, READONLY, CODE
`, "\n")

func TestParseSymbolLines(t *testing.T) {
	symbols, err := NewParser().ParseSymbolLines(symbolView)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := symbols["cold_path"]; ok {
		t.Error("expected .text.unlikely symbol to be skipped")
	}
	if _, ok := symbols["some_global"]; ok {
		t.Error("expected .data symbol to be skipped")
	}
	if _, ok := symbols["memcpy"]; ok {
		t.Error("expected undefined symbol to be skipped")
	}

	want := Symbol{Name: "parse_header", Address: 0x1050, Length: 0x40, FilePosition: 0x1050}
	if diff := cmp.Diff(want, symbols["parse_header"]); diff != "" {
		t.Errorf("parse_header mismatch (-want +got):\n%s", diff)
	}

	if got := symbols["helper"].Length; got != 0x20 {
		t.Errorf("expected helper length 0x20, got %#x", got)
	}
}

func TestParseSymbolLines_MissingLengthFailsWholeTable(t *testing.T) {
	lines := []string{
		"0000000000001050 g     F .text	0000000000000040 ok_symbol",
		"0000000000001090 g     F xx.text broken_symbol",
	}
	_, err := NewParser().ParseSymbolLines(lines)
	if !errors.Is(err, ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine, got %v", err)
	}
}

func TestParseSymbolLines_BadHex(t *testing.T) {
	lines := []string{"zzzz g F .text 0000000000000040 bad_addr"}
	if _, err := NewParser().ParseSymbolLines(lines); !errors.Is(err, ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine, got %v", err)
	}
}

func TestParseSections(t *testing.T) {
	sections, err := NewParser().ParseSections(sectionView)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Section{
		{Size: 0x40, VMA: 0xf00, FileOffset: 0x300},
		{Size: 0x100, VMA: 0x1000, FileOffset: 0x400},
	}
	if diff := cmp.Diff(want, sections); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestFilePositionMapping(t *testing.T) {
	sections := []Section{{Size: 0x100, VMA: 0x1000, FileOffset: 0x400}}

	tests := []struct {
		addr uint64
		want uint64
	}{
		{0x1050, 0x450},
		{0x1000, 0x400},
		{0x10ff, 0x4ff},
		{0x1100, 0x1100}, // one past the end is unmapped
		{0x0fff, 0x0fff},
	}

	for _, tt := range tests {
		if got := FilePosition(tt.addr, sections); got != tt.want {
			t.Errorf("FilePosition(%#x): expected %#x, got %#x", tt.addr, tt.want, got)
		}
	}
}

func TestParseObjectSections(t *testing.T) {
	symbols, err := NewParser().ParseObjectSections(objectSectionView)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]Symbol{
		"do_work": {Name: "do_work", Address: 0x40, Length: 0x24, FilePosition: 0x40},
		"cleanup": {Name: "cleanup", Address: 0x64, Length: 0x10, FilePosition: 0x64},
	}
	if diff := cmp.Diff(want, symbols); diff != "" {
		t.Errorf("object symbols mismatch (-want +got):\n%s", diff)
	}
}

func TestFindEntry(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name      string
		symbol    string
		wantFound bool
		wantAddr  uint64
		wantLen   uint64
	}{
		{"static row", "helper", true, 0x1090, 0x20},
		{"base version", "parse_header", true, 0x1050, 0x40},
		{"library version tag", "strlen_impl", true, 0x10b0, 0x10},
		{"undefined import", "memcpy", false, 0, 0},
		{"absent", "does_not_exist", false, 0, 0},
		{"substring only", "parse", false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym, found, err := p.FindEntry(symbolView, tt.symbol)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("expected found=%v, got %v", tt.wantFound, found)
			}
			if !found {
				return
			}
			if sym.Address != tt.wantAddr || sym.Length != tt.wantLen {
				t.Errorf("expected %#x/%#x, got %#x/%#x", tt.wantAddr, tt.wantLen, sym.Address, sym.Length)
			}
		})
	}
}

type fakeDumper struct {
	symbols  []string
	sections []string
	err      error
	calls    int
}

func (f *fakeDumper) SymbolLines(ctx context.Context, path string) ([]string, error) {
	f.calls++
	return f.symbols, f.err
}

func (f *fakeDumper) SectionLines(ctx context.Context, path string) ([]string, error) {
	return f.sections, f.err
}

func TestBuilder_Build(t *testing.T) {
	dumper := &fakeDumper{symbols: symbolView, sections: sectionView}
	table, err := NewBuilder(dumper, zap.NewNop()).Build(context.Background(), "/fw/system/lib64/libfoo.so")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sym, ok := table.Lookup("parse_header")
	if !ok {
		t.Fatal("expected parse_header in table")
	}
	if sym.FilePosition != 0x450 {
		t.Errorf("expected file position 0x450, got %#x", sym.FilePosition)
	}

	syms := table.Symbols()
	for i := 1; i < len(syms); i++ {
		if syms[i-1].Address > syms[i].Address {
			t.Fatalf("symbols not sorted by address: %v", syms)
		}
	}
	if table.Len() != len(syms) {
		t.Errorf("expected Len %d, got %d", len(syms), table.Len())
	}
	if len(table.Sections()) != 2 {
		t.Errorf("expected 2 code sections, got %d", len(table.Sections()))
	}
}

func TestBuilder_BuildObject(t *testing.T) {
	dumper := &fakeDumper{sections: objectSectionView}
	table, err := NewBuilder(dumper, nil).Build(context.Background(), "/fw/system/lib/module.o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sym, ok := table.Lookup("do_work")
	if !ok || sym.FilePosition != 0x40 || sym.Length != 0x24 {
		t.Errorf("unexpected do_work entry: %+v (found=%v)", sym, ok)
	}
}

func TestBuilder_BuildFailures(t *testing.T) {
	dumper := &fakeDumper{err: errors.New("objdump missing")}
	if _, err := NewBuilder(dumper, nil).Build(context.Background(), "/fw/bin"); err == nil {
		t.Error("expected dumper error to propagate")
	}

	dumper = &fakeDumper{symbols: []string{"0000000000001000 g F .text"}, sections: sectionView}
	table, err := NewBuilder(dumper, nil).Build(context.Background(), "/fw/bin")
	if err == nil || table != nil {
		t.Errorf("expected no table for malformed input, got %v / %v", table, err)
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("_ZN7android6Parcel5writeEv"); got != "android::Parcel::write()" {
		t.Errorf("unexpected demangled name %q", got)
	}
	if got := DisplayName("plain_c_symbol"); got != "plain_c_symbol" {
		t.Errorf("expected C name unchanged, got %q", got)
	}
}
