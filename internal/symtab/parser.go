package symtab

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidLine is returned when a symbol or section row cannot be parsed.
// A single bad row invalidates the whole table.
var ErrInvalidLine = errors.New("invalid objdump line")

// Symbol is one code symbol recovered from objdump output.
type Symbol struct {
	Name    string
	Address uint64
	Length  uint64
	// FilePosition is the byte offset of the symbol in the file. It equals
	// Address when no CODE section covers the symbol.
	FilePosition uint64
}

// End returns the first address past the symbol.
func (s Symbol) End() uint64 {
	return s.Address + s.Length
}

// Section is an executable section from the section header view.
type Section struct {
	Size       uint64
	VMA        uint64
	FileOffset uint64
}

// Contains reports whether addr falls inside [VMA, VMA+Size).
func (s Section) Contains(addr uint64) bool {
	return addr >= s.VMA && addr < s.VMA+s.Size
}

// Parser turns objdump text into symbols and sections.
type Parser struct {
	whitespace *regexp.Regexp // column separator
	hexColumn  *regexp.Regexp // a bare hex number column
}

// NewParser creates a new parser with compiled regex patterns.
func NewParser() *Parser {
	return &Parser{
		whitespace: regexp.MustCompile(`\s+`),
		hexColumn:  regexp.MustCompile(`^[0-9a-fA-F]+$`),
	}
}

func (p *Parser) columns(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return p.whitespace.Split(line, -1)
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}

// ParseSymbolLines parses the -tT view. Only rows in the .text section
// are kept; .text.unlikely and other .text.<suffix> rows are skipped.
// The length is the column after the one literally equal to ".text".
func (p *Parser) ParseSymbolLines(lines []string) (map[string]Symbol, error) {
	symbols := make(map[string]Symbol)

	for _, line := range lines {
		if !strings.Contains(line, ".text") || strings.Contains(line, ".text.") {
			continue
		}
		cols := p.columns(line)
		if len(cols) < 4 {
			continue
		}

		lengthHex := ""
		for i := 0; i < len(cols)-1; i++ {
			if cols[i] == ".text" {
				lengthHex = cols[i+1]
			}
		}
		if lengthHex == "" {
			return nil, fmt.Errorf("%w: no length column: %q", ErrInvalidLine, line)
		}

		addr, err := parseHex(cols[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bad address: %q", ErrInvalidLine, line)
		}
		length, err := parseHex(lengthHex)
		if err != nil {
			return nil, fmt.Errorf("%w: bad length: %q", ErrInvalidLine, line)
		}

		name := cols[len(cols)-1]
		symbols[name] = Symbol{
			Name:         name,
			Address:      addr,
			Length:       length,
			FilePosition: addr,
		}
	}

	return symbols, nil
}

// ParseSections collects every CODE row of the -h -w view.
// Columns: Idx Name Size VMA LMA FileOff Algn Flags...
func (p *Parser) ParseSections(lines []string) ([]Section, error) {
	var sections []Section

	for _, line := range lines {
		if !strings.Contains(line, "CODE") {
			continue
		}
		cols := p.columns(line)
		if len(cols) < 6 {
			return nil, fmt.Errorf("%w: short section row: %q", ErrInvalidLine, line)
		}
		size, err1 := parseHex(cols[2])
		vma, err2 := parseHex(cols[3])
		off, err3 := parseHex(cols[5])
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("%w: bad section row: %q", ErrInvalidLine, line)
		}
		sections = append(sections, Section{Size: size, VMA: vma, FileOffset: off})
	}

	return sections, nil
}

// ParseObjectSections reads function symbols of a relocatable object from
// its -ffunction-sections layout: every .text.<name> section is one symbol
// whose length and file position come from the section row.
func (p *Parser) ParseObjectSections(lines []string) (map[string]Symbol, error) {
	symbols := make(map[string]Symbol)

	for _, line := range lines {
		if !strings.Contains(line, ".text.") {
			continue
		}
		cols := p.columns(line)

		idx := -1
		for i, c := range cols {
			if strings.HasPrefix(c, ".text.") {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		if idx+4 >= len(cols) {
			return nil, fmt.Errorf("%w: short object section row: %q", ErrInvalidLine, line)
		}

		name := strings.TrimPrefix(cols[idx], ".text.")
		length, err := parseHex(cols[idx+1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad length: %q", ErrInvalidLine, line)
		}
		pos, err := parseHex(cols[idx+4])
		if err != nil {
			return nil, fmt.Errorf("%w: bad file offset: %q", ErrInvalidLine, line)
		}

		symbols[name] = Symbol{
			Name:         name,
			Address:      pos,
			Length:       length,
			FilePosition: pos,
		}
	}

	return symbols, nil
}

// FindEntry looks up one defined symbol in the -tT view. The length sits
// in the second to last column, or one further left when a version tag
// (Base, LIBC, ...) or visibility marker occupies that column. Undefined
// imports are ignored.
func (p *Parser) FindEntry(lines []string, symbol string) (Symbol, bool, error) {
	for _, line := range lines {
		if !strings.Contains(line, symbol) || strings.Contains(line, "*UND*") {
			continue
		}
		cols := p.columns(line)
		if len(cols) < 3 || cols[len(cols)-1] != symbol {
			continue
		}

		lengthHex := cols[len(cols)-2]
		if lengthHex == "Base" || !p.hexColumn.MatchString(lengthHex) {
			lengthHex = cols[len(cols)-3]
		}

		addr, err := parseHex(cols[0])
		if err != nil {
			return Symbol{}, false, fmt.Errorf("%w: bad address: %q", ErrInvalidLine, line)
		}
		length, err := parseHex(lengthHex)
		if err != nil {
			return Symbol{}, false, fmt.Errorf("%w: bad length: %q", ErrInvalidLine, line)
		}

		return Symbol{Name: symbol, Address: addr, Length: length, FilePosition: addr}, true, nil
	}
	return Symbol{}, false, nil
}

// Resolve sets FilePosition for every symbol covered by a section.
func Resolve(symbols map[string]Symbol, sections []Section) {
	for name, sym := range symbols {
		sym.FilePosition = FilePosition(sym.Address, sections)
		symbols[name] = sym
	}
}

// FilePosition maps a virtual address through sections. Unmapped
// addresses are returned unchanged.
func FilePosition(addr uint64, sections []Section) uint64 {
	for _, s := range sections {
		if s.Contains(addr) {
			return s.FileOffset + (addr - s.VMA)
		}
	}
	return addr
}
