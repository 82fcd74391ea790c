package symtab

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"go.uber.org/zap"
)

// Dumper produces the two objdump views of a binary.
type Dumper interface {
	SymbolLines(ctx context.Context, path string) ([]string, error)
	SectionLines(ctx context.Context, path string) ([]string, error)
}

// Table is a complete symbol table for one binary. A Table is never
// partial: construction fails as a whole if any row is unusable.
type Table struct {
	symbols  map[string]Symbol
	sections []Section
}

// Lookup returns the named symbol.
func (t *Table) Lookup(name string) (Symbol, bool) {
	s, ok := t.symbols[name]
	return s, ok
}

// Len returns the number of symbols.
func (t *Table) Len() int {
	return len(t.symbols)
}

// Sections returns the CODE sections used for address mapping.
func (t *Table) Sections() []Section {
	return t.sections
}

// Symbols returns all symbols ordered by address, then name.
func (t *Table) Symbols() []Symbol {
	out := make([]Symbol, 0, len(t.symbols))
	for _, s := range t.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FromLines assembles a table from already captured objdump output.
// For relocatable objects the per-function .text.<name> sections are
// added on top of the symbol view.
func FromLines(p *Parser, symbolLines, sectionLines []string, object bool) (*Table, error) {
	symbols, err := p.ParseSymbolLines(symbolLines)
	if err != nil {
		return nil, err
	}
	sections, err := p.ParseSections(sectionLines)
	if err != nil {
		return nil, err
	}
	Resolve(symbols, sections)

	if object {
		objSymbols, err := p.ParseObjectSections(sectionLines)
		if err != nil {
			return nil, err
		}
		for name, s := range objSymbols {
			symbols[name] = s
		}
	}

	return &Table{symbols: symbols, sections: sections}, nil
}

// Builder builds symbol tables by running a Dumper.
type Builder struct {
	dumper Dumper
	parser *Parser
	logger *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(dumper Dumper, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		dumper: dumper,
		parser: NewParser(),
		logger: logger,
	}
}

// Parser returns the builder's parser.
func (b *Builder) Parser() *Parser {
	return b.parser
}

// Build dumps path and assembles its table.
func (b *Builder) Build(ctx context.Context, path string) (*Table, error) {
	symbolLines, err := b.dumper.SymbolLines(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to dump symbols of %s: %w", path, err)
	}
	sectionLines, err := b.dumper.SectionLines(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to dump sections of %s: %w", path, err)
	}

	table, err := FromLines(b.parser, symbolLines, sectionLines, strings.HasSuffix(path, ".o"))
	if err != nil {
		return nil, fmt.Errorf("failed to build symbol table for %s: %w", path, err)
	}

	b.logger.Debug("built symbol table",
		zap.String("path", path),
		zap.Int("symbols", table.Len()),
		zap.Int("code_sections", len(table.sections)),
	)
	return table, nil
}

// DisplayName demangles C++ and Rust names for presentation.
func DisplayName(name string) string {
	return demangle.Filter(name, demangle.NoClones)
}
