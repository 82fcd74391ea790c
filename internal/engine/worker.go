package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/muurk/patchscan/internal/logic"
	"github.com/muurk/patchscan/internal/signature"
	"github.com/muurk/patchscan/internal/symtab"
)

// ErrNoTable is returned when no symbol table can be built for a binary.
var ErrNoTable = errors.New("no symbol table")

// errNoTool marks a test whose external collaborator is not configured.
var errNoTool = errors.New("tool not configured")

type symbolLinesEntry struct {
	lines []string
	err   error
}

type tableEntry struct {
	table *symtab.Table
	err   error
}

// worker is one evaluation context. It owns its reference cache and its
// per-binary caches and is used by a single goroutine.
type worker struct {
	e      *Engine
	eval   *logic.Evaluator
	logger *zap.Logger

	builder     *symtab.Builder
	parser      *symtab.Parser
	symbolLines map[string]symbolLinesEntry
	tables      map[string]tableEntry
}

func (e *Engine) newWorker() *worker {
	w := &worker{
		e:           e,
		logger:      e.logger,
		parser:      symtab.NewParser(),
		symbolLines: make(map[string]symbolLinesEntry),
		tables:      make(map[string]tableEntry),
	}
	if e.tools.Dumper != nil {
		w.builder = symtab.NewBuilder(e.tools.Dumper, e.logger)
	}
	w.eval = logic.NewEvaluator(w,
		logic.WithMaxDepth(e.opts.MaxDepth),
		logic.WithLogger(e.logger))
	return w
}

// Resolve evaluates the atomic test id. It implements logic.Resolver.
func (w *worker) Resolve(ctx context.Context, id string) logic.Value {
	t, ok := w.e.catalog.Test(id)
	if !ok {
		w.logger.Debug("Reference to unknown test", zap.String("test", id))
		return logic.Unknown
	}
	v := w.runAtomic(ctx, id, t)
	w.e.opts.Metrics.observeAtomic(string(t.TestType), v)
	return v
}

// classify evaluates the three trees of one vulnerability. The vulnerable
// and fixed trees are only evaluated when the not-affected tree is not True.
func (w *worker) classify(ctx context.Context, id string) Class {
	v, ok := w.e.catalog.Vulnerability(id)
	if !ok {
		return ClassInconclusive
	}

	if w.eval.Evaluate(ctx, v.TestNotAffected) == logic.True {
		return ClassNotAffected
	}

	vulnerable := w.eval.Evaluate(ctx, v.TestVulnerable)
	fixed := w.eval.Evaluate(ctx, v.TestFixed)

	class := Decide(vulnerable, fixed, func() bool {
		ref := v.ReferenceDate()
		return ref != "" && w.e.props.IsPatchDateClaimed(ref)
	})

	w.logger.Debug("Classified vulnerability",
		zap.String("vulnerability", id),
		zap.Stringer("vulnerable", vulnerable),
		zap.Stringer("fixed", fixed),
		zap.Stringer("class", class))
	return class
}

// symbols returns the cached -tT view of path.
func (w *worker) symbols(ctx context.Context, path string) ([]string, error) {
	if entry, ok := w.symbolLines[path]; ok {
		return entry.lines, entry.err
	}
	var entry symbolLinesEntry
	if w.e.tools.Dumper == nil {
		entry.err = errNoTool
	} else {
		entry.lines, entry.err = w.e.tools.Dumper.SymbolLines(ctx, path)
	}
	w.symbolLines[path] = entry
	return entry.lines, entry.err
}

// table returns the cached symbol table of path. A failed build is cached
// too, so a broken binary is dumped once per worker.
func (w *worker) table(ctx context.Context, path string) (*symtab.Table, error) {
	if entry, ok := w.tables[path]; ok {
		return entry.table, entry.err
	}
	var entry tableEntry
	if w.builder == nil {
		entry.err = errNoTool
	} else {
		entry.table, entry.err = w.builder.Build(ctx, path)
	}
	if entry.err != nil {
		entry.err = errors.Join(ErrNoTable, entry.err)
	}
	w.tables[path] = entry
	return entry.table, entry.err
}

// signatureOptions attaches the checksum calculator for rolling signatures.
func (w *worker) signatureOptions() []signature.Option {
	if w.e.tools.Calculator == nil {
		return nil
	}
	return []signature.Option{signature.WithCalculator(w.e.tools.Calculator)}
}
