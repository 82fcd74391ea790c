package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/patchscan/internal/buildprop"
	"github.com/muurk/patchscan/internal/catalog"
	"github.com/muurk/patchscan/internal/logic"
	"github.com/muurk/patchscan/internal/signature"
	"github.com/muurk/patchscan/internal/symtab"
	"github.com/muurk/patchscan/internal/tool"
)

// DefaultWorkers is the size of the classification pool.
const DefaultWorkers = 8

// ErrUnknownTest is returned by EvaluateTest for an id not in the catalog.
var ErrUnknownTest = errors.New("unknown test")

// ErrUnknownVulnerability is returned by Classify for an id not in the catalog.
var ErrUnknownVulnerability = errors.New("unknown vulnerability")

// Tools are the external collaborators used by binary tests. A nil field
// makes the tests that need it evaluate to unknown.
type Tools struct {
	// Dumper produces the symbol and section views (objdump -tT, -h -w).
	Dumper symtab.Dumper
	// Disassembler renders an address range (objdump -d or native).
	Disassembler tool.Disassembler
	// Calculator computes single rolling checksums.
	Calculator signature.ChecksumCalculator
	// Searcher runs batched rolling signature searches.
	Searcher signature.Searcher
}

// Options configures an Engine.
type Options struct {
	// Workers is the pool size. Default: DefaultWorkers.
	Workers int
	// MaxDepth bounds logic tree depth. Default: logic.DefaultMaxDepth.
	MaxDepth int
	// OnResult observes each classification as it completes. It is
	// called from worker goroutines, one call at a time.
	OnResult func(Result)
	// Metrics receives engine metrics. Optional.
	Metrics *Metrics
	// Logger for diagnostics. Default: no-op.
	Logger *zap.Logger
}

// Engine evaluates a catalog against one firmware root. The firmware root,
// properties and catalog are shared read-only by all workers.
type Engine struct {
	root    string
	props   *buildprop.Properties
	catalog *catalog.Catalog
	tools   Tools
	opts    Options
	logger  *zap.Logger

	// classifyHook replaces worker.classify in tests.
	classifyHook func(ctx context.Context, w *worker, id string) Class
}

// New creates an engine for the firmware tree at root.
func New(root string, props *buildprop.Properties, cat *catalog.Catalog, tools Tools, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = logic.DefaultMaxDepth
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if props == nil {
		props = buildprop.FromMap(nil)
	}
	if cat == nil {
		cat = catalog.New()
	}
	return &Engine{
		root:    root,
		props:   props,
		catalog: cat,
		tools:   tools,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Root returns the firmware root directory.
func (e *Engine) Root() string {
	return e.root
}

// Properties returns the firmware build properties.
func (e *Engine) Properties() *buildprop.Properties {
	return e.props
}

// Device describes the firmware under test.
func (e *Engine) Device() Device {
	return Device{
		Root:           e.root,
		Fingerprint:    e.props.Fingerprint(),
		Model:          e.props.DeviceModel(),
		AndroidVersion: e.props.AndroidVersion(),
		APILevel:       e.props.APIVersion(),
		PatchLevel:     e.props.PatchlevelDate(),
		ChipVendor:     e.props.ChipVendor(),
		Is64Bit:        e.Is64Bit(),
	}
}

// EvaluateTest evaluates a single atomic test with a fresh cache.
func (e *Engine) EvaluateTest(ctx context.Context, id string) (logic.Value, error) {
	if _, ok := e.catalog.Test(id); !ok {
		return logic.Unknown, fmt.Errorf("%w: %s", ErrUnknownTest, id)
	}
	return e.newWorker().Resolve(ctx, id), nil
}

// Classify classifies a single vulnerability with a fresh cache.
func (e *Engine) Classify(ctx context.Context, id string) (Class, error) {
	if _, ok := e.catalog.Vulnerability(id); !ok {
		return ClassInconclusive, fmt.Errorf("%w: %s", ErrUnknownVulnerability, id)
	}
	res := e.newWorker().run(ctx, id)
	return res.Class, nil
}

// RunAll classifies every vulnerability in the catalog using a fixed pool
// of workers, each with its own caches. A panic while classifying one
// vulnerability is recovered and recorded as inconclusive. Cancelling ctx
// stops feeding new work; already running classifications finish.
func (e *Engine) RunAll(ctx context.Context) (*Report, error) {
	ids := e.catalog.VulnerabilityIDs()
	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Device:  e.Device(),
		Results: make(map[string]Class, len(ids)),
	}

	e.logger.Info("Starting vulnerability run",
		zap.String("run_id", report.RunID),
		zap.Int("vulnerabilities", len(ids)),
		zap.Int("workers", e.opts.Workers))
	e.opts.Metrics.setPending(len(ids))

	jobs := make(chan string)
	var (
		mu       sync.Mutex
		notifyMu sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < e.opts.Workers; i++ {
		g.Go(func() error {
			w := e.newWorker()
			for id := range jobs {
				// Workers do not stop mid-run on cancellation; the
				// feeder does. Each classification is bounded by the
				// tool timeout.
				res := w.run(context.WithoutCancel(gctx), id)

				mu.Lock()
				report.Results[id] = res.Class
				mu.Unlock()
				e.opts.Metrics.done()

				if e.opts.OnResult != nil {
					notifyMu.Lock()
					e.opts.OnResult(res)
					notifyMu.Unlock()
				}
			}
			return nil
		})
	}

	err := g.Wait()
	report.Finished = time.Now().UTC()
	report.Summary = Summarize(report.Results)

	e.logger.Info("Vulnerability run finished",
		zap.String("run_id", report.RunID),
		zap.Int("classified", len(report.Results)),
		zap.Duration("duration", report.Finished.Sub(report.Started)))

	return report, err
}

// run classifies one vulnerability, converting a panic into an
// inconclusive result.
func (w *worker) run(ctx context.Context, id string) (res Result) {
	start := time.Now()
	res = Result{ID: id, Class: ClassInconclusive}

	w.e.opts.Metrics.workerStarted()
	defer func() {
		if r := recover(); r != nil {
			w.e.logger.Error("Classification panicked",
				zap.String("vulnerability", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res.Class = ClassInconclusive
			res.Panic = fmt.Sprint(r)
		}
		res.Duration = time.Since(start)
		w.e.opts.Metrics.workerStopped()
		w.e.opts.Metrics.observeClass(res.Class, res.Duration)
	}()

	if w.e.classifyHook != nil {
		res.Class = w.e.classifyHook(ctx, w, id)
	} else {
		res.Class = w.classify(ctx, id)
	}
	return res
}
