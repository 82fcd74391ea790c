package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/patchscan/internal/buildprop"
	"github.com/muurk/patchscan/internal/catalog"
	"github.com/muurk/patchscan/internal/engine"
	"github.com/muurk/patchscan/internal/server"
	"github.com/muurk/patchscan/internal/tui"
	"github.com/muurk/patchscan/internal/ui"
)

type scanOptions struct {
	output   string
	jsonOut  bool
	serve    bool
	listen   string
	apiLevel int
	list     string
	chunks   []string
	tui      bool
}

func newScanCmd(g *globalOptions) *cobra.Command {
	o := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <firmware-root>",
		Short: "Classify every catalog vulnerability for a firmware tree",
		Long: `Scan an extracted firmware tree.

This command will:
  1. Locate and read build.prop (the /system copy is preferred)
  2. Load the catalog suite for the firmware's API level
  3. Classify every vulnerability with a pool of workers
  4. Write the JSON report (with --output)

The firmware root is the directory that contains system/.`,
		Example: `  # Scan and show a summary
  patchscan scan ./extracted

  # Write the JSON report and list missing patches
  patchscan scan ./extracted -o report.json --list F,D

  # Machine-readable output only
  patchscan scan ./extracted --json > report.json

  # Interactive dashboard
  patchscan scan ./extracted --tui

  # Expose /metrics and /events while scanning
  patchscan scan ./extracted --serve --listen 127.0.0.1:9464`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runScan(cmd, g, o, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "Write the JSON report to this file")
	f.BoolVar(&o.jsonOut, "json", false, "Print the JSON report to stdout instead of the summary")
	f.BoolVar(&o.serve, "serve", false, "Serve /metrics, /events and /report during the scan")
	f.StringVar(&o.listen, "listen", "", "Listen address for --serve (default: server.listen from config)")
	f.IntVar(&o.apiLevel, "api-level", 0, "Catalog API level (default: from build.prop)")
	f.StringVar(&o.list, "list", "", "Comma-separated classes whose ids are listed, e.g. F,D")
	f.StringSliceVar(&o.chunks, "chunk", nil, "Load these chunk files instead of the catalog suite")
	f.BoolVar(&o.tui, "tui", false, "Show the interactive dashboard")
	cmd.MarkFlagsMutuallyExclusive("json", "tui")
	return cmd
}

func parseClassList(s string) ([]engine.Class, error) {
	var classes []engine.Class
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var c engine.Class
		if err := c.UnmarshalText([]byte(part)); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, nil
}

// scanSession holds what one scan shares between its stages.
type scanSession struct {
	g       *globalOptions
	o       *scanOptions
	root    string
	metrics *engine.Metrics
	chain   *toolchain
	srv     *server.Server
}

// newEngine creates the engine for a loaded catalog. onResult is called
// once per classification, after event clients saw it.
func (s *scanSession) newEngine(props *buildprop.Properties, cat *catalog.Catalog, onResult func(engine.Result)) *engine.Engine {
	var hub *server.Hub
	if s.srv != nil {
		hub = s.srv.Hub()
	}
	return engine.New(s.root, props, cat, s.chain.tools, engine.Options{
		Workers:  s.g.cfg.Engine.Workers,
		MaxDepth: s.g.cfg.Engine.MaxDepth,
		Metrics:  s.metrics,
		Logger:   s.g.logger,
		// Calls are serialized by the engine.
		OnResult: func(res engine.Result) {
			if hub != nil {
				hub.Result(res)
			}
			if onResult != nil {
				onResult(res)
			}
		},
	})
}

func (s *scanSession) runAll(ctx context.Context, eng *engine.Engine, total int) (*engine.Report, error) {
	if s.srv != nil {
		s.srv.Hub().RunStarted("", eng.Device(), total)
	}
	return eng.RunAll(ctx)
}

// publish hands the report to the server and, with --output, to disk.
func (s *scanSession) publish(report *engine.Report) error {
	if s.srv != nil {
		if err := s.srv.SetReport(report); err != nil {
			return err
		}
	}
	if s.o.output != "" {
		return writeReport(s.o.output, report)
	}
	return nil
}

func (s *scanSession) apiLevel(props *buildprop.Properties) int {
	if s.o.apiLevel != 0 {
		return s.o.apiLevel
	}
	return props.APIVersion()
}

func runScan(cmd *cobra.Command, g *globalOptions, o *scanOptions, root string) error {
	list, err := parseClassList(o.list)
	if err != nil {
		return fmt.Errorf("invalid --list: %w", err)
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return fmt.Errorf("firmware root %s is not a directory", root)
	}
	if o.tui && !ui.IsTerminal() {
		return fmt.Errorf("--tui needs an interactive terminal")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	s := &scanSession{
		g:       g,
		o:       o,
		root:    root,
		metrics: metrics,
		chain:   g.newToolchain(metrics),
	}

	if o.serve {
		listen := o.listen
		if listen == "" {
			listen = g.cfg.Server.Listen
		}
		s.srv, err = server.New(&server.Config{
			Listen:   listen,
			CertFile: g.cfg.Server.CertFile,
			KeyFile:  g.cfg.Server.KeyFile,
			Gatherer: reg,
			Logger:   g.logger,
		})
		if err != nil {
			return err
		}
		if err := s.srv.Listen(); err != nil {
			return err
		}
		defer func() { _ = s.srv.Shutdown(context.Background()) }()
	}

	var report *engine.Report
	if o.tui {
		report, err = s.runDashboard(ctx)
	} else {
		report, err = s.runSteps(ctx, cmd)
	}
	if err != nil {
		return err
	}

	if o.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if ui.IsTerminal() && cmd.OutOrStdout() == os.Stdout {
		return ui.RenderOnce(ui.NewSummary(report, list...).Render()+"\n", os.Stdout)
	}
	ui.NewPrinter(cmd.OutOrStdout()).PrintSummary(report, list...)
	return nil
}

// runSteps runs the scan under the step-by-step progress display.
func (s *scanSession) runSteps(ctx context.Context, cmd *cobra.Command) (*engine.Report, error) {
	g, o := s.g, s.o

	// With --json stdout carries only the report.
	uiOut := cmd.OutOrStdout()
	if o.jsonOut {
		uiOut = cmd.ErrOrStderr()
	}

	params := []ui.Param{{Key: "Firmware", Value: s.root}, {Key: "Catalog", Value: g.cfg.Catalog.Dir}}
	if s.srv != nil {
		params = append(params, ui.Param{Key: "Events", Value: s.srv.URL() + "/events"})
	}
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Firmware Scan",
		Command: "patchscan scan " + s.root,
		Params:  params,
		StepNames: []string{
			"Read build properties",
			"Load catalog",
			"Classify vulnerabilities",
			"Write report",
		},
		Troubleshooting: []string{
			"Fetch the catalog: patchscan catalog fetch",
			"Check tools: patchscan verify-setup",
			"Set PATCHSCAN_LOG_LEVEL=debug for detailed logs",
		},
		Verbose: g.verbose,
		Live:    ui.IsTerminal() && !o.jsonOut,
		Output:  uiOut,
	})

	var report *engine.Report
	_, err := runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback, onAdvance ui.AdvanceCallback) ([]ui.Param, error) {
		onStep(1, "", ui.StepRunning, "")
		props, err := loadProperties(s.root)
		if err != nil {
			onStep(1, "", ui.StepFailed, "")
			return nil, err
		}
		if props.IsTooOldAPIVersion() {
			g.logger.Warn("Firmware predates the test catalog", zap.Int("api_level", props.APIVersion()))
		}
		onStep(1, "", ui.StepComplete, props.Fingerprint())

		apiLevel := s.apiLevel(props)
		onStep(2, "", ui.StepRunning, "API level "+strconv.Itoa(apiLevel))
		cat, err := g.loadCatalog(ctx, props, apiLevel, o.chunks)
		if err != nil {
			onStep(2, "", ui.StepFailed, "")
			if hint := catalog.GetTroubleshootingHint(err); hint != "" {
				g.logger.Info(hint)
			}
			return nil, err
		}
		for _, p := range cat.Validate() {
			g.logger.Warn("Catalog problem", zap.String("id", p.ID), zap.String("problem", p.Message))
		}
		onStep(2, "", ui.StepComplete, fmt.Sprintf("%d vulnerabilities, %d tests", cat.VulnerabilityCount(), cat.TestCount()))

		total := cat.VulnerabilityCount()
		done := 0
		eng := s.newEngine(props, cat, func(engine.Result) {
			done++
			onAdvance(done, total)
		})

		onStep(3, "", ui.StepRunning, "")
		report, err = s.runAll(ctx, eng, total)
		if err != nil {
			onStep(3, "", ui.StepFailed, fmt.Sprintf("%d of %d", len(report.Results), total))
			return nil, err
		}
		onStep(3, "", ui.StepComplete, fmt.Sprintf("%d workers", g.cfg.Engine.Workers))

		details := []ui.Param{
			{Key: "Run", Value: report.RunID},
			{Key: "Fingerprint", Value: report.Device.Fingerprint},
			{Key: "Patch level", Value: orNone(report.Device.PatchLevel)},
		}

		if o.output == "" {
			if err := s.publish(report); err != nil {
				return nil, err
			}
			onStep(4, "", ui.StepSkipped, "no --output")
			return details, nil
		}
		onStep(4, "", ui.StepRunning, "")
		if err := s.publish(report); err != nil {
			onStep(4, "", ui.StepFailed, "")
			return nil, err
		}
		onStep(4, "", ui.StepComplete, o.output)
		return append(details, ui.Param{Key: "Report", Value: o.output}), nil
	})
	return report, err
}

// runDashboard loads the firmware and catalog up front, then classifies
// under the interactive dashboard.
func (s *scanSession) runDashboard(ctx context.Context) (*engine.Report, error) {
	props, err := loadProperties(s.root)
	if err != nil {
		return nil, err
	}
	cat, err := s.g.loadCatalog(ctx, props, s.apiLevel(props), s.o.chunks)
	if err != nil {
		if hint := catalog.GetTroubleshootingHint(err); hint != "" {
			return nil, fmt.Errorf("%w\n\n%s", err, hint)
		}
		return nil, err
	}
	total := cat.VulnerabilityCount()

	report, err := tui.Run(ctx, tui.RunConfig{
		Title:     props.Fingerprint(),
		Total:     total,
		AltScreen: true,
	}, func(ctx context.Context, onResult func(engine.Result)) (*engine.Report, error) {
		return s.runAll(ctx, s.newEngine(props, cat, onResult), total)
	})
	if err != nil {
		return nil, err
	}
	return report, s.publish(report)
}

// writeReport writes the report atomically.
func writeReport(path string, report *engine.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
