package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/patchscan/internal/buildprop"
	"github.com/muurk/patchscan/internal/catalog"
	"github.com/muurk/patchscan/internal/config"
	"github.com/muurk/patchscan/internal/engine"
	"github.com/muurk/patchscan/internal/logging"
	"github.com/muurk/patchscan/internal/tool"
	"github.com/muurk/patchscan/internal/version"
)

// globalOptions holds the persistent flags and the configuration they
// resolve to.
type globalOptions struct {
	configPath   string
	logLevel     string
	verbose      bool
	objdump      string
	sigtool      string
	timeout      time.Duration
	disassembler string
	catalogDir   string
	workers      int

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "patchscan",
		Short: "Android firmware patch presence scanner",
		Long: `Test an extracted Android firmware tree for the presence of security patches.

patchscan loads the vulnerability test catalog for the firmware's API level
and classifies every vulnerability:

  T  patched
  F  patch missing
  D  patch missing, although the claimed patch level covers it
  N  not affected
  _  inconclusive

Binary tests need an AArch64-capable objdump and, for rolling signatures,
sigtool. Use 'patchscan verify-setup' to check prerequisites.`,
		Version: version.Version,
		Example: `  # Download the test catalog
  patchscan catalog fetch

  # Scan a firmware tree and write a JSON report
  patchscan scan ./extracted -o report.json

  # Follow a scan live over WebSocket and Prometheus
  patchscan scan ./extracted --serve`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default: OS config dir)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $"+logging.LogLevelEnvVar+")")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Show raw tool output")
	pf.StringVar(&opts.objdump, "objdump", "", "Path to an AArch64-capable objdump")
	pf.StringVar(&opts.sigtool, "sigtool", "", "Path to the rolling checksum tool")
	pf.DurationVar(&opts.timeout, "timeout", 0, "Timeout per tool invocation (e.g., 30s, 2m)")
	pf.StringVar(&opts.disassembler, "disassembler", "", "Disassembler backend: objdump or native")
	pf.StringVar(&opts.catalogDir, "catalog-dir", "", "Local catalog directory")
	pf.IntVar(&opts.workers, "workers", 0, "Parallel classification workers")

	root.AddCommand(
		newScanCmd(opts),
		newSymbolsCmd(opts),
		newSignatureCmd(opts),
		newTestCmd(opts),
		newCatalogCmd(opts),
		newVerifySetupCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load initializes logging and resolves the configuration. Flags win
// over the config file.
func (o *globalOptions) load(cmd *cobra.Command) error {
	var err error
	if o.logLevel != "" {
		err = logging.Initialize(o.logLevel)
	} else {
		err = logging.InitializeFromEnv()
	}
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	o.logger = logging.GetLogger()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("objdump") {
		cfg.Tools.Objdump = o.objdump
	}
	if flags.Changed("sigtool") {
		cfg.Tools.Sigtool = o.sigtool
	}
	if flags.Changed("timeout") {
		cfg.Tools.Timeout = o.timeout
	}
	if flags.Changed("disassembler") {
		cfg.Tools.Disassembler = o.disassembler
	}
	if flags.Changed("catalog-dir") {
		cfg.Catalog.Dir = o.catalogDir
	}
	if flags.Changed("workers") {
		cfg.Engine.Workers = o.workers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	o.cfg = cfg
	return nil
}

// toolchain bundles the external tool wrappers of one command run.
type toolchain struct {
	executor *tool.Executor
	objdump  *tool.Objdump
	sigtool  *tool.Sigtool
	tools    engine.Tools
}

// newToolchain wires objdump and sigtool behind one executor. Every
// invocation is logged and, when metrics is set, measured.
func (o *globalOptions) newToolchain(metrics *engine.Metrics) *toolchain {
	cfg := tool.DefaultConfig()
	cfg.ObjdumpPath = o.cfg.Tools.Objdump
	cfg.SigtoolPath = o.cfg.Tools.Sigtool
	cfg.Timeout = o.cfg.Tools.Timeout

	exec := tool.NewExecutor(cfg, o.logger).WithObserver(func(name string, d time.Duration, err error) {
		metrics.ObserveTool(name, d, err)
		logging.LogToolInvocation(name, d, err)
	})
	objdump := tool.NewObjdump(exec)
	sigtool := tool.NewSigtool(exec)

	var disassembler tool.Disassembler = objdump
	if o.cfg.Tools.Disassembler == config.DisassemblerNative {
		disassembler = tool.NewNative(objdump, o.logger)
	}

	return &toolchain{
		executor: exec,
		objdump:  objdump,
		sigtool:  sigtool,
		tools: engine.Tools{
			Dumper:       objdump,
			Disassembler: disassembler,
			Calculator:   sigtool,
			Searcher:     sigtool,
		},
	}
}

// newLoader creates a catalog loader from the catalog config section.
func (o *globalOptions) newLoader() (*catalog.Loader, error) {
	c := o.cfg.Catalog
	lopts := []catalog.LoaderOption{
		catalog.WithSuitesFile(c.SuitesFile),
		catalog.WithURLPrefix(c.URLPrefix),
	}
	if c.RequireSignatures {
		v, err := catalog.NewVerifierFromFile(c.Keyring)
		if err != nil {
			return nil, err
		}
		lopts = append(lopts, catalog.WithVerifier(v))
	}
	return catalog.NewLoader(c.Dir, o.logger, lopts...), nil
}

// loadProperties finds and reads the build.prop of a firmware tree.
func loadProperties(root string) (*buildprop.Properties, error) {
	path, err := buildprop.Find(root)
	if err != nil {
		return nil, err
	}
	return buildprop.Load(path)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip config loading; version must work with a broken config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "patchscan %s (commit: %s)\n", version.Version, version.Commit)
		},
	}
}
