package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muurk/patchscan/internal/buildprop"
	"github.com/muurk/patchscan/internal/catalog"
	"github.com/muurk/patchscan/internal/engine"
	"github.com/muurk/patchscan/internal/ui"
)

func newTestCmd(g *globalOptions) *cobra.Command {
	var (
		apiLevel int
		chunks   []string
	)

	cmd := &cobra.Command{
		Use:   "test <firmware-root> <id>",
		Short: "Evaluate one atomic test or classify one vulnerability",
		Long: `Evaluate a single catalog entry against a firmware tree.

When id names an atomic test its three-valued result (true, false or
unknown) is printed. When it names a vulnerability its class is printed.`,
		Example: `  # One atomic test
  patchscan test ./extracted 3f2a6c1e-8d0b-4c55-9a7e-1b2c3d4e5f60

  # One vulnerability, from a local chunk file
  patchscan test ./extracted CVE-2017-0781 --chunk ./vulns.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			root, id := args[0], args[1]
			ctx := cmd.Context()

			props, err := loadProperties(root)
			if err != nil {
				return err
			}
			cat, err := g.loadCatalog(ctx, props, apiLevel, chunks)
			if err != nil {
				return err
			}

			chain := g.newToolchain(nil)
			eng := engine.New(root, props, cat, chain.tools, engine.Options{
				MaxDepth: g.cfg.Engine.MaxDepth,
				Logger:   g.logger,
			})

			p := ui.NewPrinter(cmd.OutOrStdout())
			if t, ok := cat.Test(id); ok {
				v, err := eng.EvaluateTest(ctx, id)
				if err != nil {
					return err
				}
				p.PrintSuccess("Test evaluated",
					ui.Param{Key: "Test", Value: id},
					ui.Param{Key: "Type", Value: string(t.TestType)},
					ui.Param{Key: "Result", Value: v.String()})
				return nil
			}

			c, err := eng.Classify(ctx, id)
			if errors.Is(err, engine.ErrUnknownVulnerability) {
				return fmt.Errorf("%s is neither a test nor a vulnerability in the catalog", id)
			}
			if err != nil {
				return err
			}
			p.PrintSuccess("Vulnerability classified",
				ui.Param{Key: "Vulnerability", Value: id},
				ui.Param{Key: "Class", Value: c.String() + " (" + c.Label() + ")"})
			return nil
		},
	}

	cmd.Flags().IntVar(&apiLevel, "api-level", 0, "Catalog API level (default: from build.prop)")
	cmd.Flags().StringSliceVar(&chunks, "chunk", nil, "Load these chunk files instead of the catalog suite")
	return cmd
}

// loadCatalog loads explicit chunk files when given, otherwise the suite
// for apiLevel or, when zero, the firmware's own API level.
func (o *globalOptions) loadCatalog(ctx context.Context, props *buildprop.Properties, apiLevel int, chunks []string) (*catalog.Catalog, error) {
	loader, err := o.newLoader()
	if err != nil {
		return nil, err
	}
	if len(chunks) > 0 {
		return loader.LoadFiles(ctx, chunks)
	}
	if apiLevel == 0 {
		apiLevel = props.APIVersion()
	}
	return loader.Load(ctx, apiLevel)
}
