package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/patchscan/internal/config"
	"github.com/muurk/patchscan/internal/tool"
	"github.com/muurk/patchscan/internal/ui"
	"github.com/muurk/patchscan/internal/urls"
)

func newVerifySetupCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-setup",
		Short: "Check that external tools and the catalog are available",
		Long: `Check the scanning prerequisites:

  - objdump, which must understand AArch64 binaries
  - sigtool, needed for rolling signature tests
  - the suites index of the local catalog`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			out := cmd.OutOrStdout()
			p := ui.NewPrinter(out)

			chain := g.newToolchain(nil)
			result, err := tool.ValidatePrerequisites(cmd.Context(), chain.executor.Config())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(out, tool.FormatPrerequisiteReport(result))

			loader, err := g.newLoader()
			if err != nil {
				return err
			}
			catalogOK := true
			if _, err := os.Stat(loader.SuitesPath()); err != nil {
				catalogOK = false
			}

			details := []ui.Param{
				{Key: "objdump", Value: g.cfg.Tools.Objdump},
				{Key: "sigtool", Value: g.cfg.Tools.Sigtool},
				{Key: "Disassembler", Value: g.cfg.Tools.Disassembler},
				{Key: "Suites index", Value: loader.SuitesPath()},
			}

			if !result.AllAvailable {
				p.PrintError("Setup incomplete", errors.New("required tools are missing"), []string{
					"objdump comes with GNU binutils: " + urls.Binutils,
					"Point tools.objdump at an AArch64-capable build, or pass --objdump",
				})
				return errors.New("setup incomplete")
			}
			if !catalogOK {
				p.PrintWarning("Tools ready, catalog missing", append(details,
					ui.Param{Key: "Next", Value: "patchscan catalog fetch"})...)
				return nil
			}
			if g.cfg.Tools.Disassembler == config.DisassemblerNative {
				details = append(details, ui.Param{Key: "Note", Value: "disassembly is decoded in-process"})
			}
			p.PrintSuccess("Setup verified", details...)
			return nil
		},
	}
}
