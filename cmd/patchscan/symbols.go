package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/muurk/patchscan/internal/symtab"
	"github.com/muurk/patchscan/internal/ui"
)

func newSymbolsCmd(g *globalOptions) *cobra.Command {
	var (
		filter  string
		limit   int
		mangled bool
	)

	cmd := &cobra.Command{
		Use:   "symbols <binary>",
		Short: "List the code symbols of a binary as binary tests see them",
		Long: `List the code symbols recovered from objdump for a firmware binary.

Each symbol is shown with its address, length and file position, the byte
offset that code signatures are checked at. Names are demangled unless
--mangled is given.`,
		Example: `  # All symbols of a library
  patchscan symbols ./extracted/system/lib64/libstagefright.so

  # Symbols matching a regular expression
  patchscan symbols ./extracted/system/lib64/libc.so --filter '^mem'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path := args[0]

			var re *regexp.Regexp
			if filter != "" {
				var err error
				if re, err = regexp.Compile(filter); err != nil {
					return fmt.Errorf("invalid --filter: %w", err)
				}
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("cannot read %s: %w", path, err)
			}

			chain := g.newToolchain(nil)
			table, err := symtab.NewBuilder(chain.objdump, g.logger).Build(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ADDRESS\tLENGTH\tFILE POS\tNAME")
			shown := 0
			for _, sym := range table.Symbols() {
				if re != nil && !re.MatchString(sym.Name) {
					continue
				}
				if limit > 0 && shown >= limit {
					break
				}
				name := sym.Name
				if !mangled {
					name = symtab.DisplayName(name)
				}
				_, _ = fmt.Fprintf(tw, "%#x\t%d\t%#x\t%s\n", sym.Address, sym.Length, sym.FilePosition, name)
				shown++
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "\n%d of %d symbols, %d code sections\n", shown, table.Len(), len(table.Sections()))

			if g.verbose {
				var sb strings.Builder
				for _, s := range table.Sections() {
					fmt.Fprintf(&sb, "vma %#x  size %#x  offset %#x\n", s.VMA, s.Size, s.FileOffset)
				}
				ui.NewPrinter(out).PrintToolOutput("Code sections", sb.String(), 50)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Only show symbols whose raw name matches this regular expression")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many symbols (0 for all)")
	cmd.Flags().BoolVar(&mangled, "mangled", false, "Show raw, undemangled names")
	return cmd
}
