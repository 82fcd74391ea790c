package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/patchscan/internal/signature"
	"github.com/muurk/patchscan/internal/symtab"
	"github.com/muurk/patchscan/internal/ui"
)

func newSignatureCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signature",
		Short: "Inspect and check code signatures",
		Long: `Inspect and check the code signatures used by binary tests.

MASK signatures are SHA-256 digests of masked function code. ROLLING
signatures are pairs of rolling checksums computed by sigtool.`,
	}
	cmd.AddCommand(
		newSignatureParseCmd(),
		newSignatureCheckCmd(g),
		newSignatureSearchCmd(g),
	)
	return cmd
}

func newSignatureParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <signature>",
		Short: "Parse a signature and print its fields",
		Example: `  patchscan signature parse 'MASK:10:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08'`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			sig, err := signature.Parse(args[0])
			if err != nil {
				return err
			}

			details := []ui.Param{
				{Key: "Type", Value: sig.Type()},
				{Key: "Code length", Value: strconv.Itoa(sig.CodeLength())},
			}
			switch s := sig.(type) {
			case *signature.MaskSignature:
				details = append(details,
					ui.Param{Key: "Digest", Value: s.Digest()},
					ui.Param{Key: "Masks", Value: strconv.Itoa(len(s.Masks()))})
			case *signature.RollingSignature:
				c1, c2 := s.Checksum1(), s.Checksum2()
				details = append(details,
					ui.Param{Key: "Window", Value: strconv.Itoa(s.ChecksumLength())},
					ui.Param{Key: "Second window at", Value: strconv.Itoa(s.ChecksumOffset())},
					ui.Param{Key: "Checksum 1", Value: fmt.Sprintf("%x", c1[:])},
					ui.Param{Key: "Checksum 2", Value: fmt.Sprintf("%x", c2[:])},
					ui.Param{Key: "sigtool arch", Value: s.ArchArg()})
			}
			details = append(details, ui.Param{Key: "Canonical", Value: sig.String()})

			ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Signature is valid", details...)
			return nil
		},
	}
}

func newSignatureCheckCmd(g *globalOptions) *cobra.Command {
	var (
		offset int64
		symbol string
	)

	cmd := &cobra.Command{
		Use:   "check <signature> <file>",
		Short: "Check a signature against the code at a file offset or symbol",
		Example: `  # At an explicit file offset
  patchscan signature check 'MASK:...' libfoo.so --offset 0x1a40

  # At the file position of a symbol
  patchscan signature check 'ROLLING_SIGNATURE:...' libfoo.so --symbol foo_parse`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path := args[1]
			chain := g.newToolchain(nil)

			sig, err := signature.Parse(args[0], signature.WithCalculator(chain.sigtool))
			if err != nil {
				return err
			}

			pos := offset
			if symbol != "" {
				table, err := symtab.NewBuilder(chain.objdump, g.logger).Build(cmd.Context(), path)
				if err != nil {
					return err
				}
				sym, ok := table.Lookup(symbol)
				if !ok {
					return fmt.Errorf("symbol %s not found in %s", symbol, path)
				}
				pos = int64(sym.FilePosition)
			}

			code, err := readCode(path, pos, sig.CodeLength())
			if err != nil {
				return err
			}
			match, err := sig.CheckCodeBuf(cmd.Context(), code)
			if err != nil {
				return fmt.Errorf("failed to check signature: %w", err)
			}

			p := ui.NewPrinter(cmd.OutOrStdout())
			details := []ui.Param{
				{Key: "File", Value: path},
				{Key: "Offset", Value: fmt.Sprintf("%#x", pos)},
				{Key: "Type", Value: sig.Type()},
			}
			if match {
				p.PrintSuccess("Signature matches", details...)
			} else {
				p.PrintWarning("Signature does not match", details...)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&offset, "offset", 0, "File offset of the code")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Check at the file position of this symbol")
	cmd.MarkFlagsMutuallyExclusive("offset", "symbol")
	return cmd
}

func newSignatureSearchCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <file> <rolling-signature>...",
		Short: "Find rolling signatures anywhere in a file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path := args[0]
			chain := g.newToolchain(nil)

			scanner := signature.NewScanner(chain.sigtool, g.logger)
			for _, s := range args[1:] {
				if err := scanner.AddString(s); err != nil {
					return err
				}
			}

			hits, err := scanner.ScanFile(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, h := range hits {
				_, _ = fmt.Fprintf(out, "%#08x  %s\n", h.Position, h.Signature)
			}
			_, _ = fmt.Fprintf(out, "%d hits for %d signatures\n", len(hits), scanner.Len())
			return nil
		},
	}
}

// readCode reads n bytes of path at offset. A short read returns the
// bytes available; signatures treat short code as a mismatch.
func readCode(path string, offset int64, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read %s at %#x: %w", path, offset, err)
	}
	return buf[:read], nil
}
