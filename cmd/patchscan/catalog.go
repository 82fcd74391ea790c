package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/patchscan/internal/catalog"
	"github.com/muurk/patchscan/internal/ui"
	"github.com/muurk/patchscan/internal/urls"
	"github.com/muurk/patchscan/internal/version"
)

func newCatalogCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the local vulnerability test catalog",
		Long: `Manage the local mirror of the vulnerability test catalog.

The catalog is a suites index mapping API levels to chunk files of atomic
tests and vulnerabilities. It is read from catalog.dir in the config file.`,
	}
	cmd.AddCommand(
		newCatalogFetchCmd(g),
		newCatalogVerifyCmd(g),
		newCatalogShowCmd(g),
	)
	return cmd
}

func newCatalogFetchCmd(g *globalOptions) *cobra.Command {
	var (
		apiLevel   int
		signatures bool
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the test suites into the catalog directory",
		Example: `  # Every API level
  patchscan catalog fetch

  # One level, with detached signatures
  patchscan catalog fetch --api-level 25 --signatures`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			c := g.cfg.Catalog
			if baseURL == "" {
				baseURL = c.BaseURL
			}

			fetcher := catalog.NewFetcher(baseURL, c.Dir, g.logger)
			fetcher.URLPrefix = c.URLPrefix
			fetcher.SuitesFile = c.SuitesFile
			fetcher.FetchSignatures = signatures || c.RequireSignatures
			fetcher.MaxRetries = c.MaxRetries
			fetcher.UserAgent = version.UserAgent()

			level := "all"
			if apiLevel > 0 {
				level = strconv.Itoa(apiLevel)
			}
			runner := ui.NewRunner(ui.RunnerConfig{
				Title:   "Catalog Fetch",
				Command: "patchscan catalog fetch",
				Params: []ui.Param{
					{Key: "Server", Value: baseURL},
					{Key: "Directory", Value: c.Dir},
					{Key: "API level", Value: level},
				},
				StepNames: []string{"Download test suites"},
				Troubleshooting: []string{
					"Check network connectivity to " + baseURL,
					"Set catalog.base_url to use a mirror",
				},
				Output: cmd.OutOrStdout(),
			})

			_, err := runner.Run(cmd.Context(), func(ctx context.Context, onStep ui.StepCallback, _ ui.AdvanceCallback) ([]ui.Param, error) {
				onStep(1, "", ui.StepRunning, "")
				res, err := fetcher.Fetch(ctx, apiLevel)
				if err != nil {
					onStep(1, "", ui.StepFailed, "")
					return nil, err
				}
				onStep(1, "", ui.StepComplete, fmt.Sprintf("%d files", len(res.Files)))
				return []ui.Param{
					{Key: "API levels", Value: strings.Join(res.APILevels, ", ")},
					{Key: "Files", Value: strconv.Itoa(len(res.Files))},
					{Key: "Size", Value: fmt.Sprintf("%.1f KiB", float64(res.Bytes)/1024)},
				}, nil
			})
			if err != nil {
				g.logger.Debug("Catalog fetch failed", zap.Error(err))
				return fmt.Errorf("%w\n\n%s", err, catalog.GetTroubleshootingHint(err))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&apiLevel, "api-level", 0, "Only fetch the suite for this API level (0 for all)")
	cmd.Flags().BoolVar(&signatures, "signatures", false, "Also fetch detached .asc signatures")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Download server (default: catalog.base_url)")
	return cmd
}

func newCatalogVerifyCmd(g *globalOptions) *cobra.Command {
	var apiLevel int

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the local catalog for missing files, bad references and signatures",
		Long: `Verify the local catalog.

Every chunk of the selected suites is loaded and checked for dangling test
references and unknown test types. When catalog.keyring is configured,
every file is also checked against its detached OpenPGP signature.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()
			c := g.cfg.Catalog

			loader, err := g.newLoader()
			if err != nil {
				return err
			}
			suites, err := loader.Suites()
			if err != nil {
				return fmt.Errorf("%w\n\n%s", err, catalog.GetTroubleshootingHint(err))
			}

			var verifier *catalog.Verifier
			if c.Keyring != "" {
				if verifier, err = catalog.NewVerifierFromFile(c.Keyring); err != nil {
					return err
				}
			}

			levels := suiteLevels(suites, apiLevel)
			if len(levels) == 0 {
				return catalog.NewUnsupportedError(apiLevel)
			}

			p := ui.NewPrinter(cmd.OutOrStdout())
			var problems []string
			if verifier != nil {
				if err := verifier.VerifyFile(loader.SuitesPath()); err != nil {
					problems = append(problems, err.Error())
				}
			}

			checked := make(map[string]bool)
			for _, level := range levels {
				n, _ := strconv.Atoi(level)
				for _, u := range suites[level].URLs() {
					path, err := loader.LocalPath(u)
					if err != nil {
						problems = append(problems, err.Error())
						continue
					}
					if verifier == nil || checked[path] {
						continue
					}
					checked[path] = true
					if err := verifier.VerifyFile(path); err != nil {
						problems = append(problems, err.Error())
					}
				}

				cat, err := loader.Load(ctx, n)
				if err != nil {
					problems = append(problems, fmt.Sprintf("API level %s: %v", level, err))
					continue
				}
				for _, prob := range cat.Validate() {
					problems = append(problems, fmt.Sprintf("API level %s: %s", level, prob))
				}
				p.Println(fmt.Sprintf("%s API level %s: %d vulnerabilities, %d tests",
					ui.SuccessMarker, level, cat.VulnerabilityCount(), cat.TestCount()))
			}

			details := []ui.Param{
				{Key: "Directory", Value: loader.Dir()},
				{Key: "API levels", Value: strings.Join(levels, ", ")},
			}
			if verifier != nil {
				details = append(details, ui.Param{Key: "Signed files", Value: strconv.Itoa(len(checked) + 1)})
			}
			if len(problems) > 0 {
				for _, prob := range problems {
					p.Println(fmt.Sprintf("%s %s", ui.FailureMarker, prob))
				}
				p.PrintWarning(fmt.Sprintf("Catalog has %d problems", len(problems)), details...)
				return fmt.Errorf("catalog verification found %d problems", len(problems))
			}
			p.PrintSuccess("Catalog verified", details...)
			return nil
		},
	}

	cmd.Flags().IntVar(&apiLevel, "api-level", 0, "Only verify the suite for this API level (0 for all)")
	return cmd
}

func newCatalogShowCmd(g *globalOptions) *cobra.Command {
	var apiLevel int

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a vulnerability or atomic test from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			id := args[0]
			if apiLevel == 0 {
				return fmt.Errorf("--api-level is required")
			}
			loader, err := g.newLoader()
			if err != nil {
				return err
			}
			cat, err := loader.Load(cmd.Context(), apiLevel)
			if err != nil {
				return err
			}

			p := ui.NewPrinter(cmd.OutOrStdout())
			if v, ok := cat.Vulnerability(id); ok {
				details := []ui.Param{
					{Key: "Patch level", Value: orNone(v.ReferenceDate())},
					{Key: "Bulletin", Value: urls.BulletinURL(v.ReferenceDate())},
				}
				if strings.HasPrefix(id, "CVE-") {
					details = append(details, ui.Param{Key: "Details", Value: urls.CVEDetail(id)})
				}
				details = append(details,
					ui.Param{Key: "Not affected", Value: v.TestNotAffected.String()},
					ui.Param{Key: "Vulnerable", Value: v.TestVulnerable.String()},
					ui.Param{Key: "Fixed", Value: v.TestFixed.String()},
					ui.Param{Key: "Tests", Value: strings.Join(v.References(), ", ")})
				p.PrintSuccess(id, details...)
				return nil
			}
			if t, ok := cat.Test(id); ok {
				details := []ui.Param{{Key: "Type", Value: string(t.TestType)}}
				for _, f := range []ui.Param{
					{Key: "Filename", Value: t.Filename},
					{Key: "Substring", Value: deref(t.Substring)},
					{Key: "Substring (base64)", Value: deref(t.SubstringB64)},
					{Key: "Zip item", Value: t.ZipItem},
					{Key: "Symbol", Value: t.Symbol},
					{Key: "Property", Value: t.BuildProperty},
					{Key: "Value", Value: t.Value},
					{Key: "Vendor", Value: t.Vendor},
					{Key: "Android", Value: t.AndroidVersion},
					{Key: "Signature", Value: t.Signature},
					{Key: "Rolling", Value: t.RollingSignature},
				} {
					if f.Value != "" {
						details = append(details, f)
					}
				}
				p.PrintSuccess(id, details...)
				return nil
			}
			return fmt.Errorf("%s not found in the API level %d suite", id, apiLevel)
		},
	}

	cmd.Flags().IntVar(&apiLevel, "api-level", 0, "API level of the suite to search")
	return cmd
}

// suiteLevels returns the selected API levels in numeric order.
func suiteLevels(suites catalog.Suites, apiLevel int) []string {
	if apiLevel > 0 {
		level := strconv.Itoa(apiLevel)
		if _, ok := suites[level]; !ok {
			return nil
		}
		return []string{level}
	}
	levels := make([]string, 0, len(suites))
	for level := range suites {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool {
		a, _ := strconv.Atoi(levels[i])
		b, _ := strconv.Atoi(levels[j])
		return a < b
	})
	return levels
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
