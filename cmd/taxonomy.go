package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/intent-cli/internal/fetcher"
	"github.com/sells-group/intent-cli/internal/taxonomy"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Taxonomy utilities",
}

var taxonomyConvertCmd = &cobra.Command{
	Use:   "convert <source>",
	Short: "Convert a csv, tsv or xlsx taxonomy into the indented text form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		src := fetcher.NewOpener(fetcher.Options{
			Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			RPS:     rate.Limit(cfg.Fetch.RPS),
		})
		n, err := convertTaxonomy(cmd.Context(), src, args[0], out)
		if err != nil {
			return eris.Wrap(err, "taxonomy convert")
		}
		zap.L().Info("taxonomy converted", zap.Int("categories", n), zap.String("output", out))
		return nil
	},
}

// convertTaxonomy loads src, sorts it by level and writes its text form to
// out, or to stdout when out is empty. It returns the category count.
func convertTaxonomy(ctx context.Context, s taxonomy.Source, src, out string) (int, error) {
	workDir, err := os.MkdirTemp("", "intent-taxonomy-*")
	if err != nil {
		return 0, eris.Wrap(err, "create work dir")
	}
	defer os.RemoveAll(workDir) //nolint:errcheck

	tax, err := taxonomy.Load(ctx, s, src, workDir)
	if err != nil {
		return 0, err
	}
	text := tax.Sorted().Text()

	if out == "" {
		_, err = os.Stdout.WriteString(text)
		return tax.Len(), err
	}
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return 0, eris.Wrapf(err, "write %s", out)
	}
	return tax.Len(), nil
}

func init() {
	taxonomyConvertCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	taxonomyCmd.AddCommand(taxonomyConvertCmd)
	rootCmd.AddCommand(taxonomyCmd)
}
