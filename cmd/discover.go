package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/events"
	"github.com/sells-group/intent-cli/internal/orchestrator"
)

// discoverer runs one discovery job against an event sink.
type discoverer interface {
	Run(ctx context.Context, job orchestrator.Job, sink events.Sink) (*events.Results, error)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run intent discovery on a transcript file and stream events as JSON lines",
	Example: `  intent-cli discover --input calls.csv --taxonomy taxonomy.xlsx --company "Acme Wireless"
  intent-cli discover --input https://exports.example.com/calls.zip --taxonomy tax.txt --threshold 3`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		job, err := jobFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initDiscovery(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		return runDiscover(ctx, env.Orchestrator, job, events.NewJSONLinesSink(os.Stdout))
	},
}

// runDiscover executes job and logs the outcome. Events, including the
// error event of a failed run, have already reached sink.
func runDiscover(ctx context.Context, d discoverer, job orchestrator.Job, sink events.Sink) error {
	res, err := d.Run(ctx, job, sink)
	if err != nil {
		return eris.Wrap(err, "discover")
	}
	zap.L().Info("discovery complete",
		zap.String("company", job.Company),
		zap.String("run_id", res.RunID),
		zap.Int("intents", res.TotalIntents),
		zap.Int("processed", res.TotalProcessed),
	)
	return nil
}

func jobFromFlags(cmd *cobra.Command) (orchestrator.Job, error) {
	f := cmd.Flags()
	var job orchestrator.Job
	job.Input, _ = f.GetString("input")
	job.Taxonomy, _ = f.GetString("taxonomy")
	job.Company, _ = f.GetString("company")
	job.Description, _ = f.GetString("description")
	job.MaxConversations, _ = f.GetInt("max-calls")
	job.Threshold, _ = f.GetInt("threshold")
	job.ChunkSize, _ = f.GetInt("chunk-size")
	job.Workers, _ = f.GetInt("workers")

	if path, _ := f.GetString("prompt-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return job, eris.Wrap(err, "read prompt template")
		}
		job.PromptTemplate = string(data)
	}

	if job.Input == "" || job.Taxonomy == "" {
		return job, eris.New("--input and --taxonomy are required")
	}
	return job, nil
}

func addDiscoverFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("input", "", "transcript source: local path, http(s) or ftp URL (csv, tsv, xlsx or zip)")
	f.String("taxonomy", "", "taxonomy source: csv, tsv, xlsx or indented text")
	f.String("company", "", "company name used in prompts and the run directory")
	f.String("description", "", "company description used in prompts")
	f.Int("max-calls", 0, "max conversations to sample (default from config)")
	f.Int("threshold", 0, "minimum L3 score for an accepted intent, 1-5 (default from config)")
	f.Int("chunk-size", 0, "reasons per categorization request (default from config)")
	f.Int("workers", 0, "concurrent extraction calls (default from config)")
	f.String("prompt-file", "", "file holding a custom extraction prompt template")
}

func init() {
	addDiscoverFlags(discoverCmd)
	rootCmd.AddCommand(discoverCmd)
}
