package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/artifact"
)

// filterResult is the outcome of selecting one intent's conversations.
type filterResult struct {
	Intent        string `json:"intent"`
	MinScore      int    `json:"min_score"`
	Conversations int    `json:"conversations"`
	File          string `json:"file"`
}

// filterIntent writes the transcripts of every conversation in runDir mapped
// to intent with an L3 score of at least minScore.
func filterIntent(runDir, intent string, minScore int) (*filterResult, error) {
	if runDir == "" || intent == "" {
		return nil, eris.New("run directory and intent are required")
	}
	ids, err := artifact.FilterByIntent(filepath.Join(runDir, artifact.FileMapping), intent, minScore)
	if err != nil {
		return nil, err
	}
	path, err := artifact.WriteFilteredTranscripts(runDir, intent, ids)
	if err != nil {
		return nil, err
	}
	zap.L().Info("filtered transcripts written",
		zap.String("intent", intent),
		zap.Int("conversations", len(ids)),
		zap.String("path", path),
	)
	return &filterResult{Intent: intent, MinScore: minScore, Conversations: len(ids), File: path}, nil
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Write the transcripts of one discovered intent from a finished run",
	Example: `  intent-cli filter --run-dir runs/AcmeWireless/Project_20260301_093000_ab12cd \
    --intent "Account Management - Access - Login Issue"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("filter"); err != nil {
			return err
		}

		runDir, _ := cmd.Flags().GetString("run-dir")
		intent, _ := cmd.Flags().GetString("intent")
		minScore, _ := cmd.Flags().GetInt("min-score")
		if minScore <= 0 {
			minScore = cfg.Pipeline.AcceptThreshold
		}

		res, err := filterIntent(runDir, intent, minScore)
		if err != nil {
			return eris.Wrap(err, "filter")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	filterCmd.Flags().String("run-dir", "", "project directory of a finished run")
	filterCmd.Flags().String("intent", "", "full category path, e.g. \"L1 - L2 - L3\"")
	filterCmd.Flags().Int("min-score", 0, "minimum L3 score (default: accept threshold)")
	rootCmd.AddCommand(filterCmd)
}
