// Package coverage measures how many conversations survive each stage and
// ranks the accepted intents.
package coverage

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/sells-group/intent-cli/internal/model"
)

// CandidateThresholds are the L3 score cut-offs reported side by side.
var CandidateThresholds = []int{5, 4, 3, 2}

// Heuristic floors below which a recommendation is emitted.
const (
	MinReasonCoverage    = 90.0
	MinHighConfidenceFrc = 0.5
	HighConfidenceScore  = 4
)

// Totals are the per-stage unit counts of a run.
type Totals struct {
	Conversations int `json:"conversations"`
	Reasons       int `json:"reasons"`
	Categorized   int `json:"categorized"`
}

// ThresholdCoverage is the share of conversations at or above a score.
type ThresholdCoverage struct {
	Threshold int     `json:"threshold"`
	Count     int     `json:"count"`
	Percent   float64 `json:"percent"`
}

// StageLoss records how many units a stage kept.
type StageLoss struct {
	Stage   string  `json:"stage"`
	In      int     `json:"in"`
	Out     int     `json:"out"`
	Lost    int     `json:"lost"`
	Percent float64 `json:"percent"`
}

// ScoreCount is one histogram bucket.
type ScoreCount struct {
	Score         int     `json:"score"`
	Count         int     `json:"count"`
	PercentMapped float64 `json:"percent_mapped"`
	PercentTotal  float64 `json:"percent_total"`
}

// Options configures acceptance.
type Options struct {
	Threshold int
	Fallback  int
	// Known reports whether a path is in the taxonomy. Nil skips the check.
	Known func(path string) bool
}

// Report is the coverage analysis of one run.
type Report struct {
	Totals          Totals                `json:"totals"`
	Histogram       []ScoreCount          `json:"histogram"`
	Thresholds      []ThresholdCoverage   `json:"thresholds"`
	Threshold       int                   `json:"threshold"`
	ThresholdUsed   int                   `json:"threshold_used"`
	FallbackUsed    bool                  `json:"fallback_used"`
	Accepted        int                   `json:"accepted"`
	OffTaxonomy     int                   `json:"off_taxonomy"`
	Stages          []StageLoss           `json:"stages"`
	Recommendations []string              `json:"recommendations"`
	Intents         []model.IntentSummary `json:"-"`
}

// Analyze builds the report. Percentages are of the Stage 0 conversation
// count. When nothing reaches the threshold and a lower fallback is set, the
// fallback threshold is used for acceptance.
func Analyze(intents []model.CategorizedIntent, totals Totals, opts Options) *Report {
	if opts.Threshold <= 0 {
		opts.Threshold = HighConfidenceScore
	}

	r := &Report{Totals: totals}
	r.Histogram = histogram(intents, totals.Conversations)
	for _, th := range CandidateThresholds {
		n := countAtLeast(intents, th)
		r.Thresholds = append(r.Thresholds, ThresholdCoverage{
			Threshold: th,
			Count:     n,
			Percent:   percent(n, totals.Conversations),
		})
	}

	r.Threshold = opts.Threshold
	r.ThresholdUsed = opts.Threshold
	if countAtLeast(intents, opts.Threshold) == 0 && opts.Fallback > 0 && opts.Fallback < opts.Threshold {
		r.ThresholdUsed = opts.Fallback
		r.FallbackUsed = true
	}

	var accepted []model.CategorizedIntent
	for _, ci := range intents {
		if !ci.Accepted(r.ThresholdUsed) {
			continue
		}
		accepted = append(accepted, ci)
		if opts.Known != nil && !opts.Known(ci.CategoryPath) {
			r.OffTaxonomy++
		}
	}
	r.Accepted = len(accepted)
	r.Intents = Summarize(accepted, totals.Conversations)

	r.Stages = []StageLoss{
		stage("extract", totals.Conversations, totals.Reasons, totals.Conversations),
		stage("assign", totals.Reasons, totals.Categorized, totals.Conversations),
		stage("accept", totals.Categorized, r.Accepted, totals.Conversations),
	}
	r.Recommendations = recommend(r, countAtLeast(intents, HighConfidenceScore))
	return r
}

// Summarize groups accepted intents by path, ranked by volume descending
// then path ascending. Percentages are of total, rounded to one decimal.
func Summarize(accepted []model.CategorizedIntent, total int) []model.IntentSummary {
	volumes := make(map[string]int)
	for _, ci := range accepted {
		volumes[ci.CategoryPath]++
	}

	out := make([]model.IntentSummary, 0, len(volumes))
	for path, v := range volumes {
		l1, l2, l3 := model.SplitPath(path)
		out = append(out, model.IntentSummary{
			Intent:     path,
			Volume:     v,
			Percentage: round1(percent(v, total)),
			Level1:     l1,
			Level2:     l2,
			Level3:     l3,
		})
	}
	slices.SortFunc(out, func(a, b model.IntentSummary) int {
		if c := cmp.Compare(b.Volume, a.Volume); c != 0 {
			return c
		}
		return cmp.Compare(a.Intent, b.Intent)
	})
	return out
}

// Coverage formats the stage progress line "<stage> Coverage: s/t (p%) - detail".
func Coverage(stage string, s, t int, detail string) string {
	line := fmt.Sprintf("%s Coverage: %d/%d (%.1f%%)", stage, s, t, percent(s, t))
	if detail != "" {
		line += " - " + detail
	}
	return line
}

func histogram(intents []model.CategorizedIntent, total int) []ScoreCount {
	counts := make(map[int]int)
	for _, ci := range intents {
		counts[ci.L3Score]++
	}
	var out []ScoreCount
	for s := model.MaxScore; s >= model.MinScore; s-- {
		n, ok := counts[s]
		if !ok {
			continue
		}
		out = append(out, ScoreCount{
			Score:         s,
			Count:         n,
			PercentMapped: percent(n, len(intents)),
			PercentTotal:  percent(n, total),
		})
	}
	return out
}

func recommend(r *Report, highConfidence int) []string {
	var recs []string
	if reasonCov := percent(r.Totals.Reasons, r.Totals.Conversations); reasonCov < MinReasonCoverage {
		recs = append(recs, fmt.Sprintf("Improve the reason prompt: only %.1f%% of conversations produced a reason", reasonCov))
	}
	if r.Totals.Conversations > 0 && float64(highConfidence)/float64(r.Totals.Conversations) < MinHighConfidenceFrc {
		recs = append(recs, fmt.Sprintf("Review the category taxonomy: only %.1f%% of conversations matched with score %d or higher; categories may not match actual customer intents",
			percent(highConfidence, r.Totals.Conversations), HighConfidenceScore))
	}
	if r.FallbackUsed {
		recs = append(recs, fmt.Sprintf("No assignment reached score %d; results use the fallback threshold %d", r.Threshold, r.ThresholdUsed))
	}
	if r.Accepted == 0 {
		recs = append(recs, "Lower the score threshold or improve category matching")
	}
	if r.OffTaxonomy > 0 {
		recs = append(recs, fmt.Sprintf("%d accepted assignments use paths outside the taxonomy", r.OffTaxonomy))
	}
	return recs
}

func countAtLeast(intents []model.CategorizedIntent, th int) int {
	n := 0
	for _, ci := range intents {
		if ci.L3Score >= th {
			n++
		}
	}
	return n
}

func stage(name string, in, out, total int) StageLoss {
	return StageLoss{Stage: name, In: in, Out: out, Lost: in - out, Percent: percent(out, total)}
}

func percent(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
