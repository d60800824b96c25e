package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/artifact"
	"github.com/sells-group/intent-cli/internal/assign"
	"github.com/sells-group/intent-cli/internal/coverage"
	"github.com/sells-group/intent-cli/internal/events"
	"github.com/sells-group/intent-cli/internal/extract"
	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/normalize"
	"github.com/sells-group/intent-cli/internal/taxonomy"
)

// topIntents is how many ranked intents the analysis report lists.
const topIntents = 5

func (s *runState) execute(ctx context.Context) (*events.Results, error) {
	s.progress("Starting intent discovery for %s", companyName(s.job.Company))

	workDir, cleanup, err := s.workDir()
	if err != nil {
		return nil, &FatalError{Stage: StageNormalize, Err: err}
	}
	defer cleanup()

	convs, err := s.normalize(ctx, workDir)
	if err != nil {
		return nil, err
	}

	tax, categories, err := s.loadTaxonomy(ctx, workDir)
	if err != nil {
		return nil, err
	}

	reasons, err := s.extract(ctx, convs, categories)
	if err != nil {
		return nil, err
	}

	assigned, err := s.assign(ctx, reasons, categories)
	if err != nil {
		return nil, err
	}

	return s.analyze(ctx, tax, len(convs), reasons, assigned)
}

func (s *runState) normalize(ctx context.Context, workDir string) ([]model.Conversation, error) {
	s.transition(model.RunStatusNormalizing)
	s.progress("Step 0: preparing transcripts")

	var res *normalize.Result
	err := s.track(StageNormalize, func() (*model.PhaseResult, error) {
		table, err := normalize.Load(ctx, s.o.deps.Source, s.job.Input, workDir)
		if err != nil {
			return nil, err
		}
		s.progress("Loaded %d rows", len(table.Rows))

		res, err = normalize.Normalize(table, normalize.Options{
			MaxConversations: s.opts.MaxConversations,
			Seed:             s.opts.Seed,
		})
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"rows":              res.Stats.TotalRows,
			"discarded_corrupt": res.Stats.DiscardedCorrupt,
			"invalid_rows":      res.Stats.InvalidRows,
			"conversations":     res.Stats.Conversations,
		}}, nil
	})
	if err != nil {
		return nil, s.fatal(ctx, StageNormalize, err)
	}

	st := res.Stats
	if st.DiscardedCorrupt > 0 {
		s.progress("Filtered out %d rows with doubled file extensions", st.DiscardedCorrupt)
	}
	if st.InvalidRows > 0 {
		s.progress("Skipped %d rows without text or a valid start offset", st.InvalidRows)
	}
	if st.Sampled() {
		s.progress("Sampled %d of %d conversations", st.Conversations, st.Grouped)
	}
	s.progress("%s", coverage.Coverage("Step 0", st.Conversations, st.Grouped, "conversations prepared"))

	art, err := artifact.NewRun(s.opts.BaseDir, s.job.Company, s.o.deps.Now())
	if err != nil {
		return nil, s.fatal(ctx, StageNormalize, err)
	}
	s.art = art
	s.log = s.log.With(zap.String("run_id", art.ID))
	s.progress("Project directory: %s", art.Dir)
	if s.storeID != "" {
		if err := s.o.deps.Store.SetRunDir(s.bg, s.storeID, art.Dir); err != nil {
			s.log.Warn("orchestrator: failed to record run dir", zap.Error(err))
		}
	}
	if err := art.WriteTranscripts(res.Conversations); err != nil {
		return nil, s.fatal(ctx, StageNormalize, err)
	}

	return res.Conversations, s.stopped(ctx)
}

func (s *runState) loadTaxonomy(ctx context.Context, workDir string) (*taxonomy.Taxonomy, string, error) {
	s.transition(model.RunStatusLoadingTaxonomy)

	var tax *taxonomy.Taxonomy
	err := s.track(StageTaxonomy, func() (*model.PhaseResult, error) {
		var err error
		tax, err = taxonomy.Load(ctx, s.o.deps.Source, s.job.Taxonomy, workDir)
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"categories": tax.Len()}}, nil
	})
	if err != nil {
		return nil, "", s.fatal(ctx, StageTaxonomy, err)
	}

	var categories string
	if r := s.o.deps.Renderer; r != nil {
		categories = r.Render(tax)
	} else {
		categories = tax.Text()
	}
	if err := s.art.WriteTaxonomy(categories); err != nil {
		return nil, "", s.fatal(ctx, StageTaxonomy, err)
	}

	s.progress("Loaded taxonomy: %d categories", tax.Len())
	return tax, categories, s.stopped(ctx)
}

func (s *runState) extract(ctx context.Context, convs []model.Conversation, categories string) ([]model.ReasonRecord, error) {
	s.transition(model.RunStatusExtracting)
	s.progress("Step 1: extracting call reasons from %d conversations", len(convs))

	var res *extract.Result
	err := s.track(StageExtract, func() (*model.PhaseResult, error) {
		step := progressStep(len(convs))
		var err error
		res, err = extract.Run(ctx, s.o.deps.Generator, convs, categories, extract.Config{
			Workers:     s.opts.Workers,
			MinWords:    s.opts.MinWords,
			MaxWords:    s.opts.MaxWords,
			Model:       s.opts.Model,
			MaxTokens:   s.opts.MaxTokens,
			Temperature: s.opts.Temperature,
			TopP:        s.opts.TopP,
			Template:    s.opts.Templates.Extract,
			Company:     s.job.Company,
			Description: s.job.Description,
		}, func(done, total int) {
			if done == total || done%step == 0 {
				s.progress("Extracted %d/%d", done, total)
			}
		})
		if res == nil {
			return nil, err
		}
		return &model.PhaseResult{
			TokenUsage: res.Usage,
			Metadata: map[string]any{
				"reasons":  res.Reasons(),
				"failures": res.Failures,
			},
		}, err
	})
	if err != nil {
		return nil, s.fatal(ctx, StageExtract, err)
	}

	if err := s.art.WriteReasons(res.Records); err != nil {
		return nil, s.fatal(ctx, StageExtract, err)
	}
	s.progress("%s", coverage.Coverage("Step 1", res.Reasons(), len(convs), "reasons extracted"))
	if res.Failures > 0 {
		s.progress("%d conversations got no reason", res.Failures)
	}
	return res.Records, s.stopped(ctx)
}

func (s *runState) assign(ctx context.Context, records []model.ReasonRecord, categories string) (*assign.Result, error) {
	s.transition(model.RunStatusAssigning)

	present := 0
	for _, r := range records {
		if r.Present() {
			present++
		}
	}
	s.progress("Step 2: categorizing %d reasons", present)

	var res *assign.Result
	err := s.track(StageAssign, func() (*model.PhaseResult, error) {
		var err error
		res, err = assign.Run(ctx, s.o.deps.Generator, records, categories, assign.Config{
			ChunkSize:   s.opts.ChunkSize,
			Parallelism: s.opts.ChunkParallelism,
			Model:       s.opts.Model,
			MaxTokens:   s.opts.AssignMaxTokens,
			Temperature: s.opts.Temperature,
			TopP:        s.opts.TopP,
			Template:    s.opts.Templates.Assign,
			Company:     s.job.Company,
			Description: s.job.Description,
		}, func(c assign.ChunkReport) {
			if c.Skipped() {
				s.progress("Chunk %d-%d failed", c.Start, c.End)
			}
			s.progress("Progress: %d%%", c.Done*100/max(c.Total, 1))
		})
		if res == nil {
			return nil, err
		}
		return &model.PhaseResult{
			TokenUsage: res.Usage,
			Metadata: map[string]any{
				"categorized":    len(res.Intents),
				"failures":       res.Failures,
				"chunks":         res.Chunks,
				"chunks_skipped": res.ChunksSkipped,
			},
		}, err
	})
	if err != nil {
		return nil, s.fatal(ctx, StageAssign, err)
	}

	if err := s.art.WriteMapping(res.Intents); err != nil {
		return nil, s.fatal(ctx, StageAssign, err)
	}
	s.progress("%s", coverage.Coverage("Step 2", len(res.Intents), present, "reasons categorized"))
	s.progress("Score distribution: %s", scoreDistribution(res.Intents))
	return res, s.stopped(ctx)
}

func (s *runState) analyze(ctx context.Context, tax *taxonomy.Taxonomy, total int, records []model.ReasonRecord, assigned *assign.Result) (*events.Results, error) {
	s.transition(model.RunStatusAnalyzing)

	reasons := 0
	for _, r := range records {
		if r.Present() {
			reasons++
		}
	}

	var report *coverage.Report
	_ = s.track(StageAnalyze, func() (*model.PhaseResult, error) {
		report = coverage.Analyze(assigned.Intents, coverage.Totals{
			Conversations: total,
			Reasons:       reasons,
			Categorized:   len(assigned.Intents),
		}, coverage.Options{
			Threshold: s.opts.Threshold,
			Fallback:  s.opts.Fallback,
			Known: func(path string) bool {
				_, ok := tax.Lookup(path)
				return ok
			},
		})
		return &model.PhaseResult{Metadata: map[string]any{
			"accepted":       report.Accepted,
			"unique_intents": len(report.Intents),
			"threshold_used": report.ThresholdUsed,
		}}, nil
	})
	s.report(report)

	if err := s.art.WriteSummary(artifact.Summary{
		RunID:       s.art.ID,
		Company:     s.job.Company,
		CreatedAt:   s.o.deps.Now().UTC(),
		Intents:     report.Intents,
		Coverage:    report,
		Usage:       s.usage,
		MappingFile: artifact.FileMapping,
	}); err != nil {
		s.log.Warn("orchestrator: failed to write summary", zap.Error(err))
	}
	if s.o.deps.Mirror != nil {
		uploaded, failed := s.art.Sync(s.bg, s.o.deps.Mirror)
		s.progress("Mirrored %d artifacts (%d failed)", uploaded, failed)
	}
	if err := s.stopped(ctx); err != nil {
		return nil, err
	}

	results := &events.Results{
		Intents:           report.Intents,
		TotalIntents:      len(report.Intents),
		TotalProcessed:    total,
		IntentsAssigned:   report.Accepted,
		IntentMappingFile: s.art.Path(artifact.FileMapping),
		ProjectDir:        s.art.Dir,
		RunID:             s.art.ID,
		Coverage:          report,
	}

	s.transition(model.RunStatusComplete)
	if s.storeID != "" {
		if err := s.o.deps.Store.CompleteRun(s.bg, s.storeID, s.runResult(report, records, assigned)); err != nil {
			s.log.Warn("orchestrator: failed to record result", zap.Error(err))
		}
	}
	if err := s.em.Emit(s.bg, events.Complete(*results)); err != nil {
		s.log.Info("orchestrator: complete event not delivered", zap.Error(err))
	}
	return results, nil
}

// report emits the analysis diagnostics.
func (s *runState) report(r *coverage.Report) {
	s.progress("Coverage diagnostic report")
	for _, st := range r.Stages {
		s.progress("  %s: %d -> %d (%d lost, %.1f%% of conversations kept)", st.Stage, st.In, st.Out, st.Lost, st.Percent)
	}
	s.progress("Score distribution:")
	for _, h := range r.Histogram {
		s.progress("  Score %d: %d (%.1f%% of mapped, %.1f%% of total)", h.Score, h.Count, h.PercentMapped, h.PercentTotal)
	}
	for _, th := range r.Thresholds {
		s.progress("  If using >=%d: %d intents (%.1f%%)", th.Threshold, th.Count, th.Percent)
	}
	if r.FallbackUsed {
		s.progress("No intent reached score %d; using fallback threshold %d", r.Threshold, r.ThresholdUsed)
	}
	s.progress("Using L3 score >= %d: %d/%d conversations", r.ThresholdUsed, r.Accepted, r.Totals.Conversations)
	if r.OffTaxonomy > 0 {
		s.progress("%d accepted intents are not in the taxonomy", r.OffTaxonomy)
	}
	for _, rec := range r.Recommendations {
		s.progress("Recommendation: %s", rec)
	}

	if len(r.Intents) > 0 {
		s.progress("Top %d intents:", min(topIntents, len(r.Intents)))
		for i, in := range r.Intents[:min(topIntents, len(r.Intents))] {
			s.progress("  %d. %s: %d calls (%.1f%%)", i+1, in.Intent, in.Volume, in.Percentage)
		}
	}
	s.progress("Complete: %d unique intents", len(r.Intents))
	s.progress("%s", coverage.Coverage("Final", r.Accepted, r.Totals.Conversations, "calls with an accepted intent"))
}

func (s *runState) runResult(r *coverage.Report, records []model.ReasonRecord, assigned *assign.Result) *model.RunResult {
	return &model.RunResult{
		Conversations:          r.Totals.Conversations,
		Reasons:                r.Totals.Reasons,
		ExtractionFailures:     len(records) - r.Totals.Reasons,
		Categorized:            r.Totals.Categorized,
		CategorizationFailures: assigned.Failures,
		ChunksSkipped:          assigned.ChunksSkipped,
		Accepted:               r.Accepted,
		UniqueIntents:          len(r.Intents),
		ThresholdUsed:          r.ThresholdUsed,
		MappingFile:            s.art.Path(artifact.FileMapping),
		TotalTokens:            s.usage.Total(),
		TotalCost:              s.usage.Cost,
		Phases:                 s.phases,
	}
}

// progressStep reports every tenth of the work, at least every unit.
func progressStep(total int) int {
	return max(total/10, 1)
}

func scoreDistribution(intents []model.CategorizedIntent) string {
	counts := make(map[int]int)
	for _, ci := range intents {
		counts[ci.L3Score]++
	}
	parts := make([]string, 0, model.MaxScore)
	for sc := model.MaxScore; sc >= model.MinScore; sc-- {
		if counts[sc] > 0 {
			parts = append(parts, fmt.Sprintf("%d: %d", sc, counts[sc]))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func companyName(c string) string {
	if strings.TrimSpace(c) == "" {
		return "Company"
	}
	return c
}
