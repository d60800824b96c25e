// Package extract runs Stage 1: one backend call per conversation, each
// producing a short free-text reason for the call.
package extract

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intent-cli/internal/llm"
	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/prompt"
)

// ErrEmptyReason is recorded when a response carries no usable reason.
var ErrEmptyReason = eris.New("extract: empty reason")

// Config holds the Stage 1 parameters of one run.
type Config struct {
	Workers     int
	MinWords    int
	MaxWords    int
	Model       string
	MaxTokens   int64
	Temperature float64
	TopP        float64
	Template    prompt.Template
	Company     string
	Description string
}

// Result is the Stage 1 output. Records has one entry per conversation, in
// input order.
type Result struct {
	Records  []model.ReasonRecord
	Failures int
	Usage    model.TokenUsage
}

// Reasons returns the number of present records.
func (r *Result) Reasons() int {
	return len(r.Records) - r.Failures
}

// ProgressFunc is told how many conversations have finished. Calls are
// serialized.
type ProgressFunc func(done, total int)

// Run extracts a reason for every conversation using at most cfg.Workers
// concurrent calls. A failed conversation leaves an absent record at its
// index and does not stop the others. When ctx is canceled no further calls
// are dispatched; the partial result is returned with the context error.
func Run(ctx context.Context, gen llm.Generator, convs []model.Conversation, categories string, cfg Config, progress ProgressFunc) (*Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 10
	}

	res := &Result{Records: make([]model.ReasonRecord, len(convs))}
	for i, c := range convs {
		res.Records[i] = model.ReasonRecord{Index: i, ConversationID: c.ID}
	}

	temp, topP := llm.Sampling(cfg.Temperature, cfg.TopP)
	base := map[string]string{
		prompt.VarCompanyName:        cfg.Company,
		prompt.VarCompanyDescription: cfg.Description,
		prompt.VarCategories:         categories,
		prompt.VarMinWords:           strconv.Itoa(cfg.MinWords),
		prompt.VarMaxWords:           strconv.Itoa(cfg.MaxWords),
	}

	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	g.SetLimit(workers)

	for i := range convs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			vars := make(map[string]string, len(base)+1)
			for k, v := range base {
				vars[k] = v
			}
			vars[prompt.VarConversation] = convs[i].Render()
			system, user := cfg.Template.Render(vars)

			reason, usage, err := extractOne(ctx, gen, llm.Request{
				System:      system,
				Prompt:      user,
				Model:       cfg.Model,
				MaxTokens:   cfg.MaxTokens,
				Temperature: temp,
				TopP:        topP,
			})

			mu.Lock()
			defer mu.Unlock()
			res.Usage.Add(usage)
			if err != nil {
				res.Failures++
				zap.L().Warn("extract: conversation failed",
					zap.Int("index", i),
					zap.String("conversation_id", convs[i].ID),
					zap.Error(err),
				)
			} else {
				res.Records[i].Reason = &reason
			}
			done++
			if progress != nil {
				progress(done, len(convs))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		// Slots never dispatched count as failures too.
		res.Failures = countAbsent(res.Records)
		return res, eris.Wrap(err, "extract: canceled")
	}

	zap.L().Info("extract: stage complete",
		zap.Int("conversations", len(convs)),
		zap.Int("reasons", res.Reasons()),
		zap.Int("failures", res.Failures),
	)
	return res, nil
}

func extractOne(ctx context.Context, gen llm.Generator, req llm.Request) (string, model.TokenUsage, error) {
	resp, err := gen.Generate(ctx, req)
	if err != nil {
		return "", model.TokenUsage{}, err
	}
	reason := ParseReason(resp.Text)
	if reason == "" {
		return "", resp.Usage, ErrEmptyReason
	}
	return reason, resp.Usage, nil
}

// ParseReason pulls the reason out of a completion: the first non-blank
// line, without a "Reason:" label or wrapping quotes.
func ParseReason(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		if i := strings.Index(line, ":"); i >= 0 && strings.EqualFold(strings.TrimSpace(line[:i]), "reason") {
			line = strings.TrimSpace(line[i+1:])
		}
		line = strings.Trim(line, "\"'`")
		return strings.TrimSpace(line)
	}
	return ""
}

func countAbsent(recs []model.ReasonRecord) int {
	n := 0
	for _, r := range recs {
		if !r.Present() {
			n++
		}
	}
	return n
}
