// Package assign runs Stage 2: reasons are sent to the backend in chunks
// together with the taxonomy, and the returned category rows are merged
// back onto the reasons by index.
package assign

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

// ErrNoCategorizations is returned when no chunk produced a usable row.
var ErrNoCategorizations = eris.New("assign: no valid categorizations produced")

// DefaultChunkSize is the number of reasons per call.
const DefaultChunkSize = 100

// Config holds the Stage 2 parameters of one run.
type Config struct {
	ChunkSize   int
	Parallelism int
	Model       string
	MaxTokens   int64
	Temperature float64
	TopP        float64
	Template    prompt.Template
	Company     string
	Description string
}

// ChunkReport describes one finished chunk.
type ChunkReport struct {
	Chunk  int
	Chunks int
	Start  int
	End    int
	Done   int
	Total  int
	Rows   int
	Err    error
}

// Skipped reports whether the chunk contributed nothing.
func (c ChunkReport) Skipped() bool {
	return c.Err != nil || c.Rows == 0
}

// ProgressFunc is called once per finished chunk. Calls are serialized.
type ProgressFunc func(ChunkReport)

// Result is the Stage 2 output.
type Result struct {
	Intents       []model.CategorizedIntent
	Chunks        int
	ChunksSkipped int
	Failures      int
	Usage         model.TokenUsage
}

// Run categorizes the present records. Chunks run cfg.Parallelism at a time
// (one by default, in order). A chunk whose call fails or yields no rows is
// skipped. Rows are joined onto records by index; records left without a
// row count as failures. Intents come back in index order regardless of
// chunk size or completion order.
func Run(ctx context.Context, gen llm.Generator, records []model.ReasonRecord, categories string, cfg Config, progress ProgressFunc) (*Result, error) {
	size := cfg.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	par := cfg.Parallelism
	if par <= 0 {
		par = 1
	}

	present := make([]model.ReasonRecord, 0, len(records))
	for _, r := range records {
		if r.Present() {
			present = append(present, r)
		}
	}

	chunks := partition(present, size)
	res := &Result{Chunks: len(chunks)}
	parsed := make([][]Row, len(chunks))

	temp, topP := llm.Sampling(cfg.Temperature, cfg.TopP)
	vars := map[string]string{
		prompt.VarCompanyName:        cfg.Company,
		prompt.VarCompanyDescription: cfg.Description,
		prompt.VarCategories:         categories,
	}

	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	g.SetLimit(par)

	for ci, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			cv := make(map[string]string, len(vars)+1)
			for k, v := range vars {
				cv[k] = v
			}
			cv[prompt.VarReasons] = tagReasons(chunk)
			system, user := cfg.Template.Render(cv)

			rows, usage, err := assignChunk(ctx, gen, chunk, llm.Request{
				System:      system,
				Prompt:      user,
				Model:       cfg.Model,
				MaxTokens:   cfg.MaxTokens,
				Temperature: temp,
				TopP:        topP,
			})

			mu.Lock()
			defer mu.Unlock()
			parsed[ci] = rows
			res.Usage.Add(usage)
			done += len(chunk)

			rep := ChunkReport{
				Chunk:  ci,
				Chunks: len(chunks),
				Start:  chunk[0].Index,
				End:    chunk[len(chunk)-1].Index,
				Done:   done,
				Total:  len(present),
				Rows:   len(rows),
				Err:    err,
			}
			if rep.Skipped() {
				res.ChunksSkipped++
				zap.L().Warn("assign: chunk skipped",
					zap.Int("chunk", ci),
					zap.Int("start", rep.Start),
					zap.Int("end", rep.End),
					zap.Error(err),
				)
			}
			if progress != nil {
				progress(rep)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "assign: canceled")
	}

	res.Intents, res.Failures = merge(present, parsed)

	zap.L().Info("assign: stage complete",
		zap.Int("reasons", len(present)),
		zap.Int("categorized", len(res.Intents)),
		zap.Int("failures", res.Failures),
		zap.Int("chunks", res.Chunks),
		zap.Int("chunks_skipped", res.ChunksSkipped),
	)

	if len(res.Intents) == 0 {
		return res, ErrNoCategorizations
	}
	return res, nil
}

func assignChunk(ctx context.Context, gen llm.Generator, chunk []model.ReasonRecord, req llm.Request) ([]Row, model.TokenUsage, error) {
	resp, err := gen.Generate(ctx, req)
	if err != nil {
		return nil, model.TokenUsage{}, err
	}

	want := make(map[int]bool, len(chunk))
	for _, r := range chunk {
		want[r.Index] = true
	}

	var rows []Row
	for _, row := range ParseRows(resp.Text) {
		// Indices outside the chunk were never asked about.
		if want[row.Index] {
			rows = append(rows, row)
			delete(want, row.Index)
		}
	}
	return rows, resp.Usage, nil
}

// merge inner-joins rows onto records by index, keeping the first row seen
// for an index.
func merge(present []model.ReasonRecord, parsed [][]Row) ([]model.CategorizedIntent, int) {
	byIndex := make(map[int]Row)
	for _, rows := range parsed {
		for _, row := range rows {
			if _, dup := byIndex[row.Index]; !dup {
				byIndex[row.Index] = row
			}
		}
	}

	out := make([]model.CategorizedIntent, 0, len(byIndex))
	failures := 0
	for _, rec := range present {
		row, ok := byIndex[rec.Index]
		if !ok {
			failures++
			continue
		}
		out = append(out, model.CategorizedIntent{
			ReasonRecord: rec,
			CategoryPath: row.Path,
			L1Score:      row.L1Score,
			L2Score:      row.L2Score,
			L3Score:      row.L3Score,
		})
	}
	return out, failures
}

func partition(recs []model.ReasonRecord, size int) [][]model.ReasonRecord {
	var chunks [][]model.ReasonRecord
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		chunks = append(chunks, recs[start:end])
	}
	return chunks
}

// tagReasons renders one "index,reason" line per record. Line breaks in a
// reason are folded so each record stays on one line.
func tagReasons(chunk []model.ReasonRecord) string {
	var b strings.Builder
	for i, r := range chunk {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(r.Index))
		b.WriteByte(',')
		b.WriteString(strings.Join(strings.Fields(r.Text()), " "))
	}
	return b.String()
}
