package artifact

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sells-group/intent-cli/internal/coverage"
	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/normalize"
)

// TranscriptHeader is the column layout of cleaned_transcripts.tsv.
var TranscriptHeader = []string{
	normalize.ColFilename,
	normalize.ColParty,
	normalize.ColText,
	normalize.ColStart,
	normalize.ColEnd,
}

// MappingHeader is the column layout of intent_mapping.tsv.
var MappingHeader = []string{
	"index", "conversation_id", "reason_text", "category_path",
	"l3_score", "l2_score", "l1_score",
}

// Summary is the content of summary.json.
type Summary struct {
	RunID       string                `json:"run_id"`
	Company     string                `json:"company"`
	CreatedAt   time.Time             `json:"created_at"`
	Intents     []model.IntentSummary `json:"intents"`
	Coverage    *coverage.Report      `json:"coverage"`
	Usage       model.TokenUsage      `json:"usage"`
	MappingFile string                `json:"intent_mapping_file"`
}

func newTSVWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return cw
}

func flushTSV(cw *csv.Writer) error {
	cw.Flush()
	return cw.Error()
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// WriteTranscripts writes the Stage 0 conversations as turn rows and as
// JSON.
func (r *Run) WriteTranscripts(convs []model.Conversation) error {
	err := r.writeFile(FileTranscriptsTSV, func(f *os.File) error {
		cw := newTSVWriter(f)
		if err := cw.Write(TranscriptHeader); err != nil {
			return err
		}
		for _, c := range convs {
			for _, t := range c.Turns {
				if err := cw.Write([]string{c.ID, string(t.Speaker), t.Text, seconds(t.StartOffset), seconds(t.EndOffset)}); err != nil {
					return err
				}
			}
		}
		return flushTSV(cw)
	})
	if err != nil {
		return err
	}

	return r.writeJSON(FileTranscriptsJSON, struct {
		Conversations []model.Conversation `json:"conversations"`
	}{Conversations: convs})
}

// WriteTaxonomy writes the indented taxonomy text.
func (r *Run) WriteTaxonomy(text string) error {
	return r.writeFile(FileTaxonomy, func(f *os.File) error {
		_, err := io.WriteString(f, text)
		return err
	})
}

// WriteReasons writes one row per Stage 1 record; absent reasons are empty.
func (r *Run) WriteReasons(recs []model.ReasonRecord) error {
	return r.writeFile(FileReasons, func(f *os.File) error {
		cw := newTSVWriter(f)
		if err := cw.Write([]string{"index", "conversation_id", "reason_text"}); err != nil {
			return err
		}
		for _, rec := range recs {
			if err := cw.Write([]string{strconv.Itoa(rec.Index), rec.ConversationID, rec.Text()}); err != nil {
				return err
			}
		}
		return flushTSV(cw)
	})
}

// WriteMapping writes intent_mapping.tsv, one row per categorized reason.
func (r *Run) WriteMapping(intents []model.CategorizedIntent) error {
	return r.writeFile(FileMapping, func(f *os.File) error {
		cw := newTSVWriter(f)
		if err := cw.Write(MappingHeader); err != nil {
			return err
		}
		for _, ci := range intents {
			if err := cw.Write([]string{
				strconv.Itoa(ci.Index),
				ci.ConversationID,
				ci.Text(),
				ci.CategoryPath,
				strconv.Itoa(ci.L3Score),
				strconv.Itoa(ci.L2Score),
				strconv.Itoa(ci.L1Score),
			}); err != nil {
				return err
			}
		}
		return flushTSV(cw)
	})
}

// WriteSummary writes summary.json and summary.xlsx.
func (r *Run) WriteSummary(s Summary) error {
	if err := r.writeJSON(FileSummaryJSON, s); err != nil {
		return err
	}
	return r.WriteSummaryXLSX(s)
}

func (r *Run) writeJSON(name string, v any) error {
	return r.writeFile(name, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}
