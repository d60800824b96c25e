package artifact

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/normalize"
)

// ErrNoMatches is returned when no conversation matches the intent.
var ErrNoMatches = eris.New("artifact: no conversations match intent")

// FilterByIntent returns the conversation ids in a mapping file whose
// category path equals intent exactly and whose L3 score is at least
// minScore. Ids are unique and in file order.
func FilterByIntent(mappingPath, intent string, minScore int) ([]string, error) {
	f, err := os.Open(mappingPath)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: open %s", mappingPath)
	}
	defer f.Close() //nolint:errcheck

	r := newTSVReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "artifact: read mapping header")
	}
	idCol, pathCol, scoreCol := column(header, "conversation_id"), column(header, "category_path"), column(header, "l3_score")
	if idCol < 0 || pathCol < 0 || scoreCol < 0 {
		return nil, eris.Errorf("artifact: %s is not an intent mapping", filepath.Base(mappingPath))
	}

	seen := make(map[string]bool)
	var ids []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "artifact: read mapping")
		}
		if max(idCol, pathCol, scoreCol) >= len(rec) || rec[pathCol] != intent {
			continue
		}
		score, err := strconv.Atoi(strings.TrimSpace(rec[scoreCol]))
		if err != nil || score < minScore {
			continue
		}
		if id := rec[idCol]; !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// IntentFolder is the L3 segment of intent with everything but letters and
// digits removed.
func IntentFolder(intent string) string {
	_, _, l3 := model.SplitPath(intent)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, l3)
}

// WriteFilteredTranscripts copies the cleaned transcript rows of ids into
// <runDir>/<IntentFolder>/transcripts_filtered.tsv and returns its path.
func WriteFilteredTranscripts(runDir, intent string, ids []string) (string, error) {
	if len(ids) == 0 {
		return "", ErrNoMatches
	}
	folder := IntentFolder(intent)
	if folder == "" {
		return "", eris.Errorf("artifact: intent %q has no usable name", intent)
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	in, err := os.Open(filepath.Join(runDir, FileTranscriptsTSV))
	if err != nil {
		return "", eris.Wrap(err, "artifact: open cleaned transcripts")
	}
	defer in.Close() //nolint:errcheck

	dir := filepath.Join(runDir, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "artifact: create %s", dir)
	}
	outPath := filepath.Join(dir, FileFiltered)
	out, err := os.Create(outPath)
	if err != nil {
		return "", eris.Wrapf(err, "artifact: create %s", outPath)
	}
	defer out.Close() //nolint:errcheck

	r := newTSVReader(in)
	w := newTSVWriter(out)

	header, err := r.Read()
	if err != nil {
		return "", eris.Wrap(err, "artifact: read transcripts header")
	}
	idCol := column(header, normalize.ColFilename)
	if idCol < 0 {
		return "", eris.Errorf("artifact: transcripts have no %s column", normalize.ColFilename)
	}
	if err := w.Write(header); err != nil {
		return "", eris.Wrap(err, "artifact: write filtered header")
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "artifact: read transcripts")
		}
		if idCol < len(rec) && want[rec[idCol]] {
			if err := w.Write(rec); err != nil {
				return "", eris.Wrap(err, "artifact: write filtered row")
			}
		}
	}
	if err := flushTSV(w); err != nil {
		return "", eris.Wrap(err, "artifact: flush filtered transcripts")
	}
	return outPath, nil
}

func newTSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}

func column(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}
