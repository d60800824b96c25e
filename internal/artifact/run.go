// Package artifact owns the per-run output directory: every intermediate
// and final file a run produces, written once, optionally mirrored to an
// object store.
package artifact

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Run artifact file names.
const (
	FileTranscriptsTSV  = "cleaned_transcripts.tsv"
	FileTranscriptsJSON = "cleaned_transcripts.json"
	FileTaxonomy        = "taxonomy.txt"
	FileReasons         = "reasons.tsv"
	FileMapping         = "intent_mapping.tsv"
	FileSummaryJSON     = "summary.json"
	FileSummaryXLSX     = "summary.xlsx"
	FileFiltered        = "transcripts_filtered.tsv"
)

const projectTimeLayout = "20060102_150405"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRunID returns a sortable unique run id.
func NewRunID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Run is one run's artifact directory.
type Run struct {
	ID  string
	Dir string

	mu      sync.Mutex
	written []string
}

// NewRun creates <base>/<CompanyNoSpaces>/Project_<YYYYmmdd_HHMMSS>_<suffix>.
// The suffix is the tail of the run id, so runs started in the same second
// get distinct directories.
func NewRun(baseDir, company string, now time.Time) (*Run, error) {
	id := NewRunID(now)
	name := "Project_" + now.Format(projectTimeLayout) + "_" + strings.ToLower(id[len(id)-6:])
	dir := filepath.Join(baseDir, CompanyDir(company), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "artifact: create run dir %s", dir)
	}
	return &Run{ID: id, Dir: dir}, nil
}

// CompanyDir is the company name with whitespace removed.
func CompanyDir(company string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, company)
	if s == "" {
		return "Company"
	}
	return s
}

// Path returns the location of a run file.
func (r *Run) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// Written lists the files created so far, in creation order.
func (r *Run) Written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.written...)
}

// create opens a run file that must not exist yet.
func (r *Run) create(name string) (*os.File, error) {
	f, err := os.OpenFile(r.Path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: create %s", name)
	}
	r.mu.Lock()
	r.written = append(r.written, name)
	r.mu.Unlock()
	return f, nil
}

// writeFile creates name and hands it to fn, closing it afterwards.
func (r *Run) writeFile(name string, fn func(f *os.File) error) error {
	f, err := r.create(name)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "artifact: write %s", name)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "artifact: close %s", name)
	}
	return nil
}

// Mirror copies files to remote storage.
type Mirror interface {
	Upload(ctx context.Context, key, path string) error
}

// Sync uploads every written file under <run-id>/<name>. Failures are
// logged and counted; they never fail the run.
func (r *Run) Sync(ctx context.Context, m Mirror) (uploaded, failed int) {
	if m == nil {
		return 0, 0
	}
	for _, name := range r.Written() {
		key := r.ID + "/" + filepath.ToSlash(name)
		if err := m.Upload(ctx, key, r.Path(name)); err != nil {
			failed++
			zap.L().Warn("artifact: mirror upload failed",
				zap.String("run_id", r.ID),
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		uploaded++
	}
	return uploaded, failed
}
