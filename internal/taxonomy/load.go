package taxonomy

import (
	"bufio"
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/fetcher"
)

// Source opens taxonomy inputs.
type Source interface {
	Open(ctx context.Context, src string) (io.ReadCloser, error)
	Materialize(ctx context.Context, src, dir string) (string, error)
}

// Load reads a taxonomy from src. The format follows the extension: .xlsx
// spreadsheets, .txt/.md indented lists, and delimited text otherwise.
// workDir receives a local copy of remote spreadsheets.
func Load(ctx context.Context, s Source, src, workDir string) (*Taxonomy, error) {
	var (
		t   *Taxonomy
		err error
	)
	switch fetcher.Ext(src) {
	case ".xlsx":
		t, err = loadXLSX(ctx, s, src, workDir)
	case ".txt", ".md":
		t, err = loadWith(ctx, s, src, func(r io.Reader) (*Taxonomy, error) {
			return ParseText(fetcher.NewTextReader(r))
		})
	default:
		t, err = loadWith(ctx, s, src, func(r io.Reader) (*Taxonomy, error) {
			return readDelimited(ctx, r)
		})
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("taxonomy: loaded", zap.String("source", fetcher.SourceName(src)), zap.Int("categories", t.Len()))
	return t, nil
}

func loadWith(ctx context.Context, s Source, src string, parse func(io.Reader) (*Taxonomy, error)) (*Taxonomy, error) {
	rc, err := s.Open(ctx, src)
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: open source")
	}
	defer rc.Close() //nolint:errcheck
	return parse(rc)
}

func loadXLSX(ctx context.Context, s Source, src, workDir string) (*Taxonomy, error) {
	path, err := s.Materialize(ctx, src, workDir)
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: fetch spreadsheet")
	}
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: read spreadsheet")
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return FromRows(rows[0], rows[1:])
}

func readDelimited(ctx context.Context, r io.Reader) (*Taxonomy, error) {
	br := bufio.NewReader(fetcher.NewTextReader(r))
	rows, err := fetcher.ReadCSV(ctx, br, fetcher.CSVOptions{
		Delimiter:  fetcher.SniffDelimiter(br),
		LazyQuotes: true,
		TrimSpace:  true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: read table")
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return FromRows(rows[0], rows[1:])
}
