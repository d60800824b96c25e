package normalize

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/fetcher"
)

// Source opens transcript inputs.
type Source interface {
	Open(ctx context.Context, src string) (io.ReadCloser, error)
	Materialize(ctx context.Context, src, dir string) (string, error)
}

// Load reads the raw transcript table from src. Single-file .zip archives
// are unpacked into workDir first; .xlsx exports are read from their first
// sheet; anything else is treated as delimited text.
func Load(ctx context.Context, s Source, src, workDir string) (*Table, error) {
	switch fetcher.Ext(src) {
	case ".zip":
		archive, err := s.Materialize(ctx, src, workDir)
		if err != nil {
			return nil, eris.Wrap(err, "normalize: fetch archive")
		}
		path, err := fetcher.ExtractZIPSingle(archive, workDir)
		if err != nil {
			return nil, eris.Wrap(err, "normalize: unpack archive")
		}
		zap.L().Debug("normalize: unpacked archive", zap.String("file", path))
		return Load(ctx, s, path, workDir)
	case ".xlsx":
		path, err := s.Materialize(ctx, src, workDir)
		if err != nil {
			return nil, eris.Wrap(err, "normalize: fetch spreadsheet")
		}
		rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
		if err != nil {
			return nil, eris.Wrap(err, "normalize: read spreadsheet")
		}
		return tableFromRows(rows)
	}

	rc, err := s.Open(ctx, src)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: open source")
	}
	defer rc.Close() //nolint:errcheck
	return ReadTable(ctx, rc)
}

func tableFromRows(rows [][]string) (*Table, error) {
	t := &Table{}
	for _, row := range rows {
		if blank(row) {
			continue
		}
		if t.Header == nil {
			t.Header = trimAll(row)
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if t.Header == nil {
		return nil, eris.New("normalize: input has no header row")
	}
	return t, nil
}
