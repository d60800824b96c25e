package normalize

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intent-cli/internal/fetcher"
)

// Table is raw tabular input: a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable parses delimited transcript text. The delimiter is sniffed from
// the header line and fully blank rows are skipped.
func ReadTable(ctx context.Context, r io.Reader) (*Table, error) {
	br := bufio.NewReaderSize(fetcher.NewTextReader(r), 64*1024)
	delim := fetcher.SniffDelimiter(br)

	rows, err := fetcher.ReadCSV(ctx, br, fetcher.CSVOptions{Delimiter: delim, LazyQuotes: true})
	if err != nil {
		return nil, eris.Wrap(err, "normalize: read table")
	}

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

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
