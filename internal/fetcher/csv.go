package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming delimited-text parser.
type CSVOptions struct {
	// Delimiter defaults to ','. Use SniffDelimiter when unknown.
	Delimiter  rune
	Comment    rune
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads delimited rows and sends them to a channel. Both channels
// close when processing completes; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1
		reader.ReuseRecord = false

		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV collects every row produced by StreamCSV.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	rowCh, errCh := StreamCSV(ctx, r, opts)
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return rows, err
	}
	return rows, nil
}

var candidateDelimiters = []rune{'\t', ',', ';', '|'}

// SniffDelimiter peeks at the first line of br and returns the candidate
// delimiter that occurs most often in it, defaulting to ','. The reader is
// not advanced.
func SniffDelimiter(br *bufio.Reader) rune {
	line, _ := br.Peek(br.Size())
	if i := strings.IndexByte(string(line), '\n'); i >= 0 {
		line = line[:i]
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if n := strings.Count(string(line), string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
