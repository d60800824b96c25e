package assign

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/sells-group/intent-cli/internal/model"
)

// Row is one parsed assignment line.
type Row struct {
	Index   int
	Path    string
	L3Score int
	L2Score int
	L1Score int
}

// ParseRows reads the CSV a chunk call returned. Each record is
// index,path,l3,l2,l1 or index,reason,path,l3,l2,l1, where an unquoted
// reason or qualifier may spill over into extra fields. Header echoes,
// non-integer fields and scores outside 1..5 are dropped. Anything after
// the first comma in the path is stripped.
func ParseRows(text string) []Row {
	r := csv.NewReader(strings.NewReader(stripFences(text)))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed line poisons only itself.
			continue
		}
		row, ok := parseRecord(rec)
		if ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func parseRecord(rec []string) (Row, bool) {
	n := len(rec)
	if n < 5 {
		return Row{}, false
	}

	idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
	if err != nil || idx < 0 {
		return Row{}, false
	}

	var scores [3]int
	for i, f := range rec[n-3:] {
		s, ok := parseScore(f)
		if !ok {
			return Row{}, false
		}
		scores[i] = s
	}

	path := pathField(rec[1 : n-3])
	if i := strings.Index(path, ","); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSpace(strings.Trim(strings.TrimSpace(path), `"`))
	if path == "" {
		return Row{}, false
	}

	return Row{
		Index:   idx,
		Path:    path,
		L3Score: scores[0],
		L2Score: scores[1],
		L1Score: scores[2],
	}, true
}

// pathField picks the category path out of the fields between the index and
// the scores: the last one shaped like "L1 - L2 - L3", else the last field.
func pathField(fields []string) string {
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.Contains(fields[i], " - ") {
			return fields[i]
		}
	}
	return fields[len(fields)-1]
}

// parseScore accepts integers and integral floats ("4.0") in range.
func parseScore(s string) (int, bool) {
	s = strings.TrimSpace(s)
	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, false
		}
		v = int(f)
	}
	if v < model.MinScore || v > model.MaxScore {
		return 0, false
	}
	return v, true
}

func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
