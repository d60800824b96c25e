package normalize

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// Canonical transcript column names.
const (
	ColFilename = "Filename"
	ColParty    = "Party"
	ColText     = "Text"
	ColStart    = "StartOffset (sec)"
	ColEnd      = "EndOffset (sec)"
)

// ErrMissingColumns is returned when a required column has no match.
var ErrMissingColumns = eris.New("normalize: required columns missing")

// ColumnAlias lists the header spellings accepted for one canonical column.
// Aliases are compared after folding case and dropping non-alphanumerics.
type ColumnAlias struct {
	Canonical string
	Aliases   []string
}

// DefaultAliases is the ordered rename table for transcript exports.
var DefaultAliases = []ColumnAlias{
	{Canonical: ColFilename, Aliases: []string{"Filename", "Path", "FilePath", "File", "CallId", "ConversationId"}},
	{Canonical: ColParty, Aliases: []string{"Party", "Speaker", "Role", "Channel"}},
	{Canonical: ColText, Aliases: []string{"Text", "Transcript", "Utterance"}},
	{Canonical: ColStart, Aliases: []string{"StartOffset (sec)", "StartOffset", "start", "StartTime", "StartTimeSec"}},
	{Canonical: ColEnd, Aliases: []string{"EndOffset (sec)", "EndOffset", "end", "EndTime", "EndTimeSec"}},
}

// Columns maps canonical column names to header positions.
type Columns map[string]int

// ResolveColumns matches header cells against aliases and returns the
// position of every canonical column. Exact matches win over folded ones;
// within each pass the first matching header cell is used. All canonical
// columns in aliases are required.
func ResolveColumns(header []string, aliases []ColumnAlias) (Columns, error) {
	cols := make(Columns, len(aliases))
	var missing []string

	for _, a := range aliases {
		idx := findExact(header, a.Aliases)
		if idx < 0 {
			idx = findFolded(header, a.Aliases)
		}
		if idx < 0 {
			missing = append(missing, a.Canonical)
			continue
		}
		cols[a.Canonical] = idx
	}

	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrMissingColumns, "missing %s (found %s)",
			strings.Join(missing, ", "), strings.Join(header, ", "))
	}
	return cols, nil
}

func findExact(header, aliases []string) int {
	for _, a := range aliases {
		for i, h := range header {
			if strings.TrimSpace(h) == a {
				return i
			}
		}
	}
	return -1
}

func findFolded(header, aliases []string) int {
	for _, a := range aliases {
		want := foldName(a)
		for i, h := range header {
			if foldName(h) == want {
				return i
			}
		}
	}
	return -1
}

// foldName lower-cases s and drops everything but letters and digits, so
// "StartOffset (sec)", "start_offset_sec" and "STARTOFFSETSEC" compare equal.
func foldName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Get returns the cell for a canonical column, or "" when the row is short.
func (c Columns) Get(row []string, canonical string) string {
	i, ok := c[canonical]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
