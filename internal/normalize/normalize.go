// Package normalize turns raw turn-level transcript rows into per-call
// conversations.
package normalize

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/model"
)

// ErrNoConversations is returned when nothing survives normalization.
var ErrNoConversations = eris.New("normalize: no conversations")

// Options controls normalization.
type Options struct {
	// MaxConversations caps the output; 0 disables the cap.
	MaxConversations int
	// Seed makes the down-sample reproducible.
	Seed uint64
	// Aliases overrides DefaultAliases.
	Aliases []ColumnAlias
}

// Stats counts what happened to the input rows.
type Stats struct {
	TotalRows        int `json:"total_rows"`
	DiscardedCorrupt int `json:"discarded_corrupt"`
	InvalidRows      int `json:"invalid_rows"`
	Grouped          int `json:"grouped"`
	Conversations    int `json:"conversations"`
}

// Sampled reports whether the cap reduced the conversation count.
func (s Stats) Sampled() bool {
	return s.Conversations < s.Grouped
}

// Result is the normalized batch.
type Result struct {
	Conversations []model.Conversation
	Stats         Stats
}

// Normalize resolves columns, canonicalizes ids, drops corrupt and invalid
// rows, groups turns by id in first-seen order, sorts each conversation's
// turns by start offset, and samples down to the cap.
func Normalize(t *Table, opts Options) (*Result, error) {
	aliases := opts.Aliases
	if aliases == nil {
		aliases = DefaultAliases
	}
	cols, err := ResolveColumns(t.Header, aliases)
	if err != nil {
		return nil, err
	}

	stats := Stats{TotalRows: len(t.Rows)}
	var convs []model.Conversation
	pos := make(map[string]int)

	for _, row := range t.Rows {
		rawID := cols.Get(row, ColFilename)
		if HasDoubledExtension(rawID) {
			stats.DiscardedCorrupt++
			continue
		}

		turn, ok := parseTurn(cols, row)
		id := CanonicalID(rawID)
		if !ok || id == "" {
			stats.InvalidRows++
			continue
		}

		i, seen := pos[id]
		if !seen {
			i = len(convs)
			pos[id] = i
			convs = append(convs, model.Conversation{ID: id})
		}
		convs[i].Turns = append(convs[i].Turns, turn)
	}

	for i := range convs {
		slices.SortStableFunc(convs[i].Turns, func(a, b model.Turn) int {
			return cmp.Compare(a.StartOffset, b.StartOffset)
		})
	}

	stats.Grouped = len(convs)
	convs = Sample(convs, opts.MaxConversations, opts.Seed)
	stats.Conversations = len(convs)

	zap.L().Debug("normalize: batch complete",
		zap.Int("rows", stats.TotalRows),
		zap.Int("discarded_corrupt", stats.DiscardedCorrupt),
		zap.Int("invalid", stats.InvalidRows),
		zap.Int("grouped", stats.Grouped),
		zap.Int("conversations", stats.Conversations),
	)

	if len(convs) == 0 {
		return &Result{Stats: stats}, eris.Wrapf(ErrNoConversations, "%d rows read, %d discarded as corrupt, %d invalid",
			stats.TotalRows, stats.DiscardedCorrupt, stats.InvalidRows)
	}
	return &Result{Conversations: convs, Stats: stats}, nil
}

func parseTurn(cols Columns, row []string) (model.Turn, bool) {
	text := cols.Get(row, ColText)
	if text == "" {
		return model.Turn{}, false
	}
	start, ok := ParseOffset(cols.Get(row, ColStart))
	if !ok {
		return model.Turn{}, false
	}
	end, ok := ParseOffset(cols.Get(row, ColEnd))
	if !ok || end < start {
		end = start
	}
	return model.Turn{
		Speaker:     model.ParseSpeaker(cols.Get(row, ColParty)),
		Text:        text,
		StartOffset: start,
		EndOffset:   end,
	}, true
}

// ParseOffset parses seconds ("12.5") or a clock value ("01:02:03.5",
// "02:03") into a duration.
func ParseOffset(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	var secs float64
	for _, part := range strings.Split(s, ":") {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		secs = secs*60 + v
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Sample returns at most limit conversations chosen uniformly without
// replacement using a PCG source seeded with seed. The chosen conversations
// keep their input order. A non-positive limit returns convs unchanged.
func Sample(convs []model.Conversation, limit int, seed uint64) []model.Conversation {
	if limit <= 0 || len(convs) <= limit {
		return convs
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	picked := rng.Perm(len(convs))[:limit]
	slices.Sort(picked)

	out := make([]model.Conversation, limit)
	for i, p := range picked {
		out[i] = convs[p]
	}
	return out
}
