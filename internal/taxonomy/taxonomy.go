// Package taxonomy loads the three-level category taxonomy used as prompt
// context and as the domain for category assignment.
package taxonomy

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intent-cli/internal/model"
)

var (
	// ErrLevelColumns is returned when a level has no matching column.
	ErrLevelColumns = eris.New("taxonomy: level columns not found")
	// ErrEmpty is returned when no valid entries remain.
	ErrEmpty = eris.New("taxonomy: no valid entries")
)

// levelSynonyms lists accepted header names per level, in priority order.
var levelSynonyms = [3][]string{
	{"level1", "l1", "category_mapped", "category"},
	{"level2", "l2", "topic_mapped", "topic"},
	{"level3", "l3", "intent"},
}

// missingMarkers are cell values treated as blank.
var missingMarkers = map[string]bool{"nan": true, "null": true}

// Taxonomy is a deduplicated, read-only set of category nodes. Nodes keep
// first-appearance order.
type Taxonomy struct {
	nodes []model.CategoryNode
	index map[string]int
}

// New builds a taxonomy from nodes, dropping blank levels and duplicate
// paths.
func New(nodes []model.CategoryNode) (*Taxonomy, error) {
	t := &Taxonomy{index: make(map[string]int, len(nodes))}
	for _, n := range nodes {
		n = model.CategoryNode{Level1: clean(n.Level1), Level2: clean(n.Level2), Level3: clean(n.Level3)}
		if n.Level1 == "" || n.Level2 == "" || n.Level3 == "" {
			continue
		}
		if _, dup := t.index[n.Path()]; dup {
			continue
		}
		t.index[n.Path()] = len(t.nodes)
		t.nodes = append(t.nodes, n)
	}
	if len(t.nodes) == 0 {
		return nil, ErrEmpty
	}
	return t, nil
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if missingMarkers[strings.ToLower(s)] {
		return ""
	}
	return s
}

// FromRows builds a taxonomy from a header and data rows, resolving the
// three level columns by name.
func FromRows(header []string, rows [][]string) (*Taxonomy, error) {
	cols, err := ResolveLevels(header)
	if err != nil {
		return nil, err
	}

	nodes := make([]model.CategoryNode, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, model.CategoryNode{
			Level1: cell(row, cols[0]),
			Level2: cell(row, cols[1]),
			Level3: cell(row, cols[2]),
		})
	}
	return New(nodes)
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

// ResolveLevels returns the header positions of the L1, L2 and L3 columns.
// Names are compared case-insensitively ignoring punctuation; an exact
// synonym match wins over a containment match, and a column is used for at
// most one level.
func ResolveLevels(header []string) ([3]int, error) {
	cols := [3]int{-1, -1, -1}
	used := make(map[int]bool)
	folded := make([]string, len(header))
	for i, h := range header {
		folded[i] = fold(h)
	}

	match := func(level int, ok func(h, syn string) bool) {
		if cols[level] >= 0 {
			return
		}
		for _, syn := range levelSynonyms[level] {
			for i, h := range folded {
				if !used[i] && ok(h, fold(syn)) {
					cols[level] = i
					used[i] = true
					return
				}
			}
		}
	}
	for level := range cols {
		match(level, func(h, syn string) bool { return h == syn })
	}
	for level := range cols {
		match(level, strings.Contains)
	}

	var missing []string
	for level, c := range cols {
		if c < 0 {
			missing = append(missing, "L"+string(rune('1'+level)))
		}
	}
	if len(missing) > 0 {
		return cols, eris.Wrapf(ErrLevelColumns, "missing %s (found %s)",
			strings.Join(missing, ", "), strings.Join(header, ", "))
	}
	return cols, nil
}

func fold(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Nodes returns the flat table.
func (t *Taxonomy) Nodes() []model.CategoryNode {
	return slices.Clone(t.nodes)
}

// Len returns the number of leaf categories.
func (t *Taxonomy) Len() int { return len(t.nodes) }

// Lookup finds a node by full path.
func (t *Taxonomy) Lookup(path string) (model.CategoryNode, bool) {
	i, ok := t.index[strings.TrimSpace(path)]
	if !ok {
		return model.CategoryNode{}, false
	}
	return t.nodes[i], true
}

// Sorted returns a copy ordered by level 1, level 2, then level 3.
func (t *Taxonomy) Sorted() *Taxonomy {
	s := &Taxonomy{nodes: t.Nodes(), index: make(map[string]int, len(t.nodes))}
	slices.SortFunc(s.nodes, func(a, b model.CategoryNode) int {
		return cmp.Or(cmp.Compare(a.Level1, b.Level1), cmp.Compare(a.Level2, b.Level2), cmp.Compare(a.Level3, b.Level3))
	})
	for i, n := range s.nodes {
		s.index[n.Path()] = i
	}
	return s
}

// Branch is a level-1 or level-2 node of the tree view.
type Branch struct {
	Name     string   `json:"name"`
	Children []Branch `json:"children,omitempty"`
	Leaves   []string `json:"leaves,omitempty"`
}

// Tree returns the nested L1 > L2 > L3 view in first-appearance order.
func (t *Taxonomy) Tree() []Branch {
	var roots []Branch
	l1Pos := map[string]int{}
	l2Pos := map[[2]string]int{}

	for _, n := range t.nodes {
		i, ok := l1Pos[n.Level1]
		if !ok {
			i = len(roots)
			l1Pos[n.Level1] = i
			roots = append(roots, Branch{Name: n.Level1})
		}
		key := [2]string{n.Level1, n.Level2}
		j, ok := l2Pos[key]
		if !ok {
			j = len(roots[i].Children)
			l2Pos[key] = j
			roots[i].Children = append(roots[i].Children, Branch{Name: n.Level2})
		}
		roots[i].Children[j].Leaves = append(roots[i].Children[j].Leaves, n.Level3)
	}
	return roots
}
