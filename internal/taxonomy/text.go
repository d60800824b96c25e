package taxonomy

import (
	"bufio"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intent-cli/internal/model"
)

const indentUnit = "    "

// Text renders the indented list form: "- L1", then "    - L2", then
// "        - L3", one entry per line.
func (t *Taxonomy) Text() string {
	var b strings.Builder
	for _, l1 := range t.Tree() {
		b.WriteString("- " + l1.Name + "\n")
		for _, l2 := range l1.Children {
			b.WriteString(indentUnit + "- " + l2.Name + "\n")
			for _, l3 := range l2.Leaves {
				b.WriteString(indentUnit + indentUnit + "- " + l3 + "\n")
			}
		}
	}
	return b.String()
}

// ParseText reads the indented list form. Depth comes from leading
// whitespace: a tab or four spaces per level. Levels without leaves are
// ignored.
func ParseText(r io.Reader) (*Taxonomy, error) {
	var (
		nodes  []model.CategoryNode
		l1, l2 string
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimRight(sc.Text(), " \t\r")
		body := strings.TrimLeft(raw, " \t")
		if body == "" {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(body, "-"), "*"))
		if name == "" {
			continue
		}

		switch depth(raw[:len(raw)-len(body)]) {
		case 0:
			l1, l2 = name, ""
		case 1:
			if l1 == "" {
				return nil, eris.Errorf("taxonomy: line %d: level 2 entry without level 1", line)
			}
			l2 = name
		default:
			if l2 == "" {
				return nil, eris.Errorf("taxonomy: line %d: level 3 entry without level 2", line)
			}
			nodes = append(nodes, model.CategoryNode{Level1: l1, Level2: l2, Level3: name})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "taxonomy: read text")
	}
	return New(nodes)
}

func depth(indent string) int {
	width := 0
	for _, r := range indent {
		if r == '\t' {
			width += len(indentUnit)
		} else {
			width++
		}
	}
	return (width + len(indentUnit)/2) / len(indentUnit)
}
