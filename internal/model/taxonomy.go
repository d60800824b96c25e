package model

import "strings"

// PathSeparator joins taxonomy levels into a full category path.
const PathSeparator = " - "

// CategoryNode is one leaf of the three-level taxonomy.
type CategoryNode struct {
	Level1 string `json:"level1"`
	Level2 string `json:"level2"`
	Level3 string `json:"level3"`
}

// Path returns the full "level1 - level2 - level3" path.
func (n CategoryNode) Path() string {
	return n.Level1 + PathSeparator + n.Level2 + PathSeparator + n.Level3
}

// SplitPath splits a category path into its levels, defaulting missing
// levels to General, Support and Inquiry.
func SplitPath(path string) (l1, l2, l3 string) {
	l1, l2, l3 = "General", "Support", "Inquiry"
	parts := strings.Split(path, PathSeparator)
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		l1 = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		l2 = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		l3 = strings.TrimSpace(strings.Join(parts[2:], PathSeparator))
	}
	return l1, l2, l3
}
