package normalize

import "strings"

// CanonicalID reduces a raw identifier to its bare logical id: the last path
// segment up to its first dot. "/exports/ab12.0.mp4" becomes "ab12".
// Applying it twice gives the same result as applying it once.
func CanonicalID(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// HasDoubledExtension reports whether the identifier's file name ends in the
// same extension twice, as in "ab12.mp4.mp4". Such rows come from a
// broken export and are discarded rather than merged.
func HasDoubledExtension(raw string) bool {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	parts := strings.Split(s, ".")
	n := len(parts)
	if n < 3 || parts[n-1] == "" {
		return false
	}
	return strings.EqualFold(parts[n-1], parts[n-2])
}
