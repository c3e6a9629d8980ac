package common

import "strings"

// FieldMatches implements the matching semantics for static rule
// conditions: case-insensitive, substring by default, with `*` acting as a
// wildcard when present. Wildcard patterns keep the substring semantics,
// with no anchoring at either end, so `*@example.com` matches the full
// `Jane Doe <jane@example.com>` header text. An empty pattern never
// matches.
func FieldMatches(pattern, text string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	text = strings.ToLower(text)

	if !strings.Contains(pattern, "*") {
		return strings.Contains(text, pattern)
	}

	// Wildcard match: every literal segment must appear in order.
	pos := 0
	for _, seg := range strings.Split(pattern, "*") {
		if seg == "" {
			continue
		}
		idx := strings.Index(text[pos:], seg)
		if idx < 0 {
			return false
		}
		pos += idx + len(seg)
	}
	return true
}
