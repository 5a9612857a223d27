package agent

import "strings"

// stopwords dropped from search queries before they reach the data layer.
// Filler from conversational phrasing turns into spurious filters otherwise.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true,
	"in": true, "on": true, "at": true, "to": true, "with": true,
	"my": true, "me": true, "all": true, "please": true,
	"show": true, "find": true, "list": true, "get": true, "search": true,
}

// CleanQuery strips stopwords and punctuation from a free-text search query.
// Idempotent: cleaning an already-clean query is a no-op.
func CleanQuery(q string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(q) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '-', r == '@', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	kept := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// isSearchTool reports whether a tool takes a free-text query worth cleaning.
func isSearchTool(name string) bool {
	return strings.Contains(name, "search") || strings.Contains(name, "lookup")
}
