package tools

import "strings"

// classification maps raw error text patterns to a stable error code and a
// rewritten message. The table is explicit so new causes can be added without
// touching call sites.
type classification struct {
	code     string
	message  string
	patterns []string
}

var classifications = []classification{
	{
		code:    "permission_denied",
		message: "the database rejected this operation for lack of permission",
		patterns: []string{
			"permission denied",
			"access denied",
			"not authorized",
			"insufficient privilege",
		},
	},
	{
		code:    "not_found",
		message: "the requested record does not exist",
		patterns: []string{
			"not found",
			"no rows in result set",
			"does not exist",
			"record not found",
		},
	},
	{
		code:    "invalid_syntax",
		message: "the generated query or payload was malformed",
		patterns: []string{
			"syntax error",
			"invalid input syntax",
			"malformed",
			"invalid text representation",
		},
	},
}

// Classify matches a raw error message against the known-cause table.
// Returns the stable code and rewritten message, or ok=false when the cause
// is unrecognized and the original message should pass through.
func Classify(raw string) (code, message string, ok bool) {
	lower := strings.ToLower(raw)
	for _, c := range classifications {
		for _, p := range c.patterns {
			if strings.Contains(lower, p) {
				return c.code, c.message, true
			}
		}
	}
	return "", "", false
}
