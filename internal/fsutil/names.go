package fsutil

import "strings"

// maxNameLen bounds names built from user input.
const maxNameLen = 128

// SafeName turns an arbitrary identifier into a single path element. Runs
// of characters other than ASCII letters, digits, dot, underscore and dash
// become one underscore; leading and trailing dots and underscores are
// trimmed. An empty result becomes "unknown".
func SafeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
