package text

import "unicode/utf8"

// Truncate cuts s to at most max bytes and appends "...". The cut backs off to
// a rune boundary so multi-byte characters are never split.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
