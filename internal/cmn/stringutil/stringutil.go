package stringutil

import (
	"strconv"
)

// Truncate shortens val to at most max runes, marking the cut with "...".
func Truncate(val string, max int) string {
	runes := []rune(val)
	if len(runes) <= max {
		return val
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// RemoveQuotes removes leading and trailing double quotes from a string if present,
// and unescapes the content using strconv.Unquote.
func RemoveQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if unquoted, err := strconv.Unquote(s); err == nil {
			return unquoted
		}
	}
	return s
}
