package util

import (
	"strings"
	"unicode"
)

// TruncateString truncates a string to maxLen runes (Unicode-safe).
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// CountWords counts whitespace-separated words in s.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// FirstWords returns the first n whitespace-separated words of s.
func FirstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[:n], " ")
}

// Slugify converts a title into a lowercase anchor id: letters and digits
// kept, runs of anything else collapsed to single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // Suppress leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
