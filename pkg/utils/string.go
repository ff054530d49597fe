package utils

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most maxLen bytes plus "...", cutting on a rune
// boundary so provider error bodies in any script stay valid UTF-8.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " \t\r\n") + "..."
}
