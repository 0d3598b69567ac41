// Package utils provides shared helpers for logging, text and vector math.
package utils

import "unicode/utf8"

// Truncate returns s cut to maxLen runes with "..." appended when cut.
// A maxLen of 0 or less returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
