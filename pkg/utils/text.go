// Package utils provides shared text and logging helpers.
package utils

// Truncate returns s cut to at most maxLen runes, with "..." appended when
// cut. If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
