package chat

import "unicode/utf8"

// estimateTokens approximates the token count of a string as one token per
// four runes, rounded up. The estimate only has to be stable and cheap; the
// budget it feeds is a soft ceiling well under every provider's real limit.
func estimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// truncateRunes cuts s to at most n runes, appending an ellipsis marker when
// anything was dropped.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
