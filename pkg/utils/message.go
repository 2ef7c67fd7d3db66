package utils

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage cuts content into chunks of at most maxLen characters.
// A cut prefers the last newline inside the window, then the last space;
// the separator at a cut is dropped. Without either, the cut is hard.
func SplitMessage(content string, maxLen int) []string {
	if maxLen <= 0 || utf8.RuneCountInString(content) <= maxLen {
		return []string{content}
	}

	runes := []rune(content)
	chunks := make([]string, 0, len(runes)/maxLen+1)

	for len(runes) > maxLen {
		window := runes[:maxLen]
		cut, skip := lastRune(window, '\n'), 1
		if cut <= 0 {
			cut = lastRune(window, ' ')
		}
		if cut <= 0 {
			cut, skip = maxLen, 0
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut+skip:]
	}

	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

// Truncate shortens s to maxLen characters, ending with "..." when there is room.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsBlank reports whether s holds nothing but whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
