package ai

import (
	"strings"
	"unicode"
)

const (
	defaultTitle  = "New Chat"
	maxTitleRunes = 50
)

// DeriveTitle produces a session title from the first user message.
// Long content is cut at a word boundary and suffixed with an ellipsis
// so the result never exceeds 50 runes; blank content falls back to a
// placeholder title.
func DeriveTitle(content string) string {
	trimmed := strings.Join(strings.Fields(content), " ")
	if trimmed == "" {
		return defaultTitle
	}

	runes := []rune(trimmed)
	if len(runes) <= maxTitleRunes {
		return trimmed
	}

	// Cut at the last word boundary inside the budget; a single
	// unbroken token is cut mid-word.
	cut := runes[:maxTitleRunes-1]
	boundary := len(cut)
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			boundary = i
			break
		}
	}

	return strings.TrimRight(string(cut[:boundary]), " ") + "…"
}
