// Package chunker splits response text into an immediately-playable intro
// chunk and an optional remainder chunk.
//
// Speaking the intro while the remainder is still being synthesised is what
// keeps first-audio latency low on long responses; short responses are left
// whole because a split would buy nothing.
package chunker

import "strings"

const (
	// ShortTextLimit is the length at or below which text is spoken as a
	// single chunk.
	ShortTextLimit = 80

	// MinIntroLen is the minimum intro length that sounds natural alone; a
	// shorter first sentence gets the second sentence appended.
	MinIntroLen = 30
)

// Split chunks text for synthesis. It returns either [text] (short input)
// or [intro, remainder]. The remainder is omitted when empty after
// trimming. Split is pure and deterministic.
func Split(text string) []string {
	if len(text) <= ShortTextLimit {
		return []string{text}
	}

	firstEnd := sentenceBoundary(text, 0)
	if firstEnd < 0 {
		// No sentence boundary in a long text: speak it whole.
		return []string{text}
	}

	introEnd := firstEnd + 1
	if introEnd < MinIntroLen {
		// First sentence too short to open with — extend through the
		// second sentence (or to the end if there is no third boundary).
		if secondEnd := sentenceBoundary(text, introEnd); secondEnd >= 0 {
			introEnd = secondEnd + 1
		} else {
			introEnd = len(text)
		}
	}

	intro := strings.TrimSpace(text[:introEnd])
	remainder := strings.TrimSpace(text[introEnd:])
	if remainder == "" {
		return []string{intro}
	}
	return []string{intro, remainder}
}

// sentenceBoundary returns the index of the first '.', '!', or '?' at or
// after start that is immediately followed by a whitespace character.
// Returns -1 if no such boundary exists.
func sentenceBoundary(s string, start int) int {
	for i := start; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
