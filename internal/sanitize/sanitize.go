// Package sanitize strips text that a phonemizer cannot pronounce.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Lengths are counted in runes.
const (
	// MinQueueLength is the shortest sanitized text accepted for queueing.
	MinQueueLength = 10
	// MinSpeakLength is the shortest text the worker will synthesize.
	MinSpeakLength = 5
)

// Letters, marks and digits of any script survive. RE2's \w and \s are
// ASCII-only, so the classes are spelled out with Unicode properties.
var (
	urlPattern       = regexp.MustCompile(`https?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\\(\\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)
	fencePattern     = regexp.MustCompile("(?s)```.*?```")
	inlineCode       = regexp.MustCompile("`[^`]+`")
	unspeakable      = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s\v\p{Z}\x{85}\x{1c}-\x{1f}.,!?;:'-]`)
	whitespaceRun    = regexp.MustCompile(`[\s\v\p{Z}\x{85}\x{1c}-\x{1f}]+`)
	singleCharTokens = map[string]bool{"I": true, "a": true, "A": true}
)

// Text returns s with URLs, code, symbols and stray single characters removed.
// Applying Text to its own output returns the same string.
func Text(s string) string {
	s = urlPattern.ReplaceAllString(s, "")
	s = fencePattern.ReplaceAllString(s, "")
	s = inlineCode.ReplaceAllString(s, "")
	s = unspeakable.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	kept := fields[:0]
	for _, word := range fields {
		if utf8.RuneCountInString(word) > 1 || singleCharTokens[word] {
			kept = append(kept, word)
		}
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

// Queueable reports whether sanitized text is long enough to enqueue.
func Queueable(s string) bool {
	return utf8.RuneCountInString(s) >= MinQueueLength
}
