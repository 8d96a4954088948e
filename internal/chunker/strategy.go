package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// strategy is one boundary rule. split must return pieces whose
// concatenation equals its input, with no empty pieces.
type strategy struct {
	name  string
	split func(string) []string
}

// strategies run coarse to fine. The last one always yields pieces of a
// single rune.
var strategies = []strategy{
	{name: "headers", split: splitHeaders},
	{name: "paragraphs", split: splitParagraphs},
	{name: "sentences", split: splitSentences},
	{name: "lines", split: splitLines},
	{name: "words", split: splitWords},
	{name: "characters", split: splitCharacters},
}

// splitHeaders cuts at the start of every header line except the first line.
func splitHeaders(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); {
		nl := strings.IndexByte(s[i:], '\n')
		if nl < 0 {
			break
		}
		next := i + nl + 1
		if next < len(s) && headerLevel(s[next:]) > 0 {
			parts = append(parts, s[start:next])
			start = next
		}
		i = next
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// splitParagraphs cuts after each blank line ("\n\n") or single newline.
func splitParagraphs(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' {
			continue
		}
		end := i + 1
		if end < len(s) && s[end] == '\n' {
			end++
		}
		parts = append(parts, s[start:end])
		start = end
		i = end - 1
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// splitSentences cuts after a period followed by a whitespace run. The
// whitespace stays with the sentence it ends.
func splitSentences(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			continue
		}
		end := i + 1
		for end < len(s) {
			r, w := utf8.DecodeRuneInString(s[end:])
			if !unicode.IsSpace(r) {
				break
			}
			end += w
		}
		if end == i+1 {
			continue
		}
		parts = append(parts, s[start:end])
		start = end
		i = end - 1
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// splitLines cuts after every newline.
func splitLines(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			parts = append(parts, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// splitWords cuts before each word that follows whitespace. Trailing
// whitespace stays with its word; leading whitespace joins the first word.
func splitWords(s string) []string {
	var parts []string
	start := 0
	inWord, sawWord := false, false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if !space && !inWord && sawWord {
			parts = append(parts, s[start:i])
			start = i
		}
		inWord = !space
		if !space {
			sawWord = true
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// splitCharacters cuts between every rune. Invalid UTF-8 bytes become
// single-byte pieces.
func splitCharacters(s string) []string {
	parts := make([]string, 0, len(s))
	for len(s) > 0 {
		_, w := utf8.DecodeRuneInString(s)
		parts = append(parts, s[:w])
		s = s[w:]
	}
	return parts
}

// normalizePiece collapses whitespace-only pieces spanning a line break to
// a single newline. Everything else is returned unchanged.
func normalizePiece(p string) string {
	if p != "\n" && strings.TrimSpace(p) == "" && strings.ContainsRune(p, '\n') {
		return "\n"
	}
	return p
}
