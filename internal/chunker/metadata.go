package chunker

import (
	"strconv"
	"strings"

	"github.com/dgallion1/ctxproxy/internal/document"
)

const (
	urlPlaceholderPrefix = "{{$url"
	imgPlaceholderPrefix = "{{$img"
	placeholderSuffix    = "}}"
)

// headerLevel returns the level of a markdown header line (1..6 '#'
// followed by a space or tab), or 0.
func headerLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > document.MaxHeaderLevel || n >= len(line) {
		return 0
	}
	if c := line[n]; c != ' ' && c != '\t' {
		return 0
	}
	return n
}

// extractHeaders collects every header line in text, in order.
func extractHeaders(text string) document.Headers {
	h := document.Headers{}
	for line := range strings.SplitSeq(text, "\n") {
		level := headerLevel(line)
		if level == 0 {
			continue
		}
		h.Add(level, strings.TrimSpace(line[level+1:]))
	}
	return h
}

// linkSpan locates the parts of a "[label](target)" construct.
type linkSpan struct {
	labelStart, labelEnd   int
	targetStart, targetEnd int
}

// matchLink matches a bracketed label and parenthesized target starting at
// s[open] == '['. Brackets in the label and parentheses in the target must
// balance.
func matchLink(s string, open int) (linkSpan, bool) {
	closeLabel := matchBalanced(s, open, '[', ']')
	if closeLabel < 0 || closeLabel+1 >= len(s) || s[closeLabel+1] != '(' {
		return linkSpan{}, false
	}
	closeTarget := matchBalanced(s, closeLabel+1, '(', ')')
	if closeTarget < 0 {
		return linkSpan{}, false
	}
	return linkSpan{
		labelStart:  open + 1,
		labelEnd:    closeLabel,
		targetStart: closeLabel + 2,
		targetEnd:   closeTarget,
	}, true
}

// matchBalanced returns the index of the delimiter closing s[start], or -1.
func matchBalanced(s string, start int, open, close byte) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// replaceTargets rewrites the target of every link (image=false) or image
// (image=true) in s with repl(target). Links need a non-empty label; images
// may have an empty alt text. Both need a non-empty target.
func replaceTargets(s string, image bool, repl func(target string) string) string {
	var b strings.Builder
	last := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		if bang := i > 0 && s[i-1] == '!'; bang != image {
			continue
		}
		m, ok := matchLink(s, i)
		if !ok || m.targetStart == m.targetEnd || (!image && m.labelStart == m.labelEnd) {
			continue
		}
		b.WriteString(s[last:m.targetStart])
		b.WriteString(repl(s[m.targetStart:m.targetEnd]))
		last = m.targetEnd
		i = m.targetEnd
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// externalize swaps link and image targets for per-chunk placeholders and
// returns the targets in order of appearance. Links are replaced first.
func externalize(text string) (content string, urls, images []string) {
	urls, images = []string{}, []string{}
	content = replaceTargets(text, false, func(target string) string {
		urls = append(urls, target)
		return placeholder(urlPlaceholderPrefix, len(urls)-1)
	})
	content = replaceTargets(content, true, func(target string) string {
		images = append(images, target)
		return placeholder(imgPlaceholderPrefix, len(images)-1)
	})
	return content, urls, images
}

func placeholder(prefix string, idx int) string {
	return prefix + strconv.Itoa(idx) + placeholderSuffix
}

// extractMetadata builds the Document for one merged chunk. The sticky
// header state is taken by value and the advanced state is returned: every
// level seen in this chunk replaces the previous entry for that level.
func extractMetadata(c fragment, latest document.Headers) (document.Document, document.Headers) {
	content, urls, images := externalize(c.text)

	next := latest.Clone()
	next.Supersede(extractHeaders(content))

	return document.Document{
		Text: content,
		Metadata: document.Metadata{
			Tokens:  c.tokens,
			Headers: next.Clone(),
			URLs:    urls,
			Images:  images,
		},
	}, next
}

// Restore puts a Document's externalized link and image targets back in
// place of their placeholders.
func Restore(doc document.Document) string {
	if len(doc.Metadata.URLs) == 0 && len(doc.Metadata.Images) == 0 {
		return doc.Text
	}
	pairs := make([]string, 0, 2*(len(doc.Metadata.URLs)+len(doc.Metadata.Images)))
	for i, u := range doc.Metadata.URLs {
		pairs = append(pairs, placeholder(urlPlaceholderPrefix, i), u)
	}
	for i, img := range doc.Metadata.Images {
		pairs = append(pairs, placeholder(imgPlaceholderPrefix, i), img)
	}
	return strings.NewReplacer(pairs...).Replace(doc.Text)
}
