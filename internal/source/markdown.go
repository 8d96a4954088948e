package source

import (
	"io"
	"strings"

	"github.com/dgallion1/ctxproxy/internal/document"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files. The text is passed through with
// normalized line endings; goldmark is used only to find the title.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (document.Source, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return document.Source{}, err
	}
	src := []byte(strings.ReplaceAll(string(raw), "\r\n", "\n"))

	title := baseTitle(filename)
	if h := firstHeading(src); h != "" {
		title = h
	}
	return document.Source{
		Title:    title,
		Markdown: strings.TrimSpace(string(src)),
	}, nil
}

// firstHeading returns the text of the shallowest heading that appears
// first in the document, or "".
func firstHeading(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	best, bestLevel := "", 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		if bestLevel == 0 || h.Level < bestLevel {
			best = strings.TrimSpace(string(inlineText(h, src)))
			bestLevel = h.Level
		}
		if bestLevel == 1 {
			break
		}
	}
	return best
}

// inlineText concatenates the text segments below n.
func inlineText(n ast.Node, src []byte) []byte {
	var out []byte
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			out = append(out, t.Segment.Value(src)...)
			continue
		}
		out = append(out, inlineText(c, src)...)
	}
	return out
}
