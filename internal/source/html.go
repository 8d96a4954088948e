package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/ctxproxy/internal/document"
	"golang.org/x/net/html"
)

// HTMLParser converts HTML files to markdown. Headings become '#' lines,
// anchors become [text](href) and images become ![alt](src) so the
// splitter can externalize them.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (document.Source, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return document.Source{}, fmt.Errorf("parse html: %w", err)
	}

	title := baseTitle(filename)
	if t := findTitle(doc); t != "" {
		title = t
	}

	var blocks []string
	var loose strings.Builder
	flushLoose := func() {
		if t := collapseSpace(loose.String()); t != "" {
			blocks = append(blocks, t)
		}
		loose.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			loose.WriteString(n.Data)
			return
		case html.ElementNode:
			if level := headingLevel(n.Data); level > 0 {
				flushLoose()
				if t := collapseSpace(renderInline(n)); t != "" {
					blocks = append(blocks, heading(level, t))
				}
				return
			}
			switch n.Data {
			case "script", "style", "nav", "footer", "header", "noscript", "template":
				return
			case "p", "td", "th", "figcaption", "dt", "dd":
				flushLoose()
				blocks = append(blocks, collapseSpace(renderInline(n)))
				return
			case "li":
				flushLoose()
				if t := collapseSpace(renderInline(n)); t != "" {
					blocks = append(blocks, "- "+t)
				}
				return
			case "blockquote":
				flushLoose()
				if t := collapseSpace(renderInline(n)); t != "" {
					blocks = append(blocks, "> "+t)
				}
				return
			case "pre":
				flushLoose()
				if t := strings.Trim(textContent(n), "\n"); t != "" {
					blocks = append(blocks, "```\n"+t+"\n```")
				}
				return
			case "a", "img":
				loose.WriteString(renderNode(n))
				return
			case "br":
				loose.WriteString(" ")
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlockContainer(n.Data) {
			flushLoose()
		}
	}

	if body := findBody(doc); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	flushLoose()

	return document.Source{Title: title, Markdown: joinBlocks(blocks)}, nil
}

// renderInline renders the children of n as markdown inline text.
func renderInline(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(renderNode(c))
	}
	return b.String()
}

func renderNode(n *html.Node) string {
	switch {
	case n.Type == html.TextNode:
		return n.Data
	case n.Type != html.ElementNode:
		return ""
	case n.Data == "script" || n.Data == "style":
		return ""
	case n.Data == "br":
		return " "
	case n.Data == "img":
		if src := attr(n, "src"); src != "" {
			return "![" + collapseSpace(attr(n, "alt")) + "](" + src + ")"
		}
		return ""
	case n.Data == "a":
		label := collapseSpace(renderInline(n))
		href := attr(n, "href")
		if href == "" || label == "" || strings.HasPrefix(href, "#") {
			return label
		}
		return "[" + label + "](" + href + ")"
	default:
		return renderInline(n)
	}
}

func isBlockContainer(tag string) bool {
	switch tag {
	case "div", "section", "article", "main", "aside", "ul", "ol", "table", "tr", "dl", "figure", "form":
		return true
	}
	return false
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// collapseSpace trims s and folds every whitespace run to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return collapseSpace(textContent(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
