package source

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/ctxproxy/internal/document"
)

// TextParser handles plain text files. Paragraphs are kept; runs of blank
// or whitespace-only lines collapse to one blank line.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (document.Source, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}

	if err := scanner.Err(); err != nil {
		return document.Source{}, err
	}

	return document.Source{
		Title:    baseTitle(filename),
		Markdown: strings.Join(paragraphs, "\n\n"),
	}, nil
}
