// Package source converts context files into markdown text for the splitter.
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/ctxproxy/internal/document"
)

// Parser converts raw file bytes into a markdown Source.
type Parser interface {
	Parse(r io.Reader, filename string) (document.Source, error)
}

// Options tunes parser behavior.
type Options struct {
	PDFFallbackPdftotext bool
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string, opts Options) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: opts.PDFFallbackPdftotext}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %q", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// LoadFile parses the file at path. The returned Source's URL is the path.
func LoadFile(path string, opts Options) (document.Source, error) {
	p, err := ForFile(path, opts)
	if err != nil {
		return document.Source{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return document.Source{}, err
	}
	defer f.Close()

	src, err := p.Parse(f, filepath.Base(path))
	if err != nil {
		return document.Source{}, fmt.Errorf("parse %s: %w", path, err)
	}
	src.URL = path
	return src, nil
}

// baseTitle strips the extension from a file name.
func baseTitle(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// joinBlocks joins non-empty blocks with blank lines.
func joinBlocks(blocks []string) string {
	var b strings.Builder
	for _, blk := range blocks {
		blk = strings.TrimSpace(blk)
		if blk == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(blk)
	}
	return b.String()
}

// heading renders a markdown heading line, clamping level to 1..6.
func heading(level int, title string) string {
	level = max(1, min(level, document.MaxHeaderLevel))
	return strings.Repeat("#", level) + " " + strings.TrimSpace(title)
}
