// Command split cuts a file, or stdin, into token-bounded documents and
// prints them as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dgallion1/ctxproxy/internal/chunker"
	"github.com/dgallion1/ctxproxy/internal/document"
	"github.com/dgallion1/ctxproxy/internal/source"
	"github.com/dgallion1/ctxproxy/internal/tokenizer"
)

func main() {
	var (
		limit    = flag.Int("limit", 3500, "maximum tokens per document")
		encoding = flag.String("encoding", tokenizer.DefaultEncoding, `token encoding, or "heuristic"`)
		restore  = flag.Bool("restore", false, "print text with links and images restored")
		pdftext  = flag.Bool("pdftotext", true, "fall back to pdftotext for PDFs")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: split [flags] [file]\n\nReads stdin as markdown when no file is given.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(os.Stdout, os.Stdin, flag.Arg(0), *limit, *encoding, *restore, *pdftext, log); err != nil {
		log.Error("split failed", "error", err)
		os.Exit(1)
	}
}

func run(w io.Writer, stdin io.Reader, path string, limit int, encoding string, restore, pdftext bool, log *slog.Logger) error {
	counter, err := tokenizer.ForName(encoding)
	if err != nil {
		return err
	}

	var src document.Source
	if path == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		src = document.Source{Title: "stdin", Markdown: string(data)}
	} else {
		src, err = source.LoadFile(path, source.Options{PDFFallbackPdftotext: pdftext})
		if err != nil {
			return err
		}
	}

	start := time.Now()
	docs, err := chunker.New(counter).SplitSource(src, limit)
	if err != nil {
		return err
	}
	if restore {
		for i := range docs {
			docs[i].Text = chunker.Restore(docs[i])
		}
	}
	log.Info("split complete", "source", src.Title, "documents", len(docs), "duration_ms", time.Since(start).Milliseconds())

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(docs)
}
