// Package chunker splits text into token-bounded chunks annotated with the
// markdown section headers in force and with links and images externalized.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgallion1/ctxproxy/internal/document"
	"github.com/dgallion1/ctxproxy/internal/tokenizer"
)

// ErrInvalidArgument is returned for a non-positive token limit.
var ErrInvalidArgument = errors.New("invalid argument")

// fragment is a slice of text with its token count and the headers found
// in its own text.
type fragment struct {
	text    string
	tokens  int
	headers document.Headers
}

// Splitter splits text using a shared token counter. It holds no per-call
// state, so one Splitter may serve concurrent Split calls.
type Splitter struct {
	counter tokenizer.Counter
}

// New returns a Splitter counting tokens with counter.
func New(counter tokenizer.Counter) *Splitter {
	return &Splitter{counter: counter}
}

// Split cuts text into chunks of at most limit tokens, in reading order.
// A chunk holding a single rune that alone exceeds limit is still emitted.
func (s *Splitter) Split(text string, limit int) ([]document.Document, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: token limit must be positive, got %d", ErrInvalidArgument, limit)
	}
	docs := []document.Document{}
	if text == "" {
		return docs, nil
	}

	chunks := merge(s.fragments(text, limit), limit)

	latest := document.Headers{}
	for _, c := range chunks {
		var doc document.Document
		doc, latest = extractMetadata(c, latest)
		docs = append(docs, doc)
	}
	return docs, nil
}

// SplitSource splits a loaded source and stamps its title and URL on every
// resulting document.
func (s *Splitter) SplitSource(src document.Source, limit int) ([]document.Document, error) {
	docs, err := s.Split(src.Markdown, limit)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Metadata.SourceTitle = src.Title
		docs[i].Metadata.SourceURL = src.URL
	}
	return docs, nil
}

// fragments applies strategies coarse to fine until every fragment fits.
// Each pass re-cuts the whole sequence, not only oversized fragments.
func (s *Splitter) fragments(text string, limit int) []fragment {
	frags := []fragment{s.newFragment(text)}
	for i, st := range strategies {
		frags = s.apply(st, frags)
		if i == len(strategies)-1 || !exceeds(frags, limit) {
			break
		}
	}
	return frags
}

func (s *Splitter) apply(st strategy, frags []fragment) []fragment {
	out := make([]fragment, 0, len(frags))
	for _, f := range frags {
		pieces := st.split(f.text)
		if len(pieces) == 1 && normalizePiece(pieces[0]) == f.text {
			out = append(out, f)
			continue
		}
		for _, p := range pieces {
			out = append(out, s.newFragment(normalizePiece(p)))
		}
	}
	return out
}

func (s *Splitter) newFragment(text string) fragment {
	return fragment{
		text:    text,
		tokens:  s.counter.Count(text),
		headers: extractHeaders(text),
	}
}

func exceeds(frags []fragment, limit int) bool {
	for _, f := range frags {
		if f.tokens > limit {
			return true
		}
	}
	return false
}

// merge packs consecutive fragments into chunks while their summed token
// counts stay within limit. Empty chunks are dropped.
func merge(frags []fragment, limit int) []fragment {
	var (
		out    []fragment
		text   strings.Builder
		tokens int
		hdrs   = document.Headers{}
	)
	flush := func() {
		if text.Len() > 0 && tokens > 0 {
			out = append(out, fragment{text: text.String(), tokens: tokens, headers: hdrs})
		}
		text.Reset()
		tokens = 0
		hdrs = document.Headers{}
	}

	for _, f := range frags {
		if tokens+f.tokens > limit {
			flush()
		}
		text.WriteString(f.text)
		tokens += f.tokens
		hdrs.Extend(f.headers)
	}
	flush()
	return out
}
