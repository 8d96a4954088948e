package chunker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/dgallion1/ctxproxy/internal/document"
	"github.com/dgallion1/ctxproxy/internal/tokenizer"
)

// runeCounter counts one token per rune so chunk boundaries are predictable.
type runeCounter struct{}

func (runeCounter) Count(text string) int { return utf8.RuneCountInString(text) }

// byteCounter counts one token per byte, making multi-byte runes oversized.
type byteCounter struct{}

func (byteCounter) Count(text string) int { return len(text) }

const prose = `# Guide

Alice is an interface for talking to language models. It connects to several providers.

## Setup

Install the app. Open settings and paste a key.
Restart when asked.

## Usage

Type a message and press enter. Answers stream back as they arrive.`

func joinRestored(docs []document.Document) string {
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(Restore(d))
	}
	return b.String()
}

func TestSplit_EmptyInput(t *testing.T) {
	docs, err := New(runeCounter{}).Split("", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", docs)
	}
}

func TestSplit_InvalidLimit(t *testing.T) {
	for _, limit := range []int{0, -1, -500} {
		_, err := New(runeCounter{}).Split("text", limit)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("limit %d: expected ErrInvalidArgument, got %v", limit, err)
		}
	}
}

func TestSplit_SmallTextFitsOneChunk(t *testing.T) {
	docs, err := New(runeCounter{}).Split("Hello world.", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(docs))
	}
	if docs[0].Text != "Hello world." {
		t.Errorf("expected text unchanged, got %q", docs[0].Text)
	}
	if docs[0].Metadata.Tokens != 12 {
		t.Errorf("expected 12 tokens, got %d", docs[0].Metadata.Tokens)
	}
	if docs[0].Metadata.URLs == nil || docs[0].Metadata.Images == nil {
		t.Error("expected non-nil url and image lists")
	}
}

func TestSplit_LimitRespected(t *testing.T) {
	s := New(runeCounter{})
	for limit := 1; limit <= 60; limit++ {
		docs, err := s.Split(prose, limit)
		if err != nil {
			t.Fatalf("limit %d: unexpected error: %v", limit, err)
		}
		for i, d := range docs {
			if d.Metadata.Tokens > limit {
				t.Errorf("limit %d: chunk %d has %d tokens", limit, i, d.Metadata.Tokens)
			}
			if got := utf8.RuneCountInString(Restore(d)); got != d.Metadata.Tokens {
				t.Errorf("limit %d: chunk %d reports %d tokens, text has %d", limit, i, d.Metadata.Tokens, got)
			}
			if d.Text == "" {
				t.Errorf("limit %d: chunk %d is empty", limit, i)
			}
		}
	}
}

func TestSplit_OrderPreserved(t *testing.T) {
	s := New(runeCounter{})
	for _, limit := range []int{3, 8, 20, 45, 90, 1000} {
		docs, err := s.Split(prose, limit)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := joinRestored(docs); got != prose {
			t.Errorf("limit %d: reconstruction mismatch\n got: %q\nwant: %q", limit, got, prose)
		}
	}
}

func TestSplit_CollapsesBlankRuns(t *testing.T) {
	docs, err := New(runeCounter{}).Split("a\n\n\n\nb", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var texts []string
	for _, d := range docs {
		texts = append(texts, d.Text)
	}
	want := []string{"a\n", "\n\n", "b"}
	if !reflect.DeepEqual(texts, want) {
		t.Fatalf("expected %q, got %q", want, texts)
	}
}

func TestSplit_HeaderCarryOver(t *testing.T) {
	text := "# A\n\nbody1\n\n## B\n\nbody2"
	docs, err := New(runeCounter{}).Split(text, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(docs))
	}

	var body1, body2 *document.Document
	for i := range docs {
		if strings.Contains(docs[i].Text, "body1") {
			body1 = &docs[i]
		}
		if strings.Contains(docs[i].Text, "body2") {
			body2 = &docs[i]
		}
	}
	if body1 == nil || body2 == nil {
		t.Fatal("expected chunks containing body1 and body2")
	}

	want := document.Headers{1: {"A"}, 2: {"B"}}
	if !reflect.DeepEqual(body2.Metadata.Headers, want) {
		t.Errorf("body2 headers: expected %v, got %v", want, body2.Metadata.Headers)
	}
	if _, ok := body1.Metadata.Headers[2]; ok {
		t.Errorf("body1 chunk should not know about h2 yet, got %v", body1.Metadata.Headers)
	}
	if got := body1.Metadata.Headers[1]; !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("body1 h1: expected [A], got %v", got)
	}
}

func TestSplit_LaterHeaderSupersedes(t *testing.T) {
	text := "# One\n\nfirst\n\n# Two\n\nsecond"
	docs, err := New(runeCounter{}).Split(text, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := docs[len(docs)-1]
	if !strings.Contains(last.Text, "second") {
		t.Fatalf("expected last chunk to contain 'second', got %q", last.Text)
	}
	if got := last.Metadata.Headers[1]; !reflect.DeepEqual(got, []string{"Two"}) {
		t.Errorf("expected h1 [Two], got %v", got)
	}
}

func TestSplit_HeaderSnapshotsAreIndependent(t *testing.T) {
	docs, err := New(runeCounter{}).Split("# A\n\nbody1\n\n## B\n\nbody2", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	docs[0].Metadata.Headers[1][0] = "mutated"
	docs[0].Metadata.Headers[3] = []string{"x"}
	for i := 1; i < len(docs); i++ {
		if docs[i].Metadata.Headers[1][0] != "A" {
			t.Errorf("chunk %d: header snapshot shares state with chunk 0", i)
		}
		if _, ok := docs[i].Metadata.Headers[3]; ok {
			t.Errorf("chunk %d: unexpected h3", i)
		}
	}
}

func TestSplit_LinkExternalized(t *testing.T) {
	docs, err := New(runeCounter{}).Split("See [x](http://e.com) now.", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(docs))
	}
	d := docs[0]
	if d.Text != "See [x]({{$url0}}) now." {
		t.Errorf("unexpected text %q", d.Text)
	}
	if len(d.Metadata.URLs) != 1 || d.Metadata.URLs[0] != "http://e.com" {
		t.Errorf("expected urls [http://e.com], got %v", d.Metadata.URLs)
	}
	if strings.Contains(d.Text, "http://e.com") {
		t.Error("url should not remain in text")
	}
	if Restore(d) != "See [x](http://e.com) now." {
		t.Errorf("restore mismatch: %q", Restore(d))
	}
}

func TestSplit_PlaceholderIndexResetsPerChunk(t *testing.T) {
	docs, err := New(runeCounter{}).Split("[a](u1) xx.\n[b](u2) yy.", 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(docs))
	}
	if docs[0].Text != "[a]({{$url0}}) xx.\n" || docs[1].Text != "[b]({{$url0}}) yy." {
		t.Errorf("unexpected texts %q, %q", docs[0].Text, docs[1].Text)
	}
	if !reflect.DeepEqual(docs[0].Metadata.URLs, []string{"u1"}) || !reflect.DeepEqual(docs[1].Metadata.URLs, []string{"u2"}) {
		t.Errorf("unexpected urls %v, %v", docs[0].Metadata.URLs, docs[1].Metadata.URLs)
	}
}

func TestSplit_LongTokenDenseLine(t *testing.T) {
	text := strings.Repeat("x", 100000)
	docs, err := New(runeCounter{}).Split(text, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := (100000 + 6) / 7; len(docs) != want {
		t.Fatalf("expected %d chunks, got %d", want, len(docs))
	}
	for i, d := range docs {
		if d.Metadata.Tokens > 7 || d.Text == "" {
			t.Fatalf("chunk %d: bad chunk with %d tokens", i, d.Metadata.Tokens)
		}
	}
	if joinRestored(docs) != text {
		t.Error("reconstruction mismatch")
	}
}

func TestSplit_OversizedSingletonEmitted(t *testing.T) {
	docs, err := New(byteCounter{}).Split("aéb", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var texts []string
	for _, d := range docs {
		texts = append(texts, d.Text)
	}
	if !reflect.DeepEqual(texts, []string{"a", "é", "b"}) {
		t.Fatalf("unexpected chunks %q", texts)
	}
	if docs[1].Metadata.Tokens != 2 {
		t.Errorf("expected oversized chunk of 2 tokens, got %d", docs[1].Metadata.Tokens)
	}
}

func TestSplit_ResplitIsStable(t *testing.T) {
	s := New(runeCounter{})
	for _, limit := range []int{4, 16, 50} {
		first, err := s.Split(prose, limit)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := s.Split(joinRestored(first), limit)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(second) < len(first) {
			t.Errorf("limit %d: re-split is coarser (%d < %d chunks)", limit, len(second), len(first))
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("limit %d: re-split changed boundaries", limit)
		}
	}
}

func TestSplit_ConcurrentCallsDoNotShareHeaders(t *testing.T) {
	s := New(runeCounter{})
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 40 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := "plain text without headers"
			if i%2 == 0 {
				text = fmt.Sprintf("# H%d\n\nbody", i)
			}
			docs, err := s.Split(text, 8)
			if err != nil {
				errs <- err
				return
			}
			for _, d := range docs {
				if i%2 == 1 && len(d.Metadata.Headers) != 0 {
					errs <- fmt.Errorf("call %d: leaked headers %v", i, d.Metadata.Headers)
					return
				}
				if i%2 == 0 && !reflect.DeepEqual(d.Metadata.Headers[1], []string{fmt.Sprintf("H%d", i)}) {
					errs <- fmt.Errorf("call %d: unexpected headers %v", i, d.Metadata.Headers)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSplitSource_StampsSource(t *testing.T) {
	src := document.Source{Title: "Guide", URL: "docs/guide.md", Markdown: prose}
	docs, err := New(runeCounter{}).SplitSource(src, 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, d := range docs {
		if d.Metadata.SourceTitle != "Guide" || d.Metadata.SourceURL != "docs/guide.md" {
			t.Errorf("chunk %d: source not stamped: %+v", i, d.Metadata)
		}
	}
}

func TestSplit_WithBPETokenizer(t *testing.T) {
	enc, err := tokenizer.New(tokenizer.DefaultEncoding)
	if err != nil {
		t.Fatalf("load tokenizer: %v", err)
	}
	s := New(enc)
	for _, limit := range []int{5, 20, 3500} {
		docs, err := s.Split(prose, limit)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(docs) == 0 {
			t.Fatalf("limit %d: expected chunks", limit)
		}
		for i, d := range docs {
			if d.Metadata.Tokens > limit {
				t.Errorf("limit %d: chunk %d has %d tokens", limit, i, d.Metadata.Tokens)
			}
		}
		if joinRestored(docs) != prose {
			t.Errorf("limit %d: reconstruction mismatch", limit)
		}
	}
}

func TestMerge_HeaderUnion(t *testing.T) {
	frags := []fragment{
		{text: "# A\n", tokens: 2, headers: document.Headers{1: {"A"}}},
		{text: "# B\n## C\n", tokens: 3, headers: document.Headers{1: {"B"}, 2: {"C"}}},
		{text: "tail", tokens: 4, headers: document.Headers{}},
	}
	out := merge(frags, 5)
	if len(out) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(out))
	}
	want := document.Headers{1: {"A", "B"}, 2: {"C"}}
	if !reflect.DeepEqual(out[0].headers, want) {
		t.Errorf("expected %v, got %v", want, out[0].headers)
	}
	if out[0].text != "# A\n# B\n## C\n" || out[0].tokens != 5 {
		t.Errorf("unexpected first chunk %+v", out[0])
	}
	if out[1].text != "tail" {
		t.Errorf("unexpected second chunk %q", out[1].text)
	}
}

func TestMerge_DropsZeroTokenChunks(t *testing.T) {
	frags := []fragment{
		{text: "big", tokens: 10},
		{text: "", tokens: 0},
	}
	out := merge(frags, 5)
	if len(out) != 1 || out[0].text != "big" {
		t.Fatalf("expected only the oversized chunk, got %+v", out)
	}
}
