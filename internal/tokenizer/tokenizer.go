// Package tokenizer converts text to token counts for chunk budgeting.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE vocabulary used when none is configured.
const DefaultEncoding = "cl100k_base"

// ErrTokenizerUnavailable is returned when an encoding's vocabulary cannot be loaded.
var ErrTokenizerUnavailable = errors.New("tokenizer unavailable")

// Counter reports how many tokens a text encodes to.
// Implementations must be deterministic and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// BPE counts tokens with a tiktoken byte-pair encoding.
type BPE struct {
	name string
	enc  *tiktoken.Tiktoken
}

var (
	loaderOnce sync.Once

	encMu    sync.Mutex
	encCache = map[string]*BPE{}
)

// New returns the shared BPE counter for the named encoding, building it on
// first use. Vocabularies are embedded, so no network access is needed.
func New(encoding string) (*BPE, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	encMu.Lock()
	defer encMu.Unlock()
	if b, ok := encCache[encoding]; ok {
		return b, nil
	}

	enc, err := getEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %q: %v", ErrTokenizerUnavailable, encoding, err)
	}
	b := &BPE{name: encoding, enc: enc}
	encCache[encoding] = b
	return b, nil
}

// getEncoding converts panics from malformed vocabularies into errors.
func getEncoding(name string) (enc *tiktoken.Tiktoken, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load vocabulary: %v", r)
		}
	}()
	return tiktoken.GetEncoding(name)
}

// Name returns the encoding name.
func (b *BPE) Name() string { return b.name }

// Encode returns the token ids for text. Special-token markup is encoded as
// ordinary text.
func (b *BPE) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return b.enc.Encode(text, nil, nil)
}

// Count returns len(Encode(text)).
func (b *BPE) Count(text string) int {
	return len(b.Encode(text))
}

// ForName resolves an encoding name to a Counter. "heuristic" selects the
// word-count estimator; anything else is loaded as a BPE vocabulary.
func ForName(name string) (Counter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case HeuristicName:
		return Heuristic{}, nil
	case "":
		return New(DefaultEncoding)
	default:
		return New(strings.TrimSpace(name))
	}
}
