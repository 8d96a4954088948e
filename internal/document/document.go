package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxHeaderLevel is the deepest markdown heading level tracked.
const MaxHeaderLevel = 6

// Headers maps a heading level (1..6) to the heading texts seen at that level.
// A level is present only when at least one heading of that level was observed.
type Headers map[int][]string

// Add appends a heading text at the given level. Out-of-range levels are ignored.
func (h Headers) Add(level int, text string) {
	if level < 1 || level > MaxHeaderLevel {
		return
	}
	h[level] = append(h[level], text)
}

// Extend appends other's headings after the existing ones, per level.
func (h Headers) Extend(other Headers) {
	for level, texts := range other {
		if len(texts) == 0 {
			if _, ok := h[level]; !ok {
				h[level] = []string{}
			}
			continue
		}
		h[level] = append(h[level], texts...)
	}
}

// Supersede replaces h's entry for every level present in other.
func (h Headers) Supersede(other Headers) {
	for level, texts := range other {
		h[level] = append([]string(nil), texts...)
	}
}

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for level, texts := range h {
		out[level] = append([]string(nil), texts...)
	}
	return out
}

// Levels returns the levels present, ascending.
func (h Headers) Levels() []int {
	levels := make([]int, 0, len(h))
	for level := range h {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// Breadcrumb returns the most recent heading at each level, shallowest first.
func (h Headers) Breadcrumb() []string {
	var bc []string
	for _, level := range h.Levels() {
		if texts := h[level]; len(texts) > 0 {
			bc = append(bc, texts[len(texts)-1])
		}
	}
	return bc
}

// MarshalJSON encodes levels as "h1".."h6" keys.
func (h Headers) MarshalJSON() ([]byte, error) {
	m := make(map[string][]string, len(h))
	for level, texts := range h {
		if texts == nil {
			texts = []string{}
		}
		m["h"+strconv.Itoa(level)] = texts
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes "h1".."h6" keys.
func (h *Headers) UnmarshalJSON(data []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Headers, len(m))
	for key, texts := range m {
		level, err := strconv.Atoi(strings.TrimPrefix(key, "h"))
		if err != nil || !strings.HasPrefix(key, "h") || level < 1 || level > MaxHeaderLevel {
			return fmt.Errorf("invalid header key %q", key)
		}
		out[level] = texts
	}
	*h = out
	return nil
}

// Metadata describes a Document's token size and structural context.
type Metadata struct {
	Tokens      int      `json:"tokens"`
	Headers     Headers  `json:"headers"`
	URLs        []string `json:"urls"`
	Images      []string `json:"images"`
	SourceTitle string   `json:"sourceTitle,omitempty"`
	SourceURL   string   `json:"sourceUrl,omitempty"`
}

// Document is one token-bounded chunk of a larger text.
type Document struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Source is a loaded context input, already converted to markdown.
type Source struct {
	Title    string // Display title (first heading, <title>, or file name)
	URL      string // Origin of the source (file path or URL), may be empty
	Markdown string // Text handed to the splitter
}
