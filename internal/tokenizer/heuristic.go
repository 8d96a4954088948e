package tokenizer

import "strings"

// HeuristicName selects the word-count estimator in ForName.
const HeuristicName = "heuristic"

// Heuristic estimates token counts from word counts (~1.33 tokens per word).
// It needs no vocabulary and is deterministic, but is not exact.
type Heuristic struct{}

func (Heuristic) Name() string { return HeuristicName }

// Count returns the estimated token count. Non-empty text counts at least 1.
func (Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
