// Package budget fits ranked memories into token budgets and compresses
// over-long conversations. Token counts are estimated, not tokenized: the
// chars/4 heuristic is fast, and the budget split carries a safety margin
// that absorbs its error.
package budget

import (
	"strings"

	"github.com/omnix-ai/recall-go/pkg/memory"
)

// charsPerToken is the estimation ratio: ~1 token per 4 characters.
const charsPerToken = 4

// EstimateTokens estimates the token count of text. Non-empty text always
// costs at least one token.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateMessageTokens estimates the token count of a message list,
// including a small per-message framing overhead.
func EstimateMessageTokens(msgs []memory.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}

// ModelContextWindow returns the context window, in tokens, for a model
// name. Unknown models get a conservative default.
func ModelContextWindow(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4-turbo"):
		return 128000
	case strings.HasPrefix(m, "gpt-4"):
		return 8192
	case strings.HasPrefix(m, "gpt-3.5-turbo-16k"):
		return 16384
	case strings.HasPrefix(m, "gpt-3.5"):
		return 4096
	default:
		return 8192
	}
}
