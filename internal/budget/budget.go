// Package budget estimates prompt sizes for generation backends and trims
// prompts that would overflow a model's input window. Backends use different
// tokenizers, so sizes are estimated with a character heuristic of roughly
// 4 characters per token.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxPromptTokens is the default input budget of a single
	// generation call.
	DefaultMaxPromptTokens = 1024
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// per-message framing overhead
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Truncate returns the longest prefix of s whose estimated size fits within
// maxTokens, cut on a UTF-8 rune boundary. The second return value reports
// whether anything was removed. maxTokens <= 0 disables truncation.
func Truncate(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return s, false
	}
	limit := maxTokens * charsPerToken
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
