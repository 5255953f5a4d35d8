package lanes

import (
	"unicode/utf8"

	"mcoda/internal/types"
)

// Token estimation for lane budget management. The heuristic is calibrated
// for Claude's tokenizer (~4 characters per token).
const charsPerToken = 4.0

// EstimateTokens estimates tokens in a string.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	runeCount := utf8.RuneCountInString(s)
	return int(float64(runeCount) / charsPerToken)
}

// EstimateMessageTokens estimates tokens for one message including role
// framing overhead.
func EstimateMessageTokens(m types.Message) int {
	return 4 + EstimateTokens(m.Content)
}

// EstimateLaneTokens estimates tokens for a whole lane.
func EstimateLaneTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessageTokens(m)
	}
	return total
}
