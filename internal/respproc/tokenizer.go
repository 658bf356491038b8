package respproc

import "strings"

// EstimateTokens is the last-resort local tokenizer used when a
// provider response carries no usable usage fields at all (spec.md
// §4.5 token-usage extraction priority, step "d"). It approximates GPT-
// style BPE token counts by a whitespace/punctuation heuristic — good
// enough for a fallback estimate, not meant to match a provider's
// actual tokenizer exactly.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch {
		case r == ' ' || r == '\n' || r == '\t' || r == '\r':
			return true
		case strings.ContainsRune(".,!?;:()[]{}\"'`", r):
			return true
		}
		return false
	})
	// Roughly 1.3 tokens per word for English prose.
	return int(float64(len(fields))*1.3) + 1
}
