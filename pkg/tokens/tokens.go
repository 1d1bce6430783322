// Package tokens provides token count estimation for budget enforcement.
//
// Budgets throughout the system are expressed in tokens, not characters or
// message counts. Exact tokenization is model-specific; the estimator here
// uses the common ~4 characters per token heuristic, which overcounts
// slightly for prose and keeps the hot context safely under provider limits.
package tokens

import "unicode/utf8"

// charsPerToken is the approximation used when no exact count is available.
const charsPerToken = 4

// Estimate returns an approximate token count for text.
// Empty text estimates to zero; any non-empty text counts at least one token.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	n := utf8.RuneCountInString(text)
	count := (n + charsPerToken - 1) / charsPerToken
	if count < 1 {
		count = 1
	}

	return count
}
