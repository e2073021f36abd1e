package cleaner

import "unicode/utf8"

// EstimateTokens approximates how many LLM tokens text costs: rune count
// divided by 3, a middle ground between English (~4 chars/token) and CJK
// (~1.5 chars/token). The upstream prompt builder uses it to budget pages.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	est := n / 3
	if est < 1 {
		return 1
	}
	return est
}
