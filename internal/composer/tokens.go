package composer

import "unicode"

// EstimateTokens approximates LLM token usage: one token per alphanumeric
// run plus one per CJK character. Crude, but stable across turns, which is
// what budget accounting needs.
func EstimateTokens(text string) int {
	tokens := 0
	inRun := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			tokens++
			inRun = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inRun {
				tokens++
				inRun = true
			}
		default:
			inRun = false
		}
	}
	return tokens
}
