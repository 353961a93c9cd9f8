package retrieval

import (
	"math"
	"strings"
	"unicode"
)

// stopWords are dropped from query and document token sets. The list skews
// toward coding-assistant prose; domain terms always survive.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "for": true,
	"from": true, "has": true, "have": true, "how": true, "i": true, "in": true,
	"is": true, "it": true, "its": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "our": true, "should": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "we": true,
	"what": true, "when": true, "where": true, "which": true, "why": true,
	"will": true, "with": true, "you": true, "your": true,
}

// Tokenize lowercases text and splits it into alphanumeric runs, dropping
// stop words and single characters. CJK runs split per rune so ideographic
// text still produces useful tokens.
func Tokenize(text string) []string {
	var tokens []string
	var run strings.Builder
	flush := func() {
		if run.Len() == 0 {
			return
		}
		tok := run.String()
		run.Reset()
		if len(tok) < 2 || stopWords[tok] {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// TokenSet returns the unique tokens of text.
func TokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}

// Overlap returns the fraction of query tokens present in the document set.
func Overlap(queryTokens []string, doc map[string]bool) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range queryTokens {
		if doc[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// Jaccard returns the set similarity of two token sets.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// JaccardSlices is Jaccard over string slices, used for tag lists.
func JaccardSlices(a, b []string) float64 {
	as := map[string]bool{}
	for _, s := range a {
		as[s] = true
	}
	bs := map[string]bool{}
	for _, s := range b {
		bs[s] = true
	}
	return Jaccard(as, bs)
}

// CosineCounts returns the cosine similarity of two frequency vectors.
func CosineCounts(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for k, av := range a {
		na += float64(av) * float64(av)
		if bv, ok := b[k]; ok {
			dot += float64(av) * float64(bv)
		}
	}
	for _, bv := range b {
		nb += float64(bv) * float64(bv)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
