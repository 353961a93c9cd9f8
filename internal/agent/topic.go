package agent

import (
	"math"

	"omnimem/internal/retrieval"
)

// topicPruneFloor drops vector entries that have decayed to noise.
const topicPruneFloor = 0.001

// topicVector is a sparse term-frequency vector tracking what the session
// is about.
type topicVector map[string]float64

// promptVector tokenizes a prompt into a normalized frequency vector.
func promptVector(text string) topicVector {
	tokens := retrieval.Tokenize(text)
	if len(tokens) == 0 {
		return topicVector{}
	}
	v := make(topicVector, len(tokens))
	for _, tok := range tokens {
		v[tok]++
	}
	n := float64(len(tokens))
	for tok := range v {
		v[tok] /= n
	}
	return v
}

// cosine returns the cosine similarity of two sparse vectors; empty
// vectors are fully dissimilar.
func cosine(a, b topicVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for tok, av := range a {
		na += av * av
		if bv, ok := b[tok]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// emaUpdate folds the prompt vector into the topic with exponential
// smoothing and prunes entries below the noise floor.
func emaUpdate(topic, prompt topicVector, alpha float64) topicVector {
	next := make(topicVector, len(topic)+len(prompt))
	for tok, v := range topic {
		next[tok] = (1 - alpha) * v
	}
	for tok, v := range prompt {
		next[tok] += alpha * v
	}
	for tok, v := range next {
		if v < topicPruneFloor {
			delete(next, tok)
		}
	}
	return next
}
