package retrieval

import "sort"

// diversify selects up to limit candidates by maximal marginal relevance:
// each pick maximizes lambda*relevance - (1-lambda)*similarity to the
// already-selected set. Similarity is Jaccard over summary, body, and tag
// tokens. With lambda 1.0 this degrades to plain score order.
func (e *Engine) diversify(cands map[string]*candidate, order []string, lambda float64, limit int) []*candidate {
	pool := make([]*candidate, 0, len(cands))
	seen := map[string]bool{}
	for _, id := range order {
		c, ok := cands[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		pool = append(pool, c)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].score > pool[j].score
	})

	if limit > len(pool) {
		limit = len(pool)
	}
	selected := make([]*candidate, 0, limit)
	for len(selected) < limit && len(pool) > 0 {
		bestIdx := -1
		bestVal := 0.0
		for i, c := range pool {
			maxSim := 0.0
			for _, s := range selected {
				if sim := Jaccard(c.tokenSet(), s.tokenSet()); sim > maxSim {
					maxSim = sim
				}
			}
			val := lambda*c.score - (1-lambda)*maxSim
			if bestIdx == -1 || val > bestVal {
				bestIdx = i
				bestVal = val
			}
		}
		selected = append(selected, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
	return selected
}
