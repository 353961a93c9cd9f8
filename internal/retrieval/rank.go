package retrieval

import (
	"math"
	"sort"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/types"
)

// recencyHalfLife controls the exponential age falloff of the recency
// component.
const recencyHalfLife = 14 * 24 * time.Hour

// rank scores every candidate in place. Weights come from configuration,
// reshaped by the ranking mode; the relevance gate caps candidates with no
// lexical and no graph connection to the query.
func (e *Engine) rank(cands map[string]*candidate, order []string, queryTokens []string,
	opts Options, recencyWeight float64, scope types.Scope) error {

	rc := e.cfg.Retrieval
	now := e.now()

	// Normalize FTS scores to [0,1] against the best seed.
	var maxFTS float64
	for _, c := range cands {
		if c.ftsRaw > maxFTS {
			maxFTS = c.ftsRaw
		}
	}

	var ppr map[string]float64
	if opts.Mode == types.RankPPR {
		var err error
		ppr, err = e.personalizedPageRank(cands)
		if err != nil {
			return err
		}
	}

	var topTags []string
	if opts.ProfileBias {
		topTags = e.profileTags(scope)
	}

	wLex, wFTS, wCog, wRec, wGraph := blendWeights(rc.Weights, opts.Mode, recencyWeight)

	for _, id := range order {
		c, ok := cands[id]
		if !ok {
			continue
		}
		c.comps.Lexical = Overlap(queryTokens, c.tokenSet())
		if maxFTS > 0 {
			c.comps.FTS = c.ftsRaw / maxFTS
		}
		c.comps.Cognitive = cognitiveScore(rc.Cognitive, c.row.Signals)
		c.comps.Recency = recencyScore(now, c.row.UpdatedAt)
		if ppr != nil {
			c.comps.Graph = ppr[id]
		} else if c.hops > 0 {
			c.comps.Graph = 1.0 / float64(1+c.hops)
		} else if c.seed {
			c.comps.Graph = 1.0
		}

		c.score = wLex*c.comps.Lexical + wFTS*c.comps.FTS + wCog*c.comps.Cognitive +
			wRec*c.comps.Recency + wGraph*c.comps.Graph

		if opts.ProfileBias && len(topTags) > 0 {
			c.comps.Profile = profileWeight * JaccardSlices(c.row.Tags, topTags)
			c.score += c.comps.Profile
		}

		// Relevance gate: no lexical overlap and no graph path means the
		// candidate only got here on raw signal strength. Cap it below any
		// genuine match regardless of reuse count.
		if c.comps.Lexical == 0 && c.hops == 0 && c.comps.FTS == 0 {
			c.gateHit = true
			c.score *= rc.RelevanceFloor
		}
	}
	return nil
}

// blendWeights reshapes the configured hybrid weights per ranking mode.
// Lexical mode leans on text evidence, cognitive mode on signals, ppr on
// the graph; hybrid uses the configured blend. The drift-adjusted recency
// weight replaces the configured one before reshaping.
func blendWeights(w config.HybridWeights, mode types.RankingMode, recency float64) (wLex, wFTS, wCog, wRec, wGraph float64) {
	w.Recency = recency
	switch mode {
	case types.RankLexical:
		return 0.50, 0.35, 0.05, w.Recency, 0.05
	case types.RankCognitive:
		return 0.15, 0.10, 0.55, w.Recency, 0.10
	case types.RankPPR:
		return 0.20, 0.10, 0.15, w.Recency, 0.45
	default: // hybrid
		return w.Lexical, w.FTS, w.Cognitive, w.Recency, w.Graph
	}
}

// cognitiveScore folds the governance signals into one number. Reuse goes
// through log1p so a runaway counter cannot dominate.
func cognitiveScore(w config.CognitiveWeights, sig types.Signals) float64 {
	reuse := math.Log1p(float64(sig.ReuseCount)) / math.Log1p(50)
	if reuse > 1 {
		reuse = 1
	}
	score := w.Importance*sig.Importance + w.Confidence*sig.Confidence +
		w.Stability*sig.Stability + w.Reuse*reuse - w.Volatility*sig.Volatility
	if score < 0 {
		return 0
	}
	return score
}

// recencyScore decays exponentially with age from 1.0 at zero age.
func recencyScore(now, updated time.Time) float64 {
	if updated.IsZero() || updated.After(now) {
		return 1
	}
	age := now.Sub(updated)
	return math.Exp(-float64(age) / float64(recencyHalfLife) * math.Ln2)
}

// personalizedPageRank runs a bounded power iteration over the
// candidate-induced subgraph, personalized on the seed set.
func (e *Engine) personalizedPageRank(cands map[string]*candidate) (map[string]float64, error) {
	rc := e.cfg.Retrieval

	ids := make([]string, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	links, err := e.svc.Store().LinksAmong(ids)
	if err != nil {
		return nil, err
	}

	// Undirected weighted adjacency with per-node normalization.
	adj := map[string]map[string]float64{}
	addEdge := func(a, b string, w float64) {
		if adj[a] == nil {
			adj[a] = map[string]float64{}
		}
		if w > adj[a][b] {
			adj[a][b] = w
		}
	}
	for _, l := range links {
		addEdge(l.SrcID, l.DstID, l.Weight)
		addEdge(l.DstID, l.SrcID, l.Weight)
	}

	// Personalization: uniform over seeds, zero elsewhere.
	seedCount := 0
	for _, c := range cands {
		if c.seed {
			seedCount++
		}
	}
	if seedCount == 0 {
		seedCount = len(cands)
	}
	personal := map[string]float64{}
	for id, c := range cands {
		if c.seed || seedCount == len(cands) {
			personal[id] = 1.0 / float64(seedCount)
		}
	}

	rank := map[string]float64{}
	for _, id := range ids {
		rank[id] = personal[id]
	}

	d := rc.PPRDamping
	for i := 0; i < rc.PPRIterations; i++ {
		next := map[string]float64{}
		for _, id := range ids {
			next[id] = (1 - d) * personal[id]
		}
		for src, outs := range adj {
			var total float64
			for _, w := range outs {
				total += w
			}
			if total == 0 {
				continue
			}
			for dst, w := range outs {
				next[dst] += d * rank[src] * (w / total)
			}
		}
		rank = next
	}

	// Normalize to [0,1] for blending.
	var max float64
	for _, v := range rank {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for id := range rank {
			rank[id] /= max
		}
	}
	return rank, nil
}
