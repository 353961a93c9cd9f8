package config

import "fmt"

// RetrievalConfig tunes the seed search, graph expansion, and ranking
// pipeline.
type RetrievalConfig struct {
	// RankingMode selects the scoring blend: lexical, cognitive, hybrid,
	// or ppr (default: hybrid)
	RankingMode string `yaml:"ranking_mode" json:"ranking_mode"`

	// Limit is the default result count when the caller gives none (default: 8)
	Limit int `yaml:"limit" json:"limit"`

	// ExpansionDepth is the max BFS hops from seed memories (default: 2)
	ExpansionDepth int `yaml:"expansion_depth" json:"expansion_depth"`

	// PerHopCap bounds neighbors taken per node per hop (default: 6)
	PerHopCap int `yaml:"per_hop_cap" json:"per_hop_cap"`

	// MinLinkWeight is the weakest edge the expansion will cross (default: 0.18)
	MinLinkWeight float64 `yaml:"min_link_weight" json:"min_link_weight"`

	// SeedFloor is the minimum full-text seed count before the recency
	// fallback scan kicks in (default: 3)
	SeedFloor int `yaml:"seed_floor" json:"seed_floor"`

	// RelevanceFloor drops candidates scoring below this fraction of the
	// top score (default: 0.25)
	RelevanceFloor float64 `yaml:"relevance_floor" json:"relevance_floor"`

	// MMRLambda balances relevance against diversity in final selection,
	// 1.0 = pure relevance (default: 0.55)
	MMRLambda float64 `yaml:"mmr_lambda" json:"mmr_lambda"`

	// CoreBlockLimit caps pinned core blocks surfaced per retrieval (default: 2)
	CoreBlockLimit int `yaml:"core_block_limit" json:"core_block_limit"`

	// IncludeArchive admits archive-layer memories as candidates (default: false)
	IncludeArchive bool `yaml:"include_archive" json:"include_archive"`

	// ReuseBumpCap limits reuse-count increments per memory per hour so a
	// retrieval loop cannot inflate stability (default: 30)
	ReuseBumpCap int `yaml:"reuse_bump_cap" json:"reuse_bump_cap"`

	// Hybrid blend weights; must sum to 1
	Weights HybridWeights `yaml:"weights" json:"weights"`

	// Cognitive sub-score weights; must sum to 1
	Cognitive CognitiveWeights `yaml:"cognitive" json:"cognitive"`

	// PPRIterations bounds the personalized PageRank power iteration (default: 20)
	PPRIterations int `yaml:"ppr_iterations" json:"ppr_iterations"`

	// PPRDamping is the PageRank damping factor (default: 0.85)
	PPRDamping float64 `yaml:"ppr_damping" json:"ppr_damping"`
}

// HybridWeights blends the component scores in hybrid ranking mode.
type HybridWeights struct {
	Lexical   float64 `yaml:"lexical" json:"lexical"`
	FTS       float64 `yaml:"fts" json:"fts"`
	Cognitive float64 `yaml:"cognitive" json:"cognitive"`
	Recency   float64 `yaml:"recency" json:"recency"`
	Graph     float64 `yaml:"graph" json:"graph"`
}

// CognitiveWeights blends the governance signals into the cognitive score.
type CognitiveWeights struct {
	Importance float64 `yaml:"importance" json:"importance"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Stability  float64 `yaml:"stability" json:"stability"`
	Reuse      float64 `yaml:"reuse" json:"reuse"`
	Volatility float64 `yaml:"volatility" json:"volatility"`
}

// DefaultRetrievalConfig returns sensible defaults for the retrieval pipeline.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		RankingMode:    "hybrid",
		Limit:          8,
		ExpansionDepth: 2,
		PerHopCap:      6,
		MinLinkWeight:  0.18,
		SeedFloor:      3,
		RelevanceFloor: 0.25,
		MMRLambda:      0.55,
		CoreBlockLimit: 2,
		IncludeArchive: false,
		ReuseBumpCap:   30,
		Weights: HybridWeights{
			Lexical:   0.30,
			FTS:       0.20,
			Cognitive: 0.25,
			Recency:   0.10,
			Graph:     0.15,
		},
		Cognitive: CognitiveWeights{
			Importance: 0.35,
			Confidence: 0.25,
			Stability:  0.20,
			Reuse:      0.10,
			Volatility: 0.10,
		},
		PPRIterations: 20,
		PPRDamping:    0.85,
	}
}

func (c *RetrievalConfig) validate() error {
	if c.Limit < 1 {
		return fmt.Errorf("retrieval.limit must be >= 1, got %d", c.Limit)
	}
	if c.ExpansionDepth < 0 {
		return fmt.Errorf("retrieval.expansion_depth must be >= 0, got %d", c.ExpansionDepth)
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("retrieval.mmr_lambda must be in [0,1], got %v", c.MMRLambda)
	}
	if c.PPRDamping <= 0 || c.PPRDamping >= 1 {
		return fmt.Errorf("retrieval.ppr_damping must be in (0,1), got %v", c.PPRDamping)
	}
	sum := c.Weights.Lexical + c.Weights.FTS + c.Weights.Cognitive + c.Weights.Recency + c.Weights.Graph
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("retrieval.weights must sum to 1, got %.3f", sum)
	}
	csum := c.Cognitive.Importance + c.Cognitive.Confidence + c.Cognitive.Stability +
		c.Cognitive.Reuse + c.Cognitive.Volatility
	if csum < 0.99 || csum > 1.01 {
		return fmt.Errorf("retrieval.cognitive weights must sum to 1, got %.3f", csum)
	}
	return nil
}
