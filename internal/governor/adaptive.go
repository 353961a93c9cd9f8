package governor

import (
	"sort"
	"time"

	"omnimem/internal/retrieval"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// Thresholds are the consolidation gates for one pass.
type Thresholds struct {
	PromoteImportance    float64
	PromoteConfidence    float64
	PromoteStability     float64
	PromoteMaxVolatility float64
	PromoteMinReuse      int

	DemoteVolatility float64
	DemoteStability  float64
	DemoteMaxReuse   int
}

// configuredThresholds reads the static gates from configuration.
func (g *Governor) configuredThresholds() Thresholds {
	gc := g.cfg.Governor
	return Thresholds{
		PromoteImportance:    gc.PromoteImportance,
		PromoteConfidence:    gc.PromoteConfidence,
		PromoteStability:     gc.PromoteStability,
		PromoteMaxVolatility: gc.PromoteMaxVolatility,
		PromoteMinReuse:      gc.PromoteMinReuse,
		DemoteVolatility:     gc.DemoteVolatility,
		DemoteStability:      gc.DemoteStability,
		DemoteMaxReuse:       gc.DemoteMaxReuse,
	}
}

// AdaptiveThresholds derives the gates from the signal distribution of the
// recent window: promotion floors sit at the high quantile, demotion
// ceilings at the low quantile. Recent negative feedback tightens the
// confidence floor; topic drift demotes the volatile tail more
// aggressively and asks more of promotions.
func (g *Governor) AdaptiveThresholds(projectID string, windowDays int) (Thresholds, error) {
	gc := g.cfg.Governor
	th := g.configuredThresholds()
	since := g.now().AddDate(0, 0, -windowDays)

	sigs, err := g.svc.Store().SignalsSince(since)
	if err != nil {
		return th, err
	}
	if len(sigs) < 8 {
		// Too small a sample to trust; keep the configured gates.
		return th, nil
	}

	importance := make([]float64, len(sigs))
	confidence := make([]float64, len(sigs))
	stability := make([]float64, len(sigs))
	volatility := make([]float64, len(sigs))
	for i, s := range sigs {
		importance[i] = s.Importance
		confidence[i] = s.Confidence
		stability[i] = s.Stability
		volatility[i] = s.Volatility
	}

	th.PromoteImportance = quantile(importance, gc.AdaptiveHighQuantile)
	th.PromoteConfidence = quantile(confidence, gc.AdaptiveHighQuantile)
	th.PromoteStability = quantile(stability, gc.AdaptiveHighQuantile)
	th.PromoteMaxVolatility = quantile(volatility, gc.AdaptiveHighQuantile)
	th.DemoteVolatility = quantile(volatility, 1-gc.AdaptiveLowQuantile)
	th.DemoteStability = quantile(stability, gc.AdaptiveLowQuantile)

	// Feedback bias: distrust the store after negative or forget verdicts.
	fb, err := g.svc.CountRecentFeedback(since)
	if err == nil && fb.Negative+fb.Forget > fb.Positive+fb.Correct {
		th.PromoteConfidence = clamp01(th.PromoteConfidence + 0.10)
		th.DemoteVolatility = clamp01(th.DemoteVolatility - 0.10)
	}

	// Drift bias: when the working topic has moved, demote the volatile
	// tail faster and promote only what really earned it.
	if drift, derr := g.driftScore(projectID); derr == nil && drift >= 0.6 {
		th.DemoteVolatility = clamp01(th.DemoteVolatility - 0.10)
		th.PromoteImportance = clamp01(th.PromoteImportance + 0.05)
	}

	return th, nil
}

// driftScore mirrors the retrieval engine's drift measure over the tag
// distribution.
func (g *Governor) driftScore(projectID string) (float64, error) {
	idx := g.svc.Store()
	now := g.now()
	filter := store.Filter{ProjectID: projectID}

	recent, err := idx.TagCounts(filter, now.Add(-2*24*time.Hour))
	if err != nil {
		return 0, err
	}
	baseline, err := idx.TagCounts(filter, now.Add(-30*24*time.Hour))
	if err != nil {
		return 0, err
	}
	if len(recent) == 0 || len(baseline) == 0 {
		return 0, nil
	}
	return 1 - retrieval.CosineCounts(recent, baseline), nil
}

// quantile returns the q-quantile of values by nearest-rank on a sorted
// copy.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// promotionTarget returns the next layer up, or "" when the memory is
// already long (archive promotion is manual only).
func promotionTarget(layer types.Layer) types.Layer {
	switch layer {
	case types.LayerInstant:
		return types.LayerShort
	case types.LayerShort:
		return types.LayerLong
	}
	return ""
}

// demotionTarget returns the next layer down, or "" for instant.
func demotionTarget(layer types.Layer) types.Layer {
	switch layer {
	case types.LayerLong:
		return types.LayerShort
	case types.LayerShort:
		return types.LayerInstant
	}
	return ""
}
