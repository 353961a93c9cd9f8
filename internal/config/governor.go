package config

import "fmt"

// GovernorConfig tunes the lifecycle maintenance passes. All score
// thresholds live in [0,1].
type GovernorConfig struct {
	// DecayHalfLifeDays is the importance half-life for untouched
	// instant/short memories (default: 14)
	DecayHalfLifeDays float64 `yaml:"decay_half_life_days" json:"decay_half_life_days"`

	// DecayScanLimit bounds rows touched per decay pass (default: 500)
	DecayScanLimit int `yaml:"decay_scan_limit" json:"decay_scan_limit"`

	// Promotion thresholds: a memory climbs one layer when importance,
	// confidence, and stability clear these floors, volatility stays
	// under the ceiling, and reuse meets the minimum.
	PromoteImportance    float64 `yaml:"promote_importance" json:"promote_importance"`         // default: 0.65
	PromoteConfidence    float64 `yaml:"promote_confidence" json:"promote_confidence"`         // default: 0.55
	PromoteStability     float64 `yaml:"promote_stability" json:"promote_stability"`           // default: 0.50
	PromoteMaxVolatility float64 `yaml:"promote_max_volatility" json:"promote_max_volatility"` // default: 0.45
	PromoteMinReuse      int     `yaml:"promote_min_reuse" json:"promote_min_reuse"`           // default: 2

	// Demotion thresholds: a long-layer memory drops back when volatility
	// climbs and stability or reuse collapses.
	DemoteVolatility float64 `yaml:"demote_volatility" json:"demote_volatility"` // default: 0.70
	DemoteStability  float64 `yaml:"demote_stability" json:"demote_stability"`   // default: 0.35
	DemoteMaxReuse   int     `yaml:"demote_max_reuse" json:"demote_max_reuse"`   // default: 1

	// CompressMinItems is the smallest cluster worth compressing into a
	// summary (default: 6)
	CompressMinItems int `yaml:"compress_min_items" json:"compress_min_items"`

	// TemporalWindowDays groups memories into weekly distillation windows
	// (default: 7)
	TemporalWindowDays int `yaml:"temporal_window_days" json:"temporal_window_days"`

	// Rehearsal: important but never-reused memories get a small reuse
	// nudge so they survive decay.
	RehearseImportance float64 `yaml:"rehearse_importance" json:"rehearse_importance"` // default: 0.70
	RehearseMaxReuse   int     `yaml:"rehearse_max_reuse" json:"rehearse_max_reuse"`   // default: 1
	RehearseBatch      int     `yaml:"rehearse_batch" json:"rehearse_batch"`           // default: 20

	// Reflection: sessions with enough writes but low mean reuse produce
	// a reflection note.
	ReflectMinWrites int     `yaml:"reflect_min_writes" json:"reflect_min_writes"` // default: 3
	ReflectMeanReuse float64 `yaml:"reflect_mean_reuse" json:"reflect_mean_reuse"` // default: 2.0

	// Adaptive thresholds: promotion floors drift toward the observed
	// importance distribution quantiles.
	AdaptiveHighQuantile float64 `yaml:"adaptive_high_quantile" json:"adaptive_high_quantile"` // default: 0.6
	AdaptiveLowQuantile  float64 `yaml:"adaptive_low_quantile" json:"adaptive_low_quantile"`   // default: 0.4
}

// DefaultGovernorConfig returns sensible defaults for lifecycle governance.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		DecayHalfLifeDays:    14,
		DecayScanLimit:       500,
		PromoteImportance:    0.65,
		PromoteConfidence:    0.55,
		PromoteStability:     0.50,
		PromoteMaxVolatility: 0.45,
		PromoteMinReuse:      2,
		DemoteVolatility:     0.70,
		DemoteStability:      0.35,
		DemoteMaxReuse:       1,
		CompressMinItems:     6,
		TemporalWindowDays:   7,
		RehearseImportance:   0.70,
		RehearseMaxReuse:     1,
		RehearseBatch:        20,
		ReflectMinWrites:     3,
		ReflectMeanReuse:     2.0,
		AdaptiveHighQuantile: 0.6,
		AdaptiveLowQuantile:  0.4,
	}
}

func (c *GovernorConfig) validate() error {
	if c.DecayHalfLifeDays <= 0 {
		return fmt.Errorf("governor.decay_half_life_days must be > 0, got %v", c.DecayHalfLifeDays)
	}
	if c.DecayScanLimit < 1 {
		return fmt.Errorf("governor.decay_scan_limit must be >= 1, got %d", c.DecayScanLimit)
	}
	if c.CompressMinItems < 2 {
		return fmt.Errorf("governor.compress_min_items must be >= 2, got %d", c.CompressMinItems)
	}
	if c.TemporalWindowDays < 1 {
		return fmt.Errorf("governor.temporal_window_days must be >= 1, got %d", c.TemporalWindowDays)
	}
	for name, v := range map[string]float64{
		"promote_importance":     c.PromoteImportance,
		"promote_confidence":     c.PromoteConfidence,
		"promote_stability":      c.PromoteStability,
		"promote_max_volatility": c.PromoteMaxVolatility,
		"demote_volatility":      c.DemoteVolatility,
		"demote_stability":       c.DemoteStability,
		"rehearse_importance":    c.RehearseImportance,
		"adaptive_high_quantile": c.AdaptiveHighQuantile,
		"adaptive_low_quantile":  c.AdaptiveLowQuantile,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("governor.%s must be in [0,1], got %v", name, v)
		}
	}
	if c.AdaptiveLowQuantile >= c.AdaptiveHighQuantile {
		return fmt.Errorf("governor.adaptive_low_quantile must be below adaptive_high_quantile")
	}
	return nil
}
