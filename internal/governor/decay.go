package governor

import (
	"math"
	"time"

	"omnimem/internal/types"
)

// decayMinAge keeps very fresh rows out of the decay scan entirely.
const decayMinAge = 24 * time.Hour

// Decay applies half-life attenuation to the signals of untouched instant
// and short memories, bounded by the configured scan limit. Volatility
// decays too: an old memory that was volatile once is mostly just old.
// Returns how many rows were decayed.
func (g *Governor) Decay() (int, error) {
	gc := g.cfg.Governor
	now := g.now()
	cutoff := now.Add(-decayMinAge)

	rows, err := g.svc.Store().ListOlderThan(
		[]types.Layer{types.LayerInstant, types.LayerShort}, cutoff, gc.DecayScanLimit)
	if err != nil {
		return 0, err
	}

	decayed := 0
	for _, row := range rows {
		ageDays := now.Sub(row.UpdatedAt).Hours() / 24
		factor := math.Pow(0.5, ageDays/gc.DecayHalfLifeDays)
		if factor >= 0.999 {
			continue
		}

		sig := row.Signals
		sig.Importance *= factor
		sig.Confidence *= factor
		sig.Stability *= factor
		sig.Volatility *= factor

		if _, err := g.svc.SetSignals(row.ID, sig); err != nil {
			return decayed, err
		}
		decayed++
	}

	if decayed > 0 {
		_ = g.svc.RecordSystemEvent(types.EventDecay, map[string]any{
			"rows":      decayed,
			"half_life": gc.DecayHalfLifeDays,
		})
	}
	return decayed, nil
}
