package governor

import (
	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// consolidateScanLimit bounds rows examined per layer per pass.
const consolidateScanLimit = 400

// Consolidate runs one promote/demote pass. Promotion climbs one layer at
// a time when every signal gate clears; demotion drops one layer when
// volatility has taken over. Each move is a memory.promote event with
// before and after layers.
func (g *Governor) Consolidate(opts MaintainOptions) (promoted, demoted int, err error) {
	th := g.configuredThresholds()
	if opts.Adaptive {
		if adaptive, aerr := g.AdaptiveThresholds(opts.ProjectID, g.windowDays(opts)); aerr == nil {
			th = adaptive
		} else {
			logging.GovernorWarn("adaptive thresholds unavailable, using configured: %v", aerr)
		}
	}

	idx := g.svc.Store()
	for _, layer := range []types.Layer{types.LayerInstant, types.LayerShort, types.LayerLong} {
		rows, lerr := idx.ListByLayer(layer, consolidateScanLimit)
		if lerr != nil {
			return promoted, demoted, lerr
		}
		for _, row := range rows {
			if row.Kind == types.KindRetrieve {
				continue
			}
			if opts.ProjectID != "" && row.Scope.ProjectID != opts.ProjectID {
				continue
			}
			sig := row.Signals

			if target := promotionTarget(row.Layer); target != "" &&
				sig.Importance >= th.PromoteImportance &&
				sig.Confidence >= th.PromoteConfidence &&
				sig.Stability >= th.PromoteStability &&
				sig.Volatility <= th.PromoteMaxVolatility &&
				sig.ReuseCount >= th.PromoteMinReuse {
				if _, serr := g.svc.SetLayer(row.ID, target, "consolidate:promote"); serr != nil {
					return promoted, demoted, serr
				}
				promoted++
				continue
			}

			if target := demotionTarget(row.Layer); target != "" &&
				sig.Volatility >= th.DemoteVolatility &&
				sig.Stability <= th.DemoteStability &&
				sig.ReuseCount <= th.DemoteMaxReuse {
				if _, serr := g.svc.SetLayer(row.ID, target, "consolidate:demote"); serr != nil {
					return promoted, demoted, serr
				}
				demoted++
			}
		}
	}

	logging.Governor("consolidate: %d promoted, %d demoted", promoted, demoted)
	return promoted, demoted, nil
}
