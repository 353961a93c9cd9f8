package memory

import (
	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// DefaultKeepKinds are never pruned unless the caller overrides the list.
// Decisions and summaries are the distilled value of everything else.
var DefaultKeepKinds = []types.Kind{types.KindDecision, types.KindSummary, types.KindCheckpoint}

// PruneReport summarizes one administrative prune.
type PruneReport struct {
	OK            bool     `json:"ok"`
	Examined      int      `json:"examined"`
	Pruned        int      `json:"pruned"`
	PrunedIDs     []string `json:"pruned_ids"`
	BodiesRemoved int      `json:"bodies_removed"`
}

// Prune removes up to limit of the lowest-value rows, skipping the keep
// kinds and the system memory. The removal is recorded as a
// memory.consolidate event carrying the pruned ids, so reindex re-applies
// it instead of resurrecting the rows.
func (s *Service) Prune(limit int, keep []types.Kind) (PruneReport, error) {
	report := PruneReport{PrunedIDs: []string{}}
	if limit < 1 {
		report.OK = true
		return report, nil
	}
	if keep == nil {
		keep = DefaultKeepKinds
	}

	candidates, err := s.idx.PruneCandidates(limit, keep)
	if err != nil {
		return report, err
	}
	report.Examined = len(candidates)

	ids := make([]any, 0, len(candidates))
	for _, row := range candidates {
		if err := s.bodies.Remove(row.BodyMDPath); err == nil {
			report.BodiesRemoved++
		}
		if err := s.idx.Delete(row.ID); err != nil {
			if types.KindOf(err) == types.ErrNotFound {
				continue
			}
			return report, err
		}
		report.Pruned++
		report.PrunedIDs = append(report.PrunedIDs, row.ID)
		ids = append(ids, row.ID)
	}

	if report.Pruned > 0 {
		if err := s.RecordSystemEvent(types.EventConsolidate, map[string]any{
			"action": "prune",
			"ids":    ids,
			"count":  report.Pruned,
		}); err != nil {
			return report, err
		}
	}

	report.OK = true
	logging.Governor("prune: removed %d of %d candidates", report.Pruned, report.Examined)
	return report, nil
}
