package governor

import (
	"omnimem/internal/logging"
)

// Rehearse nudges the reuse count of important but never-reused memories
// so decay cannot erase what governance marked valuable. Bounded by the
// configured batch; the service's per-hour bump cap still applies.
func (g *Governor) Rehearse() (int, error) {
	gc := g.cfg.Governor
	rows, err := g.svc.Store().RehearsalCandidates(
		gc.RehearseImportance, gc.RehearseMaxReuse, gc.RehearseBatch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	bumped, err := g.svc.BumpReuse(ids, 1)
	if err != nil {
		return bumped, err
	}
	logging.Governor("rehearse: bumped %d of %d candidates", bumped, len(rows))
	return bumped, nil
}
