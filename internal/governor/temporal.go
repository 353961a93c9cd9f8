package governor

import (
	"time"

	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// LinkTemporalTree derives the time-hierarchy edges for sessions in the
// window: consecutive memories within a day chain with temporal edges, and
// each session's digest (when compression created one) anchors its members
// with distill edges. The tree is edges only; no new rows.
func (g *Governor) LinkTemporalTree(projectID string, windowDays int) (int, error) {
	idx := g.svc.Store()
	now := g.now()
	sessions, err := idx.Sessions(projectID, now.AddDate(0, 0, -windowDays))
	if err != nil {
		return 0, err
	}

	edges := 0
	for _, info := range sessions {
		rows, err := idx.ListBySession(info.ProjectID, info.SessionID)
		if err != nil {
			return edges, err
		}

		// Chain within each UTC day; weight falls with the gap.
		var prevID string
		var prevAt time.Time
		var prevDay string
		var digestID string
		for _, row := range rows {
			for _, t := range row.Tags {
				if t == sessionDigestTag(info.SessionID) {
					digestID = row.ID
				}
			}
			day := row.CreatedAt.UTC().Format("2006-01-02")
			if prevID != "" && day == prevDay {
				gap := row.CreatedAt.Sub(prevAt).Hours()
				weight := 1.0 / (1.0 + gap)
				if weight >= 0.2 {
					if err := idx.UpsertLink(types.Link{
						SrcID: prevID, DstID: row.ID, Weight: weight, Kind: types.LinkTemporal,
					}, now); err == nil {
						edges++
					}
				}
			}
			prevID, prevAt, prevDay = row.ID, row.CreatedAt, day
		}

		if digestID != "" {
			for _, row := range rows {
				if row.ID == digestID {
					continue
				}
				if err := idx.UpsertLink(types.Link{
					SrcID: digestID, DstID: row.ID, Weight: 0.5, Kind: types.LinkDistill,
				}, now); err == nil {
					edges++
				}
			}
		}
	}

	if edges > 0 {
		logging.Governor("temporal tree: %d edges over %d sessions", edges, len(sessions))
	}
	return edges, nil
}
