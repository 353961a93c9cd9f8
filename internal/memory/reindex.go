package memory

import (
	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// ReindexReport summarizes one event-log replay.
type ReindexReport struct {
	OK             bool    `json:"ok"`
	Files          int     `json:"files"`
	EventsApplied  int     `json:"events_applied"`
	EventsSkipped  int     `json:"events_skipped"`
	RowsUpserted   int     `json:"rows_upserted"`
	RowsPruned     int     `json:"rows_pruned"`
	BodiesMissing  int     `json:"bodies_missing"`
	Issues         []Issue `json:"issues"`
	ResetPerformed bool    `json:"reset_performed"`
}

// Reindex replays the event log into the indexed view. With reset the view
// is wiped first, making the result exactly the fold of the log; without it
// the replay is an idempotent catch-up over existing rows.
//
// Envelope-bearing events upsert rows. Prune actions recorded in
// memory.consolidate events are re-applied so pruned memories stay pruned
// across rebuilds. Missing body files are tolerated: the row is indexed
// with an empty body and the gap is reported.
func (s *Service) Reindex(reset bool) (ReindexReport, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Reindex")
	defer timer.Stop()

	report := ReindexReport{Issues: []Issue{}, ResetPerformed: reset}

	if reset {
		if err := s.idx.Reset(); err != nil {
			return report, err
		}
	}

	stats, err := s.log.Scan(func(ev types.Event) error {
		report.EventsApplied++

		if ev.EventType.CarriesEnvelope() {
			env := ev.Payload.Envelope
			if env == nil {
				report.EventsSkipped++
				report.EventsApplied--
				return nil
			}
			bodyText := ""
			if body, rerr := s.bodies.Read(env.BodyMDPath); rerr == nil {
				bodyText = string(body)
			} else {
				report.BodiesMissing++
				report.Issues = append(report.Issues, Issue{
					MemoryID: env.ID,
					Kind:     types.ErrNotFound,
					Detail:   "body file " + env.BodyMDPath + " missing during reindex",
				})
			}
			if uerr := s.idx.Upsert(env, bodyText); uerr != nil {
				return uerr
			}
			report.RowsUpserted++
		}

		if ev.EventType == types.EventConsolidate {
			report.RowsPruned += s.applyPruneEvent(ev, &report)
		}

		// Mirror the event for tracing. Events targeting rows that never
		// materialized (or were pruned) are dropped by the foreign key on
		// purpose; the JSONL log keeps them.
		if s.idx.Exists(ev.MemoryID) {
			if ierr := s.idx.InsertEvent(ev); ierr != nil {
				return ierr
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	report.Files = stats.Files
	report.EventsSkipped += stats.Malformed

	// A log that never saw the system memory (fresh home, or a log trimmed
	// by hand) still needs the sentinel.
	if !s.idx.Exists(types.SystemMemoryID) {
		if err := s.seedSystemMemory(); err != nil {
			return report, err
		}
	}

	report.OK = true
	logging.Store("reindex: %d events applied, %d skipped, %d rows, %d bodies missing",
		report.EventsApplied, report.EventsSkipped, report.RowsUpserted, report.BodiesMissing)
	return report, nil
}

// applyPruneEvent re-applies a recorded prune during replay. Returns how
// many rows were removed.
func (s *Service) applyPruneEvent(ev types.Event, report *ReindexReport) int {
	extra := ev.Payload.Extra
	if extra == nil || extra["action"] != "prune" {
		return 0
	}
	rawIDs, ok := extra["ids"].([]any)
	if !ok {
		return 0
	}
	pruned := 0
	for _, raw := range rawIDs {
		id, ok := raw.(string)
		if !ok || id == types.SystemMemoryID {
			continue
		}
		if err := s.idx.Delete(id); err == nil {
			pruned++
		}
	}
	return pruned
}
