package memory

import (
	"fmt"

	"omnimem/internal/envelope"
	"omnimem/internal/logging"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// Issue is one problem found by a verify pass.
type Issue struct {
	MemoryID string          `json:"memory_id,omitempty"`
	Kind     types.ErrorKind `json:"kind"`
	Detail   string          `json:"detail"`
}

// VerifyReport is the outcome of a full integrity pass. Issues accumulate;
// the pass never aborts on the first problem.
type VerifyReport struct {
	OK                bool    `json:"ok"`
	MemoryRowsChecked int     `json:"memory_rows_checked"`
	EventsChecked     int     `json:"events_checked"`
	LogCorruptions    int     `json:"log_corruptions"`
	Issues            []Issue `json:"issues"`
}

// Verify checks every row's body hash against its envelope, rescans stored
// text for secret patterns, traces indexed events back to memory rows, and
// sweeps the event log for undecodable lines. The pass records a
// memory.verify event when it completes.
func (s *Service) Verify() (VerifyReport, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Verify")
	defer timer.Stop()

	report := VerifyReport{Issues: []Issue{}}

	err := s.idx.Each(func(row *store.Row) error {
		report.MemoryRowsChecked++

		body, err := s.bodies.Read(row.BodyMDPath)
		switch {
		case err == nil:
			if verr := envelope.VerifyBody(&row.Envelope, body); verr != nil {
				report.Issues = append(report.Issues, Issue{
					MemoryID: row.ID,
					Kind:     types.ErrIntegrityMismatch,
					Detail:   fmt.Sprintf("body %s hash mismatch", row.BodyMDPath),
				})
			}
		case types.KindOf(err) == types.ErrNotFound:
			report.Issues = append(report.Issues, Issue{
				MemoryID: row.ID,
				Kind:     types.ErrNotFound,
				Detail:   fmt.Sprintf("body file %s missing", row.BodyMDPath),
			})
		default:
			return err
		}

		if hit := envelope.ScanForSecrets(row.Summary); hit != "" {
			report.Issues = append(report.Issues, Issue{
				MemoryID: row.ID,
				Kind:     types.ErrPolicyDenied,
				Detail:   fmt.Sprintf("summary contains a %s", hit),
			})
		}
		if hit := envelope.ScanForSecrets(row.BodyText); hit != "" {
			report.Issues = append(report.Issues, Issue{
				MemoryID: row.ID,
				Kind:     types.ErrPolicyDenied,
				Detail:   fmt.Sprintf("body contains a %s", hit),
			})
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	counts, err := s.idx.CountEventsByType()
	if err != nil {
		return report, err
	}
	for _, n := range counts {
		report.EventsChecked += n
	}

	logReport, lerr := s.log.Verify()
	report.LogCorruptions = len(logReport.Corruptions)
	if lerr != nil && types.KindOf(lerr) != types.ErrLogCorruption {
		return report, lerr
	}
	for _, c := range logReport.Corruptions {
		report.Issues = append(report.Issues, Issue{
			Kind:   types.ErrLogCorruption,
			Detail: fmt.Sprintf("%s line %d undecodable (%d bytes)", c.File, c.Line, c.Size),
		})
	}

	report.OK = len(report.Issues) == 0
	_ = s.RecordSystemEvent(types.EventVerify, map[string]any{
		"rows_checked":   report.MemoryRowsChecked,
		"events_checked": report.EventsChecked,
		"issues":         len(report.Issues),
	})
	return report, nil
}
