package memory

import (
	"fmt"
	"strings"

	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// SetCoreBlock pins or replaces a core directive block for a scope.
func (s *Service) SetCoreBlock(b types.CoreBlock) error {
	if b.ProjectID == "" || b.Name == "" {
		return types.NewError(types.ErrInvalidArgument, "core block needs a project and a name")
	}
	if len(b.Lines) == 0 {
		return types.NewError(types.ErrInvalidArgument, "core block %q has no lines", b.Name)
	}
	b.UpdatedAt = s.now()
	if err := s.idx.UpsertCoreBlock(b); err != nil {
		return err
	}
	logging.Store("core block %s/%s set (%d lines)", b.ProjectID, b.Name, len(b.Lines))
	return nil
}

// CoreBlocks lists the pinned blocks for a scope, priority first.
func (s *Service) CoreBlocks(projectID, sessionID string, limit int) ([]types.CoreBlock, error) {
	return s.idx.ListCoreBlocks(projectID, sessionID, limit)
}

// MergeReport summarizes one core-block merge.
type MergeReport struct {
	Merged      int      `json:"merged"`
	Skipped     int      `json:"skipped"`
	Dropped     int      `json:"dropped"`
	Archived    int      `json:"archived"`
	MergedNames []string `json:"merged_names,omitempty"`
}

// MergeCoreBlocks folds a session's core blocks into the project scope.
// Mode union concatenates lines (project first, deduplicated), priority
// keeps whichever block carries the higher priority, replace always takes
// the session block. Losing blocks follow the configured loser action:
// keep leaves them in place, archive demotes their content into an archive
// note, drop deletes them.
func (s *Service) MergeCoreBlocks(projectID, sessionID string) (*MergeReport, error) {
	if sessionID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "merge needs a session id")
	}
	mc := s.cfg.CoreMerge
	blocks, err := s.idx.ListCoreBlocks(projectID, sessionID, 0)
	if err != nil {
		return nil, err
	}

	report := &MergeReport{}
	for _, b := range blocks {
		if b.SessionID != sessionID {
			continue // project-scoped blocks are the merge targets, not sources
		}
		if b.Priority < mc.MinApplyQuality {
			report.Skipped++
			continue
		}

		target, err := s.idx.GetCoreBlock(projectID, "", b.Name)
		if err != nil && types.KindOf(err) != types.ErrNotFound {
			return report, err
		}

		merged, loser := mergeBlock(target, b, mc.Mode, mc.MaxMergedLines)
		merged.UpdatedAt = s.now()
		if err := s.idx.UpsertCoreBlock(merged); err != nil {
			return report, err
		}
		report.Merged++
		report.MergedNames = append(report.MergedNames, b.Name)

		if err := s.handleLoser(loser, mc.LoserAction, report); err != nil {
			return report, err
		}
		// The session copy has been folded in; remove it so the next merge
		// does not double-apply.
		if err := s.idx.DeleteCoreBlock(projectID, sessionID, b.Name); err != nil {
			return report, err
		}
	}

	logging.Store("core merge %s/%s: %d merged, %d skipped", projectID, sessionID,
		report.Merged, report.Skipped)
	return report, nil
}

// mergeBlock combines the project target and the session source under the
// given mode and returns the merged project block plus the loser, if any.
func mergeBlock(target *types.CoreBlock, src types.CoreBlock, mode string, maxLines int) (types.CoreBlock, *types.CoreBlock) {
	merged := src
	merged.SessionID = ""

	if target == nil {
		merged.Lines = capLines(src.Lines, maxLines)
		return merged, nil
	}

	switch mode {
	case "priority":
		if target.Priority >= src.Priority {
			keep := *target
			keep.Lines = capLines(keep.Lines, maxLines)
			return keep, &src
		}
		merged.Lines = capLines(src.Lines, maxLines)
		loser := *target
		return merged, &loser
	case "replace":
		merged.Lines = capLines(src.Lines, maxLines)
		loser := *target
		return merged, &loser
	default: // union
		seen := map[string]bool{}
		var lines []string
		for _, l := range append(append([]string{}, target.Lines...), src.Lines...) {
			key := strings.TrimSpace(l)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			lines = append(lines, l)
		}
		merged.Lines = capLines(lines, maxLines)
		if merged.Priority < target.Priority {
			merged.Priority = target.Priority
		}
		return merged, nil
	}
}

func capLines(lines []string, max int) []string {
	if max > 0 && len(lines) > max {
		return lines[:max]
	}
	return lines
}

// handleLoser applies the configured loser action to a displaced block.
func (s *Service) handleLoser(loser *types.CoreBlock, action string, report *MergeReport) error {
	if loser == nil || action == "keep" {
		return nil
	}
	if action == "archive" {
		_, err := s.Write(WriteRequest{
			Layer:     types.LayerArchive,
			Kind:      types.KindNote,
			Summary:   fmt.Sprintf("displaced core block %q", loser.Name),
			Body:      strings.Join(loser.Lines, "\n"),
			Tags:      []string{"core-block-archive"},
			SessionID: loser.SessionID,
			ProjectID: loser.ProjectID,
		})
		if err != nil {
			return err
		}
		report.Archived++
	} else {
		report.Dropped++
	}
	return nil
}
