// Package governor runs the memory lifecycle: decay, consolidation between
// layers, session compression, distillation, temporal linking, rehearsal,
// and reflection.
//
// Every pass is bounded and collects counts into a result struct instead of
// aborting on individual failures. The daemon serializes maintenance runs;
// the governor itself assumes one caller at a time.
package governor

import (
	"time"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/types"
)

// Governor drives lifecycle maintenance over one memory service.
type Governor struct {
	cfg *config.Config
	svc *memory.Service
	now func() time.Time
}

// New builds a governor.
func New(cfg *config.Config, svc *memory.Service) *Governor {
	return &Governor{cfg: cfg, svc: svc, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the governor clock. Tests only.
func (g *Governor) SetClock(now func() time.Time) {
	g.now = now
}

// MaintainOptions selects which passes run and their scope.
type MaintainOptions struct {
	ProjectID string

	Decay       bool
	PruneLimit  int // 0 = no prune
	Consolidate bool
	Compress    bool
	Distill     bool
	Temporal    bool
	Rehearse    bool
	Reflect     bool

	// Adaptive derives promote/demote thresholds from the recent signal
	// distribution instead of the configured constants.
	Adaptive bool
	// WindowDays is the lookback for adaptive thresholds, temporal
	// linking, and reflection (0 = governor config).
	WindowDays int
}

// DefaultMaintainOptions enables the standard nightly passes.
func DefaultMaintainOptions() MaintainOptions {
	return MaintainOptions{
		Decay:       true,
		Consolidate: true,
		Compress:    true,
		Rehearse:    true,
	}
}

// MaintenanceResult aggregates the counts of one full maintenance run.
type MaintenanceResult struct {
	OK        bool      `json:"ok"`
	StartedAt time.Time `json:"started_at"`
	Took      string    `json:"took"`

	Decayed      int `json:"decayed"`
	Pruned       int `json:"pruned"`
	Promoted     int `json:"promoted"`
	Demoted      int `json:"demoted"`
	Compressed   int `json:"compressed"`
	Distilled    int `json:"distilled"`
	TemporalEdge int `json:"temporal_edges"`
	Rehearsed    int `json:"rehearsed"`
	Reflected    int `json:"reflected"`

	Errors []string `json:"errors,omitempty"`
}

// Maintain runs the selected passes in lifecycle order: decay first so
// consolidation sees fresh signals, compression and distillation after so
// digests reflect final layers. Sub-step failures are recorded and the run
// continues.
func (g *Governor) Maintain(opts MaintainOptions) MaintenanceResult {
	timer := logging.StartTimer(logging.CategoryGovernor, "Maintain")
	defer timer.Stop()

	start := g.now()
	res := MaintenanceResult{StartedAt: start}
	fail := func(step string, err error) {
		res.Errors = append(res.Errors, step+": "+err.Error())
		logging.GovernorWarn("%s pass failed: %v", step, err)
	}

	if opts.Decay {
		n, err := g.Decay()
		res.Decayed = n
		if err != nil {
			fail("decay", err)
		}
	}
	if opts.PruneLimit > 0 {
		report, err := g.svc.Prune(opts.PruneLimit, nil)
		res.Pruned = report.Pruned
		if err != nil {
			fail("prune", err)
		}
	}
	if opts.Consolidate {
		promoted, demoted, err := g.Consolidate(opts)
		res.Promoted, res.Demoted = promoted, demoted
		if err != nil {
			fail("consolidate", err)
		}
	}
	if opts.Compress {
		n, err := g.CompressSessions(opts.ProjectID)
		res.Compressed = n
		if err != nil {
			fail("compress", err)
		}
	}
	if opts.Distill {
		n, err := g.DistillSessions(opts.ProjectID)
		res.Distilled = n
		if err != nil {
			fail("distill", err)
		}
	}
	if opts.Temporal {
		n, err := g.LinkTemporalTree(opts.ProjectID, g.windowDays(opts))
		res.TemporalEdge = n
		if err != nil {
			fail("temporal", err)
		}
	}
	if opts.Rehearse {
		n, err := g.Rehearse()
		res.Rehearsed = n
		if err != nil {
			fail("rehearse", err)
		}
	}
	if opts.Reflect {
		n, err := g.Reflect(opts.ProjectID, g.windowDays(opts))
		res.Reflected = n
		if err != nil {
			fail("reflect", err)
		}
	}

	res.Took = g.now().Sub(start).String()
	res.OK = len(res.Errors) == 0

	_ = g.svc.RecordSystemEvent(types.EventConsolidate, map[string]any{
		"action":    "maintenance",
		"decayed":   res.Decayed,
		"pruned":    res.Pruned,
		"promoted":  res.Promoted,
		"demoted":   res.Demoted,
		"compress":  res.Compressed,
		"distill":   res.Distilled,
		"rehearsed": res.Rehearsed,
		"reflected": res.Reflected,
		"errors":    len(res.Errors),
	})

	logging.Governor("maintenance: decay=%d promote=%d demote=%d compress=%d errors=%d",
		res.Decayed, res.Promoted, res.Demoted, res.Compressed, len(res.Errors))
	return res
}

func (g *Governor) windowDays(opts MaintainOptions) int {
	if opts.WindowDays > 0 {
		return opts.WindowDays
	}
	return g.cfg.Governor.TemporalWindowDays
}
