// Package memory is the writer-facing service over the triplicated record
// store: markdown bodies, append-only event log, and the SQLite indexed
// view.
//
// Every mutation follows the same durability order: body file first, event
// line second, indexed row last. A crash between steps leaves the event log
// authoritative; Reindex rebuilds the view from it. Callers see a mutation
// as atomic: any step failing fails the whole call, and nothing earlier in
// the order is rolled back because reindex reconciles it.
package memory

import (
	"fmt"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/envelope"
	"omnimem/internal/eventlog"
	"omnimem/internal/logging"
	"omnimem/internal/mdstore"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// reuseBumpWindow is the rate-limit window for reuse-count increments.
const reuseBumpWindow = time.Hour

// Service coordinates the three projections of the memory substrate.
type Service struct {
	cfg    *config.Config
	paths  config.Paths
	log    *eventlog.Log
	bodies *mdstore.Store
	idx    *store.Store

	// now is swappable for tests.
	now func() time.Time
}

// Open wires the service over one memory home and seeds the reserved system
// memory on first touch.
func Open(cfg *config.Config) (*Service, error) {
	paths := cfg.Paths()
	idx, err := store.Open(paths.IndexPath())
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:    cfg,
		paths:  paths,
		log:    eventlog.Open(paths),
		bodies: mdstore.Open(paths),
		idx:    idx,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.seedSystemMemory(); err != nil {
		idx.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the indexed view.
func (s *Service) Close() error {
	return s.idx.Close()
}

// Store exposes the indexed view for read-mostly collaborators (retrieval,
// governor, weaver). Mutations stay behind the service so the durability
// order holds.
func (s *Service) Store() *store.Store {
	return s.idx
}

// Log exposes the event log for the sync daemon's verify pass.
func (s *Service) Log() *eventlog.Log {
	return s.log
}

// Bodies exposes the markdown tree.
func (s *Service) Bodies() *mdstore.Store {
	return s.bodies
}

// Paths exposes the home layout.
func (s *Service) Paths() config.Paths {
	return s.paths
}

// SetClock overrides the service clock. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// WriteRequest carries the caller-supplied fields for a new memory.
type WriteRequest struct {
	Layer     types.Layer
	Kind      types.Kind
	Summary   string
	Body      string
	Tags      []string
	Refs      []types.Reference
	CredRefs  []string
	Signals   *types.Signals // nil = defaults
	SessionID string
	ProjectID string
	Workspace string
}

// Write persists one new memory through all three projections and returns
// the stored envelope.
func (s *Service) Write(req WriteRequest) (*types.Envelope, error) {
	return s.writeWithID("", req, types.EventWrite)
}

func (s *Service) writeWithID(id string, req WriteRequest, evType types.EventType) (*types.Envelope, error) {
	now := s.now()
	env, canonical, err := envelope.New(id, now, envelope.Params{
		Layer:    req.Layer,
		Kind:     req.Kind,
		Summary:  req.Summary,
		Body:     req.Body,
		Tags:     req.Tags,
		Refs:     req.Refs,
		CredRefs: req.CredRefs,
		Signals:  req.Signals,
		Source: types.Source{
			Tool:      s.cfg.Identity.Tool,
			Account:   s.cfg.Identity.Account,
			Device:    s.cfg.Identity.Device,
			SessionID: req.SessionID,
		},
		Scope: types.Scope{
			ProjectID: req.ProjectID,
			Workspace: req.Workspace,
		},
	})
	if err != nil {
		return nil, err
	}

	rel, err := s.bodies.Write(env.Layer, env.CreatedAt, env.ID, canonical)
	if err != nil {
		return nil, err
	}
	env.BodyMDPath = rel

	ev := eventlog.NewEvent(evType, now, env.ID, types.EventPayload{
		Summary:    env.Summary,
		Layer:      env.Layer,
		Kind:       env.Kind,
		BodyMDPath: env.BodyMDPath,
		Envelope:   env,
	})
	if err := s.log.Append(ev); err != nil {
		return nil, err
	}

	if err := s.idx.Upsert(env, string(canonical)); err != nil {
		return nil, err
	}
	if err := s.idx.InsertEvent(ev); err != nil {
		return nil, err
	}

	logging.Store("wrote %s %s/%s %q", env.ID, env.Layer, env.Kind, env.Summary)
	return env, nil
}

// Get returns one indexed memory row.
func (s *Service) Get(id string) (*store.Row, error) {
	return s.idx.Get(id)
}

// Find runs the scoped full-text search with a substring fallback when FTS
// yields fewer than the configured seed floor.
func (s *Service) Find(query string, f store.Filter, limit int) ([]store.Hit, error) {
	if limit < 1 {
		limit = s.cfg.Retrieval.Limit
	}
	hits, err := s.idx.SearchFTS(query, f, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) >= s.cfg.Retrieval.SeedFloor || len(hits) >= limit {
		return hits, nil
	}

	fallback, err := s.idx.SearchSubstring(query, f, limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		seen[h.Row.ID] = true
	}
	for _, h := range fallback {
		if len(hits) >= limit {
			break
		}
		if !seen[h.Row.ID] {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// SetSignals overwrites a memory's signals, emitting an envelope-bearing
// update event so replay reproduces the change. evType selects the
// governance vocabulary (memory.update, memory.decay, memory.feedback all
// funnel through memory.update plus a trace event from the caller).
func (s *Service) SetSignals(id string, sig types.Signals) (*types.Envelope, error) {
	row, err := s.idx.Get(id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	row.Signals = sig.Clamped()
	row.UpdatedAt = now

	env := row.Envelope
	ev := eventlog.NewEvent(types.EventUpdate, now, id, types.EventPayload{
		Summary:    env.Summary,
		Layer:      env.Layer,
		Kind:       env.Kind,
		BodyMDPath: env.BodyMDPath,
		Envelope:   &env,
	})
	if err := s.log.Append(ev); err != nil {
		return nil, err
	}
	if err := s.idx.Upsert(&env, row.BodyText); err != nil {
		return nil, err
	}
	if err := s.idx.InsertEvent(ev); err != nil {
		return nil, err
	}
	return &env, nil
}

// SetLayer moves a memory to a new retention tier. The body file moves with
// it and a memory.promote event records before and after.
func (s *Service) SetLayer(id string, to types.Layer, reason string) (*types.Envelope, error) {
	if !to.Valid() {
		return nil, types.NewError(types.ErrInvalidArgument, "invalid layer %q", to)
	}
	if id == types.SystemMemoryID {
		return nil, types.NewError(types.ErrInvalidArgument, "the system memory cannot change layer")
	}
	row, err := s.idx.Get(id)
	if err != nil {
		return nil, err
	}
	if row.Layer == to {
		return &row.Envelope, nil
	}

	now := s.now()
	from := row.Layer
	newRel := config.BodyRelPath(to, row.CreatedAt, id)
	if err := s.bodies.Move(row.BodyMDPath, newRel); err != nil {
		return nil, err
	}

	env := row.Envelope
	env.Layer = to
	env.BodyMDPath = newRel
	env.UpdatedAt = now

	ev := eventlog.NewEvent(types.EventPromote, now, id, types.EventPayload{
		Summary:    env.Summary,
		Layer:      env.Layer,
		Kind:       env.Kind,
		BodyMDPath: env.BodyMDPath,
		Envelope:   &env,
		Extra: map[string]any{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		},
	})
	if err := s.log.Append(ev); err != nil {
		return nil, err
	}
	if err := s.idx.Upsert(&env, row.BodyText); err != nil {
		return nil, err
	}
	if err := s.idx.InsertEvent(ev); err != nil {
		return nil, err
	}

	logging.Store("moved %s %s -> %s (%s)", id, from, to, reason)
	return &env, nil
}

// BumpReuse raises reuse counts for retrieved memories, rate-limited per
// memory per hour so retrieval cannot feed the adaptive thresholds into a
// loop. Returns how many bumps were applied.
//
// The rate limiter lives in the indexed row, so the row mutates first; each
// applied bump then emits an envelope-bearing update event so replay
// reproduces the count.
func (s *Service) BumpReuse(ids []string, step int) (int, error) {
	if step <= 0 {
		step = 1
	}
	now := s.now()
	applied := 0
	for _, id := range ids {
		if id == types.SystemMemoryID {
			continue
		}
		ok, err := s.idx.TryBumpReuse(id, step, s.cfg.Retrieval.ReuseBumpCap, reuseBumpWindow, now)
		if err != nil {
			if types.KindOf(err) == types.ErrNotFound {
				continue
			}
			return applied, err
		}
		if !ok {
			continue
		}
		row, err := s.idx.Get(id)
		if err != nil {
			return applied, err
		}
		env := row.Envelope
		ev := eventlog.NewEvent(types.EventUpdate, now, id, types.EventPayload{
			Summary:    env.Summary,
			Layer:      env.Layer,
			Kind:       env.Kind,
			BodyMDPath: env.BodyMDPath,
			Envelope:   &env,
			Extra: map[string]any{
				"action": "reuse-bump",
				"step":   step,
			},
		})
		if err := s.log.Append(ev); err != nil {
			return applied, err
		}
		if err := s.idx.InsertEvent(ev); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// RecordSystemEvent appends a non-envelope event against the reserved
// system memory. Sync cycles, verify passes, and maintenance summaries are
// recorded this way.
func (s *Service) RecordSystemEvent(evType types.EventType, extra map[string]any) error {
	ev := eventlog.NewEvent(evType, s.now(), types.SystemMemoryID, types.EventPayload{Extra: extra})
	if err := s.log.Append(ev); err != nil {
		return err
	}
	return s.idx.InsertEvent(ev)
}

// RecordEvent appends a non-envelope event against one memory.
func (s *Service) RecordEvent(evType types.EventType, memoryID string, extra map[string]any) error {
	ev := eventlog.NewEvent(evType, s.now(), memoryID, types.EventPayload{Extra: extra})
	if err := s.log.Append(ev); err != nil {
		return err
	}
	return s.idx.InsertEvent(ev)
}

// seedSystemMemory creates the reserved archive record on first touch. The
// row anchors system-scoped events and survives every prune.
func (s *Service) seedSystemMemory() error {
	if s.idx.Exists(types.SystemMemoryID) {
		return nil
	}
	_, err := s.writeWithID(types.SystemMemoryID, WriteRequest{
		Layer:   types.LayerArchive,
		Kind:    types.KindSummary,
		Summary: "omnimem system memory",
		Body:    "Reserved record. System-scoped events (sync, verify, maintenance) attach here.",
		Tags:    []string{"system"},
	}, types.EventWrite)
	if err != nil {
		return fmt.Errorf("seed system memory: %w", err)
	}
	logging.Boot("seeded system memory %s", types.SystemMemoryID)
	return nil
}
