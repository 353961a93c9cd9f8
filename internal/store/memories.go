package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"omnimem/internal/types"
)

// Row is one indexed memory: the flattened envelope plus the indexed copy of
// the body text. BodyText may be empty when the markdown file was missing at
// reindex time; the envelope hash still records what the body should be.
type Row struct {
	types.Envelope
	BodyText string
}

// Upsert writes or replaces the indexed row for env. Tags, refs, and the
// full-text entry are replaced wholesale; the reuse-bump window columns
// survive replacement so rate limiting holds across updates.
func (s *Store) Upsert(env *types.Envelope, bodyText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagsJSON, err := json.Marshal(env.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	credJSON, err := json.Marshal(env.CredRefs)
	if err != nil {
		return fmt.Errorf("marshal cred_refs: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO memories (
			id, schema_version, created_at, updated_at, layer, kind, summary,
			body_md_path, tags_json, cred_refs_json,
			importance_score, confidence_score, stability_score, reuse_count, volatility_score,
			source_tool, source_account, source_device, source_session,
			project_id, workspace, content_sha256, envelope_version
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version=excluded.schema_version,
			created_at=excluded.created_at,
			updated_at=excluded.updated_at,
			layer=excluded.layer,
			kind=excluded.kind,
			summary=excluded.summary,
			body_md_path=excluded.body_md_path,
			tags_json=excluded.tags_json,
			cred_refs_json=excluded.cred_refs_json,
			importance_score=excluded.importance_score,
			confidence_score=excluded.confidence_score,
			stability_score=excluded.stability_score,
			reuse_count=excluded.reuse_count,
			volatility_score=excluded.volatility_score,
			source_tool=excluded.source_tool,
			source_account=excluded.source_account,
			source_device=excluded.source_device,
			source_session=excluded.source_session,
			project_id=excluded.project_id,
			workspace=excluded.workspace,
			content_sha256=excluded.content_sha256,
			envelope_version=excluded.envelope_version`,
		env.ID, env.SchemaVersion, formatTime(env.CreatedAt), formatTime(env.UpdatedAt),
		string(env.Layer), string(env.Kind), env.Summary,
		env.BodyMDPath, string(tagsJSON), string(credJSON),
		env.Signals.Importance, env.Signals.Confidence, env.Signals.Stability,
		env.Signals.ReuseCount, env.Signals.Volatility,
		env.Source.Tool, env.Source.Account, env.Source.Device, env.Source.SessionID,
		env.Scope.ProjectID, env.Scope.Workspace,
		env.Integrity.ContentSHA256, env.Integrity.EnvelopeVersion,
	)
	if err != nil {
		return fmt.Errorf("upsert memory %s: %w", env.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM memory_tags WHERE memory_id = ?", env.ID); err != nil {
		return fmt.Errorf("clear tags for %s: %w", env.ID, err)
	}
	for _, tag := range env.Tags {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO memory_tags (memory_id, tag) VALUES (?, ?)",
			env.ID, tag); err != nil {
			return fmt.Errorf("insert tag for %s: %w", env.ID, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM memory_refs WHERE memory_id = ?", env.ID); err != nil {
		return fmt.Errorf("clear refs for %s: %w", env.ID, err)
	}
	for _, ref := range env.Refs {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO memory_refs (memory_id, ref_type, target, note) VALUES (?,?,?,?)",
			env.ID, ref.Type, ref.Target, ref.Note); err != nil {
			return fmt.Errorf("insert ref for %s: %w", env.ID, err)
		}
	}

	// Delete+insert keeps the FTS entry deterministic; content-sync triggers
	// are more machinery than this single writer needs.
	if _, err := tx.Exec("DELETE FROM memories_fts WHERE id = ?", env.ID); err != nil {
		return fmt.Errorf("clear fts for %s: %w", env.ID, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO memories_fts (id, summary, body_text) VALUES (?,?,?)",
		env.ID, env.Summary, bodyText); err != nil {
		return fmt.Errorf("insert fts for %s: %w", env.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert %s: %w", env.ID, err)
	}
	return nil
}

// rowColumns is the SELECT list scanRow expects, joined with the FTS body.
const rowColumns = `
	m.id, m.schema_version, m.created_at, m.updated_at, m.layer, m.kind,
	m.summary, m.body_md_path, m.tags_json, m.cred_refs_json,
	m.importance_score, m.confidence_score, m.stability_score, m.reuse_count, m.volatility_score,
	m.source_tool, m.source_account, m.source_device, m.source_session,
	m.project_id, m.workspace, m.content_sha256, m.envelope_version,
	COALESCE((SELECT f.body_text FROM memories_fts f WHERE f.id = m.id), '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (*Row, error) {
	var r Row
	var created, updated, layer, kind, tagsJSON, credJSON string
	err := sc.Scan(
		&r.ID, &r.SchemaVersion, &created, &updated, &layer, &kind,
		&r.Summary, &r.BodyMDPath, &tagsJSON, &credJSON,
		&r.Signals.Importance, &r.Signals.Confidence, &r.Signals.Stability,
		&r.Signals.ReuseCount, &r.Signals.Volatility,
		&r.Source.Tool, &r.Source.Account, &r.Source.Device, &r.Source.SessionID,
		&r.Scope.ProjectID, &r.Scope.Workspace,
		&r.Integrity.ContentSHA256, &r.Integrity.EnvelopeVersion,
		&r.BodyText,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	r.Layer = types.Layer(layer)
	r.Kind = types.Kind(kind)
	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		r.Tags = nil
	}
	if err := json.Unmarshal([]byte(credJSON), &r.CredRefs); err != nil {
		r.CredRefs = nil
	}
	return &r, nil
}

// Get returns one memory row by id.
func (s *Store) Get(id string) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	refs, err := s.refsLocked(id)
	if err != nil {
		return nil, err
	}
	row.Refs = refs
	return row, nil
}

func (s *Store) getLocked(id string) (*Row, error) {
	r, err := scanRow(s.db.QueryRow(
		"SELECT "+rowColumns+" FROM memories m WHERE m.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, notFound("memory", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) refsLocked(id string) ([]types.Reference, error) {
	rows, err := s.db.Query(
		"SELECT ref_type, target, note FROM memory_refs WHERE memory_id = ? ORDER BY ref_type, target", id)
	if err != nil {
		return nil, fmt.Errorf("refs for %s: %w", id, err)
	}
	defer rows.Close()
	refs := []types.Reference{}
	for rows.Next() {
		var ref types.Reference
		if err := rows.Scan(&ref.Type, &ref.Target, &ref.Note); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Exists reports whether a memory row is present.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var one int
	err := s.db.QueryRow("SELECT 1 FROM memories WHERE id = ?", id).Scan(&one)
	return err == nil
}

// Delete removes a memory row. Tags, refs, links, and mirrored events follow
// via cascade; the FTS entry is removed explicitly. The event log keeps the
// full history regardless.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM memories_fts WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete fts %s: %w", id, err)
	}
	res, err := tx.Exec("DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("memory", id)
	}
	return tx.Commit()
}

// Each visits every memory row in created_at order. Verify and reindex
// comparisons walk the store through this.
func (s *Store) Each(fn func(*Row) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + rowColumns + " FROM memories m ORDER BY m.created_at, m.id")
	if err != nil {
		return fmt.Errorf("iterate memories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ByIDs fetches rows for the given ids, skipping missing ones, preserving
// the input order.
func (s *Store) ByIDs(ids []string) ([]*Row, error) {
	out := make([]*Row, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(id)
		if err != nil {
			if types.KindOf(err) == types.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// UpdateSignals overwrites the signal columns for one memory and advances
// updated_at.
func (s *Store) UpdateSignals(id string, sig types.Signals, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig = sig.Clamped()
	res, err := s.db.Exec(`
		UPDATE memories SET importance_score=?, confidence_score=?, stability_score=?,
			reuse_count=?, volatility_score=?, updated_at=?
		WHERE id=?`,
		sig.Importance, sig.Confidence, sig.Stability, sig.ReuseCount, sig.Volatility,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update signals %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("memory", id)
	}
	return nil
}

// UpdateLayer moves a memory between retention tiers, recording the new
// body path produced by the markdown-store move.
func (s *Store) UpdateLayer(id string, layer types.Layer, bodyPath string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !layer.Valid() {
		return types.NewError(types.ErrInvalidArgument, "invalid layer %q", layer)
	}
	res, err := s.db.Exec(
		"UPDATE memories SET layer=?, body_md_path=?, updated_at=? WHERE id=?",
		string(layer), bodyPath, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update layer %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("memory", id)
	}
	return nil
}

// TryBumpReuse increments reuse_count by step, rate-limited to cap bumps per
// window per memory. Returns whether the bump was applied. A cap of zero or
// less disables the limit.
func (s *Store) TryBumpReuse(id string, step, maxBumps int, window time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var windowStart sql.NullString
	var bumps int
	err := s.db.QueryRow(
		"SELECT bump_window_start, bumps_in_window FROM memories WHERE id = ?", id).
		Scan(&windowStart, &bumps)
	if err == sql.ErrNoRows {
		return false, notFound("memory", id)
	}
	if err != nil {
		return false, fmt.Errorf("read bump window %s: %w", id, err)
	}

	fresh := true
	if windowStart.Valid {
		if start := parseTime(windowStart.String); !start.IsZero() && now.Sub(start) < window {
			fresh = false
		}
	}
	if fresh {
		bumps = 0
	}
	if maxBumps > 0 && bumps >= maxBumps {
		return false, nil
	}

	start := formatTime(now)
	if !fresh {
		start = windowStart.String
	}
	_, err = s.db.Exec(`
		UPDATE memories SET reuse_count = reuse_count + ?, updated_at = ?,
			bump_window_start = ?, bumps_in_window = ?
		WHERE id = ?`,
		step, formatTime(now), start, bumps+1, id)
	if err != nil {
		return false, fmt.Errorf("bump reuse %s: %w", id, err)
	}
	return true, nil
}
