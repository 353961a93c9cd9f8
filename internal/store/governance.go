package store

import (
	"fmt"
	"strings"
	"time"

	"omnimem/internal/types"
)

// ListOlderThan returns rows in the given layers whose updated_at precedes
// cutoff, oldest first, capped at limit. Decay passes walk the store through
// this so one pass stays bounded.
func (s *Store) ListOlderThan(layers []types.Layer, cutoff time.Time, limit int) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(layers) == 0 {
		return nil, nil
	}
	marks := make([]string, len(layers))
	args := make([]any, 0, len(layers)+2)
	for i, l := range layers {
		marks[i] = "?"
		args = append(args, string(l))
	}
	args = append(args, formatTime(cutoff), limit)

	rows, err := s.db.Query(`
		SELECT `+rowColumns+` FROM memories m
		WHERE m.layer IN (`+strings.Join(marks, ",")+`) AND m.updated_at < ? AND m.id != 'system000'
		ORDER BY m.updated_at LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list older than: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByLayer returns rows in one layer, newest first.
func (s *Store) ListByLayer(layer types.Layer, limit int) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+rowColumns+` FROM memories m
		WHERE m.layer = ? AND m.id != 'system000'
		ORDER BY m.updated_at DESC LIMIT ?`, string(layer), limit)
	if err != nil {
		return nil, fmt.Errorf("list layer %s: %w", layer, err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionInfo summarizes one writer session's footprint in the store.
type SessionInfo struct {
	SessionID string
	ProjectID string
	Count     int
	LastAt    time.Time
}

// Sessions lists sessions with at least one non-retrieve memory since the
// given instant, most recently active first.
func (s *Store) Sessions(projectID string, since time.Time) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT source_session, project_id, COUNT(*), MAX(updated_at)
		FROM memories
		WHERE source_session != '' AND kind != ? AND updated_at >= ?`
	args := []any{string(types.KindRetrieve), formatTime(since)}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " GROUP BY source_session, project_id ORDER BY MAX(updated_at) DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var last string
		if err := rows.Scan(&info.SessionID, &info.ProjectID, &info.Count, &last); err != nil {
			return nil, err
		}
		info.LastAt = parseTime(last)
		out = append(out, info)
	}
	return out, rows.Err()
}

// ListBySession returns the non-retrieve memories of one session, oldest
// first, the order compression and distillation read them in.
func (s *Store) ListBySession(projectID, sessionID string) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+rowColumns+` FROM memories m
		WHERE m.project_id = ? AND m.source_session = ? AND m.kind != ?
		ORDER BY m.created_at, m.id`,
		projectID, sessionID, string(types.KindRetrieve))
	if err != nil {
		return nil, fmt.Errorf("list session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SignalsSince returns the signal vectors of every non-retrieve memory
// touched since the given instant. Adaptive thresholding computes its
// quantiles over this sample.
func (s *Store) SignalsSince(since time.Time) ([]types.Signals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT importance_score, confidence_score, stability_score, reuse_count, volatility_score
		FROM memories
		WHERE updated_at >= ? AND kind != ? AND id != 'system000'`,
		formatTime(since), string(types.KindRetrieve))
	if err != nil {
		return nil, fmt.Errorf("signals since: %w", err)
	}
	defer rows.Close()

	var out []types.Signals
	for rows.Next() {
		var sig types.Signals
		if err := rows.Scan(&sig.Importance, &sig.Confidence, &sig.Stability, &sig.ReuseCount, &sig.Volatility); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// TagCounts tallies tag frequency over memories updated since the given
// instant. Drift detection compares a recent window against a baseline
// window through this.
func (s *Store) TagCounts(f Filter, since time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := f.clauses()
	args = append(args, formatTime(since))
	rows, err := s.db.Query(`
		SELECT t.tag, COUNT(*)
		FROM memory_tags t JOIN memories m ON m.id = t.memory_id
		WHERE `+where+` AND m.updated_at >= ?
		GROUP BY t.tag`, args...)
	if err != nil {
		return nil, fmt.Errorf("tag counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, err
		}
		out[tag] = n
	}
	return out, rows.Err()
}

// TagSessionStats reports, per tag, how many distinct sessions used it and
// the mean reuse count of the memories carrying it. Reflection looks for
// tags that recur across sessions but are rarely retrieved.
type TagSessionStats struct {
	Tag       string
	Sessions  int
	MeanReuse float64
}

// TagsAcrossSessions returns stats for tags appearing in at least
// minSessions distinct sessions since the given instant.
func (s *Store) TagsAcrossSessions(projectID string, since time.Time, minSessions int) ([]TagSessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT t.tag, COUNT(DISTINCT m.source_session), AVG(m.reuse_count)
		FROM memory_tags t JOIN memories m ON m.id = t.memory_id
		WHERE m.updated_at >= ? AND m.kind != ? AND m.source_session != ''`
	args := []any{formatTime(since), string(types.KindRetrieve)}
	if projectID != "" {
		query += " AND m.project_id = ?"
		args = append(args, projectID)
	}
	query += " GROUP BY t.tag HAVING COUNT(DISTINCT m.source_session) >= ? ORDER BY COUNT(DISTINCT m.source_session) DESC"
	args = append(args, minSessions)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("tags across sessions: %w", err)
	}
	defer rows.Close()

	var out []TagSessionStats
	for rows.Next() {
		var st TagSessionStats
		if err := rows.Scan(&st.Tag, &st.Sessions, &st.MeanReuse); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RehearsalCandidates returns important but rarely-reused memories, most
// important first. Rehearsal nudges their reuse so decay does not erase
// what governance marked as valuable.
func (s *Store) RehearsalCandidates(minImportance float64, maxReuse, limit int) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+rowColumns+` FROM memories m
		WHERE m.importance_score >= ? AND m.reuse_count <= ?
			AND m.kind != ? AND m.id != 'system000' AND m.layer != 'archive'
		ORDER BY m.importance_score DESC, m.updated_at
		LIMIT ?`,
		minImportance, maxReuse, string(types.KindRetrieve), limit)
	if err != nil {
		return nil, fmt.Errorf("rehearsal candidates: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneCandidates returns the lowest-value rows eligible for pruning:
// instant layer first, then by composite signal score ascending. Kinds in
// keep and the system memory never appear.
func (s *Store) PruneCandidates(limit int, keep []types.Kind) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conds := []string{"m.id != 'system000'"}
	var args []any
	for _, k := range keep {
		conds = append(conds, "m.kind != ?")
		args = append(args, string(k))
	}
	args = append(args, limit)

	rows, err := s.db.Query(`
		SELECT `+rowColumns+` FROM memories m
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY
			CASE m.layer WHEN 'instant' THEN 0 WHEN 'short' THEN 1 WHEN 'long' THEN 2 ELSE 3 END,
			(m.importance_score + m.confidence_score + m.stability_score - m.volatility_score),
			m.reuse_count
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("prune candidates: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
