package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// Filter scopes a search. An empty field matches everything; retrieval
// traces are always excluded so retrieval cannot feed on its own output.
type Filter struct {
	ProjectID      string
	SessionID      string
	Layers         []types.Layer
	IncludeArchive bool
}

func (f Filter) clauses() (string, []any) {
	var conds []string
	var args []any
	conds = append(conds, "m.kind != ?")
	args = append(args, string(types.KindRetrieve))
	if f.ProjectID != "" {
		conds = append(conds, "m.project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.SessionID != "" {
		conds = append(conds, "m.source_session = ?")
		args = append(args, f.SessionID)
	}
	if len(f.Layers) > 0 {
		marks := make([]string, len(f.Layers))
		for i, l := range f.Layers {
			marks[i] = "?"
			args = append(args, string(l))
		}
		conds = append(conds, "m.layer IN ("+strings.Join(marks, ",")+")")
	} else if !f.IncludeArchive {
		conds = append(conds, "m.layer != ?")
		args = append(args, string(types.LayerArchive))
	}
	return strings.Join(conds, " AND "), args
}

// Hit is one scored search result.
type Hit struct {
	Row   *Row
	Score float64
}

// ftsQuery quotes each query token so user punctuation cannot reach the
// FTS5 query parser. Tokens are OR-joined: any-term match, ranked by bm25.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// SearchFTS runs a BM25-ranked full-text match over summaries and bodies.
// Higher returned scores are better.
func (s *Store) SearchFTS(query string, f Filter, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	where, args := f.clauses()
	sqlArgs := append([]any{match}, args...)
	sqlArgs = append(sqlArgs, limit)

	rows, err := s.db.Query(`
		SELECT `+rowColumns+`, bm25(memories_fts)
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.id
		WHERE memories_fts MATCH ? AND `+where+`
		ORDER BY bm25(memories_fts)
		LIMIT ?`, sqlArgs...)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var r Row
		var created, updated, layer, kind, tagsJSON, credJSON string
		var rank float64
		err := rows.Scan(
			&r.ID, &r.SchemaVersion, &created, &updated, &layer, &kind,
			&r.Summary, &r.BodyMDPath, &tagsJSON, &credJSON,
			&r.Signals.Importance, &r.Signals.Confidence, &r.Signals.Stability,
			&r.Signals.ReuseCount, &r.Signals.Volatility,
			&r.Source.Tool, &r.Source.Account, &r.Source.Device, &r.Source.SessionID,
			&r.Scope.ProjectID, &r.Scope.Workspace,
			&r.Integrity.ContentSHA256, &r.Integrity.EnvelopeVersion,
			&r.BodyText, &rank,
		)
		if err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		r.Layer = types.Layer(layer)
		r.Kind = types.Kind(kind)
		decodeJSONList(tagsJSON, &r.Tags)
		decodeJSONList(credJSON, &r.CredRefs)
		// bm25() reports lower-is-better (negative for matches); flip it.
		hits = append(hits, Hit{Row: &r, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logging.StoreDebug("fts %q -> %d hits", query, len(hits))
	return hits, nil
}

// SearchSubstring is the fallback scan when FTS yields too few seeds: a
// case-insensitive substring match over summary and body, newest first.
func (s *Store) SearchSubstring(query string, f Filter, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := f.clauses()
	needle := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	sqlArgs := append([]any{}, args...)
	sqlArgs = append(sqlArgs, needle, needle, limit)

	rows, err := s.db.Query(`
		SELECT `+rowColumns+`
		FROM memories m
		WHERE `+where+` AND (
			LOWER(m.summary) LIKE ?
			OR LOWER(COALESCE((SELECT f.body_text FROM memories_fts f WHERE f.id = m.id), '')) LIKE ?
		)
		ORDER BY m.updated_at DESC
		LIMIT ?`, sqlArgs...)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Row: r, Score: 0})
	}
	return hits, rows.Err()
}

// Recent returns the newest memories in scope, newest first. Used by the
// composer brief and as the seed of last resort for empty queries.
func (s *Store) Recent(f Filter, limit int) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := f.clauses()
	args = append(args, limit)
	rows, err := s.db.Query(`
		SELECT `+rowColumns+` FROM memories m
		WHERE `+where+`
		ORDER BY m.updated_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
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

// RecentByKind returns the newest memories of one kind in scope.
func (s *Store) RecentByKind(kind types.Kind, f Filter, limit int) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := f.clauses()
	args = append(args, string(kind), limit)
	rows, err := s.db.Query(`
		SELECT `+rowColumns+` FROM memories m
		WHERE `+where+` AND m.kind = ?
		ORDER BY m.updated_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("recent %s memories: %w", kind, err)
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

func decodeJSONList(raw string, dst *[]string) {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		*dst = list
	}
}
