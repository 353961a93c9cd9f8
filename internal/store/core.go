package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"omnimem/internal/types"
)

// UpsertCoreBlock writes or replaces one persistent top-of-context
// directive.
func (s *Store) UpsertCoreBlock(b types.CoreBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Name == "" {
		return types.NewError(types.ErrInvalidArgument, "core block name must not be empty")
	}
	lines, err := json.Marshal(b.Lines)
	if err != nil {
		return fmt.Errorf("marshal core block lines: %w", err)
	}
	at := b.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO core_blocks (project_id, session_id, name, lines_json, priority, topic, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(project_id, session_id, name) DO UPDATE SET
			lines_json=excluded.lines_json, priority=excluded.priority,
			topic=excluded.topic, updated_at=excluded.updated_at`,
		b.ProjectID, b.SessionID, b.Name, string(lines), b.Priority, b.Topic, formatTime(at))
	if err != nil {
		return fmt.Errorf("upsert core block %s: %w", b.Name, err)
	}
	return nil
}

// GetCoreBlock fetches one directive by its identity.
func (s *Store) GetCoreBlock(projectID, sessionID, name string) (*types.CoreBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT project_id, session_id, name, lines_json, priority, topic, updated_at
		FROM core_blocks WHERE project_id = ? AND session_id = ? AND name = ?`,
		projectID, sessionID, name)
	b, err := scanCoreBlock(row)
	if err == sql.ErrNoRows {
		return nil, notFound("core block", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get core block %s: %w", name, err)
	}
	return b, nil
}

// ListCoreBlocks returns directives for a scope, highest priority first.
// Session-scoped blocks and project-wide blocks (empty session) both apply;
// a limit of zero or less returns all of them.
func (s *Store) ListCoreBlocks(projectID, sessionID string, limit int) ([]types.CoreBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT project_id, session_id, name, lines_json, priority, topic, updated_at
		FROM core_blocks
		WHERE project_id = ? AND (session_id = ? OR session_id = '')
		ORDER BY priority DESC, updated_at DESC`
	args := []any{projectID, sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list core blocks: %w", err)
	}
	defer rows.Close()

	var out []types.CoreBlock
	for rows.Next() {
		b, err := scanCoreBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// DeleteCoreBlock removes one directive.
func (s *Store) DeleteCoreBlock(projectID, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"DELETE FROM core_blocks WHERE project_id = ? AND session_id = ? AND name = ?",
		projectID, sessionID, name)
	if err != nil {
		return fmt.Errorf("delete core block %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("core block", name)
	}
	return nil
}

func scanCoreBlock(sc rowScanner) (*types.CoreBlock, error) {
	var b types.CoreBlock
	var lines, updated string
	if err := sc.Scan(&b.ProjectID, &b.SessionID, &b.Name, &lines, &b.Priority, &b.Topic, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(lines), &b.Lines); err != nil {
		b.Lines = nil
	}
	b.UpdatedAt = parseTime(updated)
	return &b, nil
}
