package store

import (
	"fmt"
	"strings"
	"time"

	"omnimem/internal/types"
)

// UpsertLink writes one derived edge. Self-links are silently dropped;
// weights are clamped to [0,1].
func (s *Store) UpsertLink(link types.Link, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLinkLocked(link, at)
}

func (s *Store) upsertLinkLocked(link types.Link, at time.Time) error {
	if link.SrcID == link.DstID {
		return nil
	}
	if !link.Kind.Valid() {
		return types.NewError(types.ErrInvalidArgument, "invalid link kind %q", link.Kind)
	}
	w := link.Weight
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO memory_links (src_id, dst_id, kind, weight, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(src_id, dst_id, kind) DO UPDATE SET
			weight=excluded.weight, updated_at=excluded.updated_at`,
		link.SrcID, link.DstID, string(link.Kind), w, formatTime(at))
	if err != nil {
		return fmt.Errorf("upsert link %s->%s: %w", link.SrcID, link.DstID, err)
	}
	return nil
}

// ReplaceLinks swaps the outgoing derived edges of one source in a single
// transaction. Distill and core-block edges are asserted by the governor,
// not recomputed by the weaver, so they survive the swap.
func (s *Store) ReplaceLinks(srcID string, links []types.Link, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace links: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"DELETE FROM memory_links WHERE src_id = ? AND kind NOT IN (?, ?)",
		srcID, string(types.LinkDistill), string(types.LinkCoreBlock))
	if err != nil {
		return fmt.Errorf("clear links for %s: %w", srcID, err)
	}
	for _, link := range links {
		if link.SrcID != srcID || link.SrcID == link.DstID {
			continue
		}
		_, err = tx.Exec(`
			INSERT INTO memory_links (src_id, dst_id, kind, weight, updated_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT(src_id, dst_id, kind) DO UPDATE SET
				weight=excluded.weight, updated_at=excluded.updated_at`,
			link.SrcID, link.DstID, string(link.Kind), link.Weight, formatTime(at))
		if err != nil {
			return fmt.Errorf("insert link %s->%s: %w", link.SrcID, link.DstID, err)
		}
	}
	return tx.Commit()
}

// Neighbor is one edge out of (or into) a memory.
type Neighbor struct {
	ID     string
	Weight float64
	Kind   types.LinkKind
}

// Neighbors returns the ids adjacent to id in either direction with weight
// at or above minWeight, strongest first, capped at limit. Traversal treats
// the derived graph as undirected.
func (s *Store) Neighbors(id string, minWeight float64, limit int) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unbounded
	}
	rows, err := s.db.Query(`
		SELECT dst_id, weight, kind FROM memory_links WHERE src_id = ? AND weight >= ?
		UNION ALL
		SELECT src_id, weight, kind FROM memory_links WHERE dst_id = ? AND weight >= ?
		ORDER BY weight DESC LIMIT ?`,
		id, minWeight, id, minWeight, limit)
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", id, err)
	}
	defer rows.Close()

	var out []Neighbor
	seen := map[string]bool{}
	for rows.Next() {
		var n Neighbor
		var kind string
		if err := rows.Scan(&n.ID, &n.Weight, &kind); err != nil {
			return nil, err
		}
		if seen[n.ID] || n.ID == id {
			continue
		}
		seen[n.ID] = true
		n.Kind = types.LinkKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

// LinksAmong returns every edge whose endpoints are both in ids. The PPR
// ranking runs its power iteration over this induced subgraph.
func (s *Store) LinksAmong(ids []string) ([]types.Link, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	marks := strings.Repeat("?,", len(ids))
	marks = marks[:len(marks)-1]
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.Query(
		"SELECT src_id, dst_id, weight, kind FROM memory_links WHERE src_id IN ("+marks+") AND dst_id IN ("+marks+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("links among: %w", err)
	}
	defer rows.Close()

	var out []types.Link
	for rows.Next() {
		var l types.Link
		var kind string
		if err := rows.Scan(&l.SrcID, &l.DstID, &l.Weight, &kind); err != nil {
			return nil, err
		}
		l.Kind = types.LinkKind(kind)
		out = append(out, l)
	}
	return out, rows.Err()
}

// OutDegree returns the number of outgoing derived edges per source for the
// given sources.
func (s *Store) OutDegree(srcID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM memory_links WHERE src_id = ?", srcID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("out degree of %s: %w", srcID, err)
	}
	return n, nil
}
