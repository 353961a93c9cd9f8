package store

import (
	"fmt"
	"time"

	"omnimem/internal/types"
)

// InsertEvent mirrors one event-log line into the indexed view for tracing.
// The payload is not duplicated here; the JSONL log keeps it. Duplicate
// event ids are ignored so reindex-over-existing stays idempotent.
func (s *Store) InsertEvent(ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := ""
	if ev.Payload.Envelope != nil {
		sessionID = ev.Payload.Envelope.Source.SessionID
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO memory_events (event_id, event_type, event_time, memory_id, session_id)
		VALUES (?,?,?,?,?)`,
		ev.EventID, string(ev.EventType), formatTime(ev.EventTime), ev.MemoryID, sessionID)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.EventID, err)
	}
	return nil
}

// EventRecord is the indexed trace of one event.
type EventRecord struct {
	EventID   string          `json:"event_id"`
	EventType types.EventType `json:"event_type"`
	EventTime time.Time       `json:"event_time"`
	MemoryID  string          `json:"memory_id"`
	SessionID string          `json:"session_id,omitempty"`
}

// EventsForMemory returns the indexed event trail of one memory, oldest
// first.
func (s *Store) EventsForMemory(id string) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT event_id, event_type, event_time, memory_id, session_id
		FROM memory_events WHERE memory_id = ? ORDER BY event_time, event_id`, id)
	if err != nil {
		return nil, fmt.Errorf("events for %s: %w", id, err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var typ, at string
		if err := rows.Scan(&rec.EventID, &typ, &at, &rec.MemoryID, &rec.SessionID); err != nil {
			return nil, err
		}
		rec.EventType = types.EventType(typ)
		rec.EventTime = parseTime(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountEventsByType tallies the indexed events.
func (s *Store) CountEventsByType() (map[types.EventType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT event_type, COUNT(*) FROM memory_events GROUP BY event_type")
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := map[types.EventType]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[types.EventType(typ)] = n
	}
	return out, rows.Err()
}
