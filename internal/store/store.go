// Package store maintains the SQLite indexed view of the memory substrate.
//
// The view is mostly derived state: the append-only event log plus the
// markdown tree are the durable truth, and reindex can rebuild the memory,
// event, and link tables from them. Core blocks are the exception: pinned
// directives mutated in place, which a reset must leave standing. The schema
// flattens envelopes into queryable columns, mirrors event metadata for
// tracing, and holds the derived link graph and the FTS5 search table.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// timeFormat is the column encoding for instants. RFC3339Nano in UTC sorts
// lexicographically in chronological order.
const timeFormat = time.RFC3339Nano

// Store is the indexed view over one memory home's SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening indexed view at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL. The
	// event log carries the durability burden anyway.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Schema initialized")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	memoriesTable := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		schema_version TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		layer TEXT NOT NULL,
		kind TEXT NOT NULL,
		summary TEXT NOT NULL,
		body_md_path TEXT NOT NULL,
		tags_json TEXT NOT NULL DEFAULT '[]',
		cred_refs_json TEXT NOT NULL DEFAULT '[]',
		importance_score REAL NOT NULL,
		confidence_score REAL NOT NULL,
		stability_score REAL NOT NULL,
		reuse_count INTEGER NOT NULL DEFAULT 0,
		volatility_score REAL NOT NULL,
		source_tool TEXT NOT NULL DEFAULT '',
		source_account TEXT NOT NULL DEFAULT '',
		source_device TEXT NOT NULL DEFAULT '',
		source_session TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		workspace TEXT NOT NULL DEFAULT '',
		content_sha256 TEXT NOT NULL,
		envelope_version INTEGER NOT NULL,
		bump_window_start TEXT,
		bumps_in_window INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memories_layer ON memories(layer);
	CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
	CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);
	CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(source_session);
	CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at);
	`

	tagsTable := `
	CREATE TABLE IF NOT EXISTS memory_tags (
		memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		PRIMARY KEY (memory_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_tags_tag ON memory_tags(tag);
	`

	refsTable := `
	CREATE TABLE IF NOT EXISTS memory_refs (
		memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		ref_type TEXT NOT NULL,
		target TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (memory_id, ref_type, target)
	);
	CREATE INDEX IF NOT EXISTS idx_refs_target ON memory_refs(target);
	`

	eventsTable := `
	CREATE TABLE IF NOT EXISTS memory_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		event_time TEXT NOT NULL,
		memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_memory ON memory_events(memory_id);
	CREATE INDEX IF NOT EXISTS idx_events_time ON memory_events(event_time);
	`

	linksTable := `
	CREATE TABLE IF NOT EXISTS memory_links (
		src_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		dst_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		weight REAL NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (src_id, dst_id, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_links_src ON memory_links(src_id);
	CREATE INDEX IF NOT EXISTS idx_links_dst ON memory_links(dst_id);
	`

	coreTable := `
	CREATE TABLE IF NOT EXISTS core_blocks (
		project_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		lines_json TEXT NOT NULL DEFAULT '[]',
		priority INTEGER NOT NULL DEFAULT 0,
		topic TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (project_id, session_id, name)
	);
	`

	ftsTable := `
	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		id UNINDEXED,
		summary,
		body_text
	);
	`

	for _, table := range []string{memoriesTable, tagsTable, refsTable, eventsTable, linksTable, coreTable, ftsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Reset wipes the derived tables. Reindex calls this before replaying the
// event log. Core blocks stay: they are pinned directives mutated in place,
// not state the replay can reconstruct.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{
		"DELETE FROM memory_links",
		"DELETE FROM memory_events",
		"DELETE FROM memory_refs",
		"DELETE FROM memory_tags",
		"DELETE FROM memories_fts",
		"DELETE FROM memories",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	logging.Store("Indexed view reset")
	return nil
}

// Stats summarizes the indexed view for the status command.
type Stats struct {
	Memories   int            `json:"memories"`
	ByLayer    map[string]int `json:"by_layer"`
	ByKind     map[string]int `json:"by_kind"`
	Links      int            `json:"links"`
	Events     int            `json:"events"`
	CoreBlocks int            `json:"core_blocks"`
	DBBytes    int64          `json:"db_bytes"`
}

// Stats reports table counts and the database size.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ByLayer: map[string]int{}, ByKind: map[string]int{}}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&st.Memories); err != nil {
		return st, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memory_links").Scan(&st.Links); err != nil {
		return st, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memory_events").Scan(&st.Events); err != nil {
		return st, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM core_blocks").Scan(&st.CoreBlocks); err != nil {
		return st, err
	}

	rows, err := s.db.Query("SELECT layer, COUNT(*) FROM memories GROUP BY layer")
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var layer string
		var n int
		if err := rows.Scan(&layer, &n); err != nil {
			return st, err
		}
		st.ByLayer[layer] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	krows, err := s.db.Query("SELECT kind, COUNT(*) FROM memories GROUP BY kind")
	if err != nil {
		return st, err
	}
	defer krows.Close()
	for krows.Next() {
		var kind string
		var n int
		if err := krows.Scan(&kind, &n); err != nil {
			return st, err
		}
		st.ByKind[kind] = n
	}
	if err := krows.Err(); err != nil {
		return st, err
	}

	if s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			st.DBBytes = fi.Size()
		}
	}
	return st, nil
}

// formatTime encodes an instant for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime decodes a stored instant. Zero time on failure; rows written by
// this package always parse.
func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// notFound builds the uniform missing-row error.
func notFound(what, id string) error {
	return types.NewError(types.ErrNotFound, "%s %s not found", what, id)
}
