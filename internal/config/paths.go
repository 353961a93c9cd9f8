package config

import (
	"fmt"
	"path/filepath"
	"time"

	"omnimem/internal/types"
)

// Paths derives every on-disk location inside a memory home. The layout is
// part of the durable contract: event logs and markdown bodies must land
// where other devices expect to find them after a git pull. The three
// storage roots can be relocated through storage.* config keys; everything
// else is fixed relative to the home.
type Paths struct {
	Home string

	markdown string
	jsonl    string
	sqlite   string
}

// NewPaths wraps a resolved home directory with the default storage layout.
func NewPaths(home string) Paths {
	return PathsFor(home, DefaultStorageConfig())
}

// PathsFor wraps a home directory honoring storage overrides. Relative
// override paths are anchored at the home.
func PathsFor(home string, st StorageConfig) Paths {
	def := DefaultStorageConfig()
	return Paths{
		Home:     home,
		markdown: resolveUnder(home, st.Markdown, def.Markdown),
		jsonl:    resolveUnder(home, st.JSONL, def.JSONL),
		sqlite:   resolveUnder(home, st.SQLite, def.SQLite),
	}
}

func resolveUnder(home, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(home, path)
}

// ConfigJSON returns the primary config file path.
func (p Paths) ConfigJSON() string {
	return filepath.Join(p.Home, "omnimem.config.json")
}

// ConfigYAML returns the YAML config fallback path.
func (p Paths) ConfigYAML() string {
	return filepath.Join(p.Home, "omnimem.config.yaml")
}

// EventsDir returns the event log directory.
func (p Paths) EventsDir() string {
	return p.jsonl
}

// EventFile returns the monthly event log file for the given instant (UTC).
func (p Paths) EventFile(t time.Time) string {
	return filepath.Join(p.EventsDir(), fmt.Sprintf("events-%s.jsonl", t.UTC().Format("2006-01")))
}

// MemoryDir returns the markdown body tree root.
func (p Paths) MemoryDir() string {
	return p.markdown
}

// LayerDir returns the root of one retention layer in the body tree.
func (p Paths) LayerDir(layer types.Layer) string {
	return filepath.Join(p.MemoryDir(), string(layer))
}

// BodyPath returns the markdown body location for a memory created at t.
// The relative form of this path is recorded in the envelope.
func (p Paths) BodyPath(layer types.Layer, t time.Time, id string) string {
	return filepath.Join(p.MemoryDir(), BodyRelPath(layer, t, id))
}

// BodyRelPath returns the body path relative to the memory tree root, the
// form stored in envelope body_md_path fields.
func BodyRelPath(layer types.Layer, t time.Time, id string) string {
	u := t.UTC()
	return filepath.Join(string(layer), u.Format("2006"), u.Format("01"), id+".md")
}

// IndexPath returns the SQLite database path. The index is derived state
// and is never synced between devices.
func (p Paths) IndexPath() string {
	return p.sqlite
}

// LogsDir returns the debug log directory.
func (p Paths) LogsDir() string {
	return filepath.Join(p.Home, "logs")
}

// StateDir returns the transient per-process state directory (agent
// session scratch, delta state, daemon bookkeeping). Never synced.
func (p Paths) StateDir() string {
	return filepath.Join(p.Home, "runtime")
}

// RuntimeStatePath returns the agent runtime state file for a session.
func (p Paths) RuntimeStatePath(sessionID string) string {
	return filepath.Join(p.StateDir(), fmt.Sprintf("session-%s.json", sessionID))
}

// SyncStatePath returns the sync daemon status file.
func (p Paths) SyncStatePath() string {
	return filepath.Join(p.StateDir(), "sync-status.json")
}

// DurableDirs lists the directories that hold durable, device-portable
// state. Init creates these; sync stages from them.
func (p Paths) DurableDirs() []string {
	return []string{p.EventsDir(), p.MemoryDir()}
}

// DerivedDirs lists directories holding rebuildable local state.
func (p Paths) DerivedDirs() []string {
	return []string{p.StateDir(), p.LogsDir()}
}
