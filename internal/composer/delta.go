package composer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// deltaEntry records when a memory was last shown to a caller.
type deltaEntry struct {
	UpdatedAt string `json:"updated_at"`
	SeenAt    string `json:"seen_at"`
}

// deltaState is the per-caller seen map persisted between turns. A memory
// counts as seen only at the exact updated_at it was shown with; a
// governance update makes it new again.
type deltaState map[string]deltaEntry

var stateKeyRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// deltaStatePath maps a caller identity to its state file.
func (c *Composer) deltaStatePath(stateKey string) string {
	safe := stateKeyRe.ReplaceAllString(stateKey, "_")
	if safe == "" {
		safe = "default"
	}
	return filepath.Join(c.paths.StateDir(), "delta-"+safe+".json")
}

// loadDelta reads the seen map for a caller. Missing or damaged files are
// an empty map; delta state is advisory.
func (c *Composer) loadDelta(stateKey string) deltaState {
	data, err := os.ReadFile(c.deltaStatePath(stateKey))
	if err != nil {
		return deltaState{}
	}
	var st deltaState
	if err := json.Unmarshal(data, &st); err != nil {
		return deltaState{}
	}
	return st
}

// saveDelta persists the seen map, trimmed to the configured entry bound by
// seen-time recency.
func (c *Composer) saveDelta(stateKey string, st deltaState, now time.Time) error {
	max := c.cfg.Composer.DeltaStateMaxEntries
	if max > 0 && len(st) > max {
		type keyed struct {
			id   string
			seen string
		}
		entries := make([]keyed, 0, len(st))
		for id, e := range st {
			entries = append(entries, keyed{id, e.SeenAt})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].seen > entries[j].seen })
		trimmed := make(deltaState, max)
		for _, e := range entries[:max] {
			trimmed[e.id] = st[e.id]
		}
		st = trimmed
	}

	path := c.deltaStatePath(stateKey)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal delta state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write delta state: %w", err)
	}
	return os.Rename(tmp, path)
}

// markSeen records that a memory was shown at its current updated_at.
func (st deltaState) markSeen(id string, updatedAt, now time.Time) {
	st[id] = deltaEntry{
		UpdatedAt: updatedAt.UTC().Format(time.RFC3339),
		SeenAt:    now.UTC().Format(time.RFC3339),
	}
}

// isSeen reports whether the memory was already shown at this updated_at.
func (st deltaState) isSeen(id string, updatedAt time.Time) bool {
	e, ok := st[id]
	return ok && e.UpdatedAt == updatedAt.UTC().Format(time.RFC3339)
}
