package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnimem/internal/config"
)

// sessionState is the per-(tool, project) scratch carried between turns.
type sessionState struct {
	SessionID          string      `json:"session_id"`
	ProjectID          string      `json:"project_id"`
	Tool               string      `json:"tool"`
	Topic              topicVector `json:"topic_vector"`
	Turns              int         `json:"turns"`
	LastCheckpointTurn int         `json:"last_checkpoint_turn"`
	TransientFailures  int         `json:"transient_failures"`
	LastUtilization    float64     `json:"last_utilization"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

var stateFileRe = regexp.MustCompile(`[^a-z0-9_-]+`)

// statePath is the scratch file for one (tool, project) pair.
func statePath(paths config.Paths, tool, projectID string) string {
	key := stateFileRe.ReplaceAllString(strings.ToLower(tool+"-"+projectID), "_")
	return filepath.Join(paths.StateDir(), "agent", key+".json")
}

// loadState reads the scratch state, starting a fresh session when the
// file is absent or unreadable.
func loadState(paths config.Paths, tool, projectID string, now time.Time) *sessionState {
	st := &sessionState{
		SessionID: newSessionID(),
		ProjectID: projectID,
		Tool:      tool,
		Topic:     topicVector{},
		UpdatedAt: now,
	}
	data, err := os.ReadFile(statePath(paths, tool, projectID))
	if err != nil {
		return st
	}
	var loaded sessionState
	if err := json.Unmarshal(data, &loaded); err != nil || loaded.SessionID == "" {
		return st
	}
	if loaded.Topic == nil {
		loaded.Topic = topicVector{}
	}
	return &loaded
}

// saveState persists the scratch state atomically.
func saveState(paths config.Paths, st *sessionState) error {
	path := statePath(paths, st.Tool, st.ProjectID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create agent state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write agent state: %w", err)
	}
	return os.Rename(tmp, path)
}

// newSessionID mints a session identifier.
func newSessionID() string {
	return "sess-" + uuid.NewString()
}
