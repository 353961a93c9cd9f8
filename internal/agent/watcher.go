package agent

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/types"
)

// Watcher tails external tool session transcripts and writes best-effort
// instant notes from new user/assistant exchanges. Nothing it does is
// fatal; a broken transcript line is skipped, a failed write is logged.
type Watcher struct {
	cfg *config.Config
	svc *memory.Service

	mu      sync.Mutex
	offsets map[string]int64
	seen    map[string]map[string]bool // file -> line hash set
}

// NewWatcher wires a transcript watcher over an open memory service.
func NewWatcher(cfg *config.Config, svc *memory.Service) *Watcher {
	return &Watcher{
		cfg:     cfg,
		svc:     svc,
		offsets: map[string]int64{},
		seen:    map[string]map[string]bool{},
	}
}

// transcriptLine is the subset of a tool transcript entry the watcher
// understands.
type transcriptLine struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Run watches the configured transcript directory until the context is
// cancelled. Write events are debounced per file before re-reading.
func (w *Watcher) Run(ctx context.Context, projectID string) error {
	dir := w.cfg.Watcher.TranscriptDir
	if dir == "" {
		return types.NewError(types.ErrInvalidArgument, "watcher.transcript_dir not configured").
			WithRemediation("set watcher.transcript_dir to the tool session directory")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logging.Watcher("watching %s", dir)

	debounce := w.cfg.Watcher.GetDebounce()
	pending := map[string]*time.Timer{}
	var pmu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			pmu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			pmu.Unlock()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".jsonl") {
				continue
			}
			path := ev.Name
			pmu.Lock()
			if t, exists := pending[path]; exists {
				t.Reset(debounce)
			} else {
				pending[path] = time.AfterFunc(debounce, func() {
					pmu.Lock()
					delete(pending, path)
					pmu.Unlock()
					w.ingest(path, projectID)
				})
			}
			pmu.Unlock()
		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Watcher("fs watcher error: %v", werr)
		}
	}
}

// ingest tails new lines of one transcript and writes note memories.
func (w *Watcher) ingest(path, projectID string) {
	w.mu.Lock()
	offset := w.offsets[path]
	w.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		logging.Watcher("open %s: %v", path, err)
		return
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() < offset {
		offset = 0 // truncated or rotated
	}
	if _, err := f.Seek(offset, 0); err != nil {
		logging.Watcher("seek %s: %v", path, err)
		return
	}

	sessionID := "watch-" + strings.TrimSuffix(filepath.Base(path), ".jsonl")
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	read := offset
	for scanner.Scan() {
		line := scanner.Bytes()
		read += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}
		if w.alreadySeen(path, line) {
			continue
		}
		var entry transcriptLine
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Text == "" || (entry.Role != "user" && entry.Role != "assistant") {
			continue
		}
		w.writeNote(entry, sessionID, projectID)
	}
	if err := scanner.Err(); err != nil {
		logging.Watcher("read %s: %v", path, err)
	}

	w.mu.Lock()
	w.offsets[path] = read
	w.mu.Unlock()
}

// alreadySeen dedups transcript lines by hash per file.
func (w *Watcher) alreadySeen(path string, line []byte) bool {
	sum := sha256.Sum256(line)
	key := hex.EncodeToString(sum[:8])
	w.mu.Lock()
	defer w.mu.Unlock()
	set, ok := w.seen[path]
	if !ok {
		set = map[string]bool{}
		w.seen[path] = set
	}
	if set[key] {
		return true
	}
	set[key] = true
	return false
}

// writeNote stores one transcript exchange as an instant note.
func (w *Watcher) writeNote(entry transcriptLine, sessionID, projectID string) {
	_, err := w.svc.Write(memory.WriteRequest{
		Layer:     types.LayerInstant,
		Kind:      types.KindNote,
		Summary:   truncateSummary(entry.Role+": "+entry.Text, 140),
		Body:      entry.Text,
		Tags:      []string{"transcript", "role-" + entry.Role},
		SessionID: sessionID,
		ProjectID: projectID,
	})
	if err != nil {
		logging.Watcher("note write failed: %v", err)
	}
}
