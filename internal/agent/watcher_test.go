package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"omnimem/internal/config"
	"omnimem/internal/memory"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

func testWatcher(t *testing.T) (*Watcher, *memory.Service) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Home = t.TempDir()
	svc, err := memory.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return NewWatcher(cfg, svc), svc
}

func transcriptNotes(t *testing.T, svc *memory.Service) []*store.Row {
	t.Helper()
	rows, err := svc.Store().RecentByKind(types.KindNote, store.Filter{ProjectID: "proj"}, 20)
	if err != nil {
		t.Fatalf("RecentByKind: %v", err)
	}
	var out []*store.Row
	for _, r := range rows {
		for _, tag := range r.Tags {
			if tag == "transcript" {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func TestIngestWritesExchangeNotes(t *testing.T) {
	w, svc := testWatcher(t)
	path := filepath.Join(t.TempDir(), "sess-42.jsonl")

	lines := `{"role":"user","text":"why does the weaver skip archive rows?"}
{"role":"assistant","text":"archived memories are outside the working graph"}
{"role":"system","text":"internal bookkeeping"}
not json at all
{"role":"assistant","text":""}
`
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	w.ingest(path, "proj")

	notes := transcriptNotes(t, svc)
	if len(notes) != 2 {
		t.Fatalf("notes = %d, want user+assistant only", len(notes))
	}
	for _, n := range notes {
		if n.Source.SessionID != "watch-sess-42" {
			t.Errorf("session = %s, want watch-sess-42", n.Source.SessionID)
		}
		if n.Layer != types.LayerInstant {
			t.Errorf("layer = %s, transcript notes are instant", n.Layer)
		}
	}
}

func TestIngestResumesFromOffset(t *testing.T) {
	w, svc := testWatcher(t)
	path := filepath.Join(t.TempDir(), "sess-7.jsonl")

	first := `{"role":"user","text":"first question about indexes"}` + "\n"
	if err := os.WriteFile(path, []byte(first), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.ingest(path, "proj")

	// Append one line; re-ingesting must not duplicate the first.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString(`{"role":"assistant","text":"use a covering index"}` + "\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()
	w.ingest(path, "proj")

	if notes := transcriptNotes(t, svc); len(notes) != 2 {
		t.Fatalf("notes = %d, want 2 after tail resume", len(notes))
	}

	// A truncated (rotated) file is re-read from the start, with the line
	// hash set still suppressing repeats.
	if err := os.WriteFile(path, []byte(first), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	w.ingest(path, "proj")
	if notes := transcriptNotes(t, svc); len(notes) != 2 {
		t.Errorf("notes = %d, rotation must not duplicate lines", len(notes))
	}
}

func TestWatcherRunNeedsTranscriptDir(t *testing.T) {
	w, _ := testWatcher(t)
	w.cfg.Watcher.TranscriptDir = ""
	err := w.Run(context.Background(), "proj")
	if types.KindOf(err) != types.ErrInvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}
