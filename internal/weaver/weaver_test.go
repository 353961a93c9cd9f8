package weaver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"

	"omnimem/internal/config"
	"omnimem/internal/memory"
	"omnimem/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testWeaver(t *testing.T) (*Weaver, *memory.Service) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Home = t.TempDir()
	svc, err := memory.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return New(cfg, svc), svc
}

func sessionWrite(t *testing.T, svc *memory.Service, at time.Time, summary, session string, tags []string) *types.Envelope {
	t.Helper()
	svc.SetClock(func() time.Time { return at })
	env, err := svc.Write(memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindNote,
		Summary: summary, Tags: tags,
		SessionID: session, ProjectID: "proj",
	})
	if err != nil {
		t.Fatalf("Write %q: %v", summary, err)
	}
	return env
}

func TestWeaveLinksRelatedMemories(t *testing.T) {
	w, svc := testWeaver(t)
	at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	a := sessionWrite(t, svc, at, "postgres pool exhaustion fix", "sess-1", []string{"db", "postgres"})
	b := sessionWrite(t, svc, at.Add(20*time.Minute), "postgres pool sizing numbers", "sess-1", []string{"db", "postgres"})
	far := sessionWrite(t, svc, at.AddDate(0, 0, -30), "css layout experiment", "sess-9", []string{"frontend"})

	report, err := w.Weave(context.Background(), "proj")
	if err != nil {
		t.Fatalf("Weave: %v", err)
	}
	if report.Sources != 3 {
		t.Fatalf("sources = %d, want 3 (system memory excluded)", report.Sources)
	}
	if report.TimedOut {
		t.Error("pass timed out under test load")
	}
	if report.Committed == 0 {
		t.Fatal("no links committed")
	}

	ns, err := svc.Store().Neighbors(a.ID, 0, 0)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	found := map[string]bool{}
	for _, n := range ns {
		found[n.ID] = true
		if n.Weight < w.cfg.Weaver.CommitMinWeight {
			t.Errorf("committed link below floor: %+v", n)
		}
	}
	if !found[b.ID] {
		t.Errorf("strongly related memory %s not linked to %s", b.ID, a.ID)
	}
	if found[far.ID] {
		t.Errorf("unrelated distant memory %s linked to %s", far.ID, a.ID)
	}
}

func TestWeaveRespectsLinkCap(t *testing.T) {
	w, svc := testWeaver(t)
	w.cfg.Weaver.MaxLinksPerSource = 3
	at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	var first *types.Envelope
	for i := 0; i < 8; i++ {
		env := sessionWrite(t, svc, at.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("kafka consumer lag note %d", i), "sess-1", []string{"kafka", "infra"})
		if i == 0 {
			first = env
		}
	}

	if _, err := w.Weave(context.Background(), "proj"); err != nil {
		t.Fatalf("Weave: %v", err)
	}
	n, err := svc.Store().OutDegree(first.ID)
	if err != nil {
		t.Fatalf("OutDegree: %v", err)
	}
	if n > 3 {
		t.Errorf("out degree = %d, want capped at 3", n)
	}
}

func TestWeaveSkipsSinglesAndArchive(t *testing.T) {
	w, svc := testWeaver(t)
	at := time.Now().UTC()
	sessionWrite(t, svc, at, "only live memory", "sess-1", nil)
	svc.SetClock(func() time.Time { return at })
	if _, err := svc.Write(memory.WriteRequest{
		Layer: types.LayerArchive, Kind: types.KindNote,
		Summary: "archived twin of the live memory", ProjectID: "proj",
	}); err != nil {
		t.Fatalf("Write archive: %v", err)
	}

	report, err := w.Weave(context.Background(), "proj")
	if err != nil {
		t.Fatalf("Weave: %v", err)
	}
	if report.Sources != 1 {
		t.Errorf("sources = %d, want 1 (archive excluded)", report.Sources)
	}
	if report.Committed != 0 {
		t.Errorf("committed = %d, want 0 for a single-node graph", report.Committed)
	}
}

func TestAffinityComponents(t *testing.T) {
	w, _ := testWeaver(t)
	at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	base := &node{
		id: "a", sessionID: "sess-1", createdAt: at,
		tags:   []string{"db", "postgres"},
		tokens: map[string]bool{"postgres": true, "pool": true},
	}

	t.Run("identical twin scores near one", func(t *testing.T) {
		twin := *base
		twin.id = "b"
		weight, _ := w.affinity(base, &twin)
		if weight < 0.95 {
			t.Errorf("twin affinity = %v, want near 1", weight)
		}
	})

	t.Run("session dominance labels the edge", func(t *testing.T) {
		other := &node{
			id: "c", sessionID: "sess-1", createdAt: at.AddDate(0, 0, -10),
			tags:   []string{"frontend"},
			tokens: map[string]bool{"css": true},
		}
		weight, kind := w.affinity(base, other)
		if kind != types.LinkSession {
			t.Errorf("kind = %s, want session", kind)
		}
		if weight < 0.2 || weight > 0.35 {
			t.Errorf("session-only affinity = %v, want ~0.25", weight)
		}
	})

	t.Run("temporal gap outside cap scores zero", func(t *testing.T) {
		stranger := &node{
			id: "d", createdAt: at.AddDate(0, 0, -10),
			tags:   []string{"frontend"},
			tokens: map[string]bool{"css": true},
		}
		weight, _ := w.affinity(base, stranger)
		if weight != 0 {
			t.Errorf("disjoint affinity = %v, want 0", weight)
		}
	})
}
