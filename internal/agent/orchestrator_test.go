package agent

import (
	"context"
	"testing"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/memory"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *memory.Service) {
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

func dryTurn(t *testing.T, o *Orchestrator, prompt string) *TurnResult {
	t.Helper()
	res, err := o.Turn(context.Background(), TurnRequest{
		Tool: "claude", ProjectID: "proj", Prompt: prompt, DryRun: true,
	})
	if err != nil {
		t.Fatalf("Turn %q: %v", prompt, err)
	}
	return res
}

func TestTurnRejectsEmptyPrompt(t *testing.T) {
	o, _ := testOrchestrator(t)
	_, err := o.Turn(context.Background(), TurnRequest{Tool: "claude", ProjectID: "proj", Prompt: "  "})
	if types.KindOf(err) != types.ErrInvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestTurnDriftRotatesCheckpoint(t *testing.T) {
	o, svc := testOrchestrator(t)

	first := dryTurn(t, o, "postgres connection pooling tuning")
	if first.Drift != 0 {
		t.Errorf("first turn drift = %v, the opening turn sets the topic", first.Drift)
	}
	if first.Turn != 1 || first.Checkpointed {
		t.Errorf("first turn = %+v", first)
	}

	second := dryTurn(t, o, "postgres connection pooling tuning")
	if second.Drift > 0.01 {
		t.Errorf("same-topic drift = %v, want ~0", second.Drift)
	}
	if second.Checkpointed {
		t.Error("no checkpoint without a topic shift")
	}
	if second.SessionID != first.SessionID {
		t.Error("session should persist across related turns")
	}

	third := dryTurn(t, o, "react css grid animation styling")
	if third.Drift < o.cfg.Agent.DriftThreshold {
		t.Fatalf("disjoint-topic drift = %v, want >= %v", third.Drift, o.cfg.Agent.DriftThreshold)
	}
	if !third.Checkpointed {
		t.Fatal("hard drift past the minimum gap should checkpoint")
	}
	if third.NewSessionID == "" || third.NewSessionID == third.SessionID {
		t.Errorf("rotation ids = %q -> %q", third.SessionID, third.NewSessionID)
	}

	rows, err := svc.Store().RecentByKind(types.KindCheckpoint, store.Filter{ProjectID: "proj"}, 5)
	if err != nil {
		t.Fatalf("RecentByKind: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("checkpoints = %d, want 1", len(rows))
	}

	// The next turn runs inside the rotated session, whose topic was
	// reseeded from the prompt that caused the shift.
	fourth := dryTurn(t, o, "react css grid animation styling")
	if fourth.SessionID != third.NewSessionID {
		t.Errorf("session = %s, want rotated %s", fourth.SessionID, third.NewSessionID)
	}
	if fourth.Turn != 1 || fourth.Drift > 0.01 {
		t.Errorf("rotated session turn = %d drift = %v, want 1/~0", fourth.Turn, fourth.Drift)
	}
}

func TestTurnCountGateCheckpoints(t *testing.T) {
	o, _ := testOrchestrator(t)
	o.cfg.Agent.DriftThreshold = 2 // unreachable, isolate the turn gate
	o.cfg.Agent.CheckpointEvery = 2

	dryTurn(t, o, "kafka consumer group rebalancing")
	second := dryTurn(t, o, "kafka consumer group rebalancing")
	if !second.Checkpointed {
		t.Error("turn-count gate should checkpoint on the configured cadence")
	}
}

func TestTurnWritesAnswerByDurability(t *testing.T) {
	o, svc := testOrchestrator(t)
	o.tools.sleep = func(time.Duration) {}

	o.tools.run = func(ctx context.Context, name string, args ...string) (string, error) {
		return "Decision: always route writes through pgbouncer.", nil
	}
	res, err := o.Turn(context.Background(), TurnRequest{
		Tool: "claude", ProjectID: "proj", Prompt: "how should we pool postgres connections?",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.AnswerMemoryID == "" {
		t.Fatal("answer memory not written")
	}
	if res.AnswerLayer != types.LayerLong {
		t.Errorf("durable wording layer = %s, want long", res.AnswerLayer)
	}
	env, err := svc.Get(res.AnswerMemoryID)
	if err != nil {
		t.Fatalf("Get answer: %v", err)
	}
	if env.Kind != types.KindSummary {
		t.Errorf("answer kind = %s, want summary", env.Kind)
	}

	o.tools.run = func(ctx context.Context, name string, args ...string) (string, error) {
		return "it depends on the workload, try both", nil
	}
	res, err = o.Turn(context.Background(), TurnRequest{
		Tool: "claude", ProjectID: "proj", Prompt: "is statement pooling safe here?",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.AnswerLayer != types.LayerShort {
		t.Errorf("tentative wording layer = %s, want short", res.AnswerLayer)
	}
}

func TestTurnTransientFailureCountsInState(t *testing.T) {
	o, _ := testOrchestrator(t)
	o.tools.sleep = func(time.Duration) {}
	o.tools.run = func(ctx context.Context, name string, args ...string) (string, error) {
		return "", types.NewError(types.ErrTransientExternal, "503 service temporarily unavailable")
	}

	_, err := o.Turn(context.Background(), TurnRequest{
		Tool: "claude", ProjectID: "proj", Prompt: "anything",
	})
	if types.KindOf(err) != types.ErrTransientExternal {
		t.Fatalf("err = %v, want TransientExternal", err)
	}

	st := loadState(o.paths, "claude", "proj", o.now())
	if st.TransientFailures != 1 {
		t.Errorf("transient failures = %d, want 1 persisted for the next plan", st.TransientFailures)
	}
}

func TestStateRoundTrip(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	st := loadState(paths, "claude", "proj", now)
	if st.SessionID == "" {
		t.Fatal("fresh state needs a session id")
	}
	st.Turns = 4
	st.Topic = topicVector{"postgres": 0.5}
	if err := saveState(paths, st); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	again := loadState(paths, "claude", "proj", now)
	if again.SessionID != st.SessionID || again.Turns != 4 {
		t.Errorf("reloaded = %+v, want persisted state", again)
	}
	if again.Topic["postgres"] != 0.5 {
		t.Errorf("topic = %v", again.Topic)
	}

	// A different tool/project pair gets its own scratch file.
	other := loadState(paths, "codex", "proj", now)
	if other.SessionID == st.SessionID {
		t.Error("state leaked across tool scopes")
	}
}
