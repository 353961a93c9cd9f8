package governor

import (
	"strings"
	"testing"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/memory"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

func testGovernor(t *testing.T) (*Governor, *memory.Service) {
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

func writeAt(t *testing.T, svc *memory.Service, at time.Time, req memory.WriteRequest) *types.Envelope {
	t.Helper()
	if req.ProjectID == "" {
		req.ProjectID = "proj"
	}
	svc.SetClock(func() time.Time { return at })
	env, err := svc.Write(req)
	if err != nil {
		t.Fatalf("Write %q: %v", req.Summary, err)
	}
	svc.SetClock(func() time.Time { return time.Now().UTC() })
	return env
}

func TestDecayHalvesAtHalfLife(t *testing.T) {
	g, svc := testGovernor(t)
	now := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	halfLifeAgo := now.AddDate(0, 0, -14)

	env := writeAt(t, svc, halfLifeAgo, memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindNote,
		Summary: "two week old note",
		Signals: &types.Signals{Importance: 0.8, Confidence: 0.8, Stability: 0.8, Volatility: 0.4},
	})
	fresh := writeAt(t, svc, now.Add(-time.Hour), memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindNote, Summary: "fresh note",
	})

	g.SetClock(func() time.Time { return now })
	svc.SetClock(func() time.Time { return now })
	n, err := g.Decay()
	if err != nil {
		t.Fatalf("Decay: %v", err)
	}
	if n != 1 {
		t.Fatalf("decayed = %d, want 1 (fresh row exempt)", n)
	}

	row, err := svc.Get(env.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.Signals.Importance < 0.38 || row.Signals.Importance > 0.42 {
		t.Errorf("importance after one half-life = %v, want ~0.40", row.Signals.Importance)
	}
	if row.Signals.Volatility < 0.18 || row.Signals.Volatility > 0.22 {
		t.Errorf("volatility after one half-life = %v, want ~0.20", row.Signals.Volatility)
	}

	freshRow, _ := svc.Get(fresh.ID)
	if freshRow.Signals.Importance != 0.5 {
		t.Errorf("fresh row decayed: importance %v", freshRow.Signals.Importance)
	}
}

func TestConsolidatePromoteAndDemote(t *testing.T) {
	g, svc := testGovernor(t)
	now := time.Now().UTC()

	strong := writeAt(t, svc, now, memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindDecision,
		Summary: "pin toolchain versions",
		Signals: &types.Signals{
			Importance: 0.9, Confidence: 0.9, Stability: 0.8,
			Volatility: 0.1, ReuseCount: 5,
		},
	})
	shaky := writeAt(t, svc, now, memory.WriteRequest{
		Layer: types.LayerLong, Kind: types.KindNote,
		Summary: "assumption that keeps changing",
		Signals: &types.Signals{
			Importance: 0.4, Confidence: 0.3, Stability: 0.2,
			Volatility: 0.9, ReuseCount: 0,
		},
	})
	middling := writeAt(t, svc, now, memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindNote,
		Summary: "ordinary note",
	})

	promoted, demoted, err := g.Consolidate(MaintainOptions{ProjectID: "proj"})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if promoted != 1 || demoted != 1 {
		t.Fatalf("promoted=%d demoted=%d, want 1/1", promoted, demoted)
	}

	for _, tc := range []struct {
		id   string
		want types.Layer
	}{
		{strong.ID, types.LayerLong},
		{shaky.ID, types.LayerShort},
		{middling.ID, types.LayerShort},
	} {
		row, err := svc.Get(tc.id)
		if err != nil {
			t.Fatalf("Get %s: %v", tc.id, err)
		}
		if row.Layer != tc.want {
			t.Errorf("%s layer = %s, want %s", tc.id, row.Layer, tc.want)
		}
	}
}

func TestQuantileNearestRank(t *testing.T) {
	values := []float64{0.9, 0.1, 0.5, 0.3, 0.7}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 0.1},
		{0.5, 0.5},
		{1, 0.9},
		{0.25, 0.3},
	}
	for _, tt := range tests {
		if got := quantile(values, tt.q); got != tt.want {
			t.Errorf("quantile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}
	if quantile(nil, 0.5) != 0 {
		t.Error("empty quantile should be 0")
	}
}

func TestAdaptiveThresholdsSmallSampleKeepsConfigured(t *testing.T) {
	g, svc := testGovernor(t)
	writeAt(t, svc, time.Now().UTC(), memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindNote, Summary: "lonely sample",
	})

	th, err := g.AdaptiveThresholds("proj", 7)
	if err != nil {
		t.Fatalf("AdaptiveThresholds: %v", err)
	}
	if th != g.configuredThresholds() {
		t.Errorf("small sample should keep configured gates, got %+v", th)
	}
}

func TestAdaptiveThresholdsTrackDistribution(t *testing.T) {
	g, svc := testGovernor(t)
	now := time.Now().UTC()
	// A uniformly high-importance window should raise the promotion floor
	// above the configured 0.65.
	for i := 0; i < 10; i++ {
		writeAt(t, svc, now.Add(-time.Duration(i)*time.Hour), memory.WriteRequest{
			Layer: types.LayerShort, Kind: types.KindNote,
			Summary: "high signal sample",
			Signals: &types.Signals{
				Importance: 0.9, Confidence: 0.9, Stability: 0.9, Volatility: 0.1,
			},
		})
	}

	th, err := g.AdaptiveThresholds("proj", 7)
	if err != nil {
		t.Fatalf("AdaptiveThresholds: %v", err)
	}
	if th.PromoteImportance < 0.85 {
		t.Errorf("promote importance = %v, want tracked up toward 0.9", th.PromoteImportance)
	}
}

func TestCompressSessionsIdempotent(t *testing.T) {
	g, svc := testGovernor(t)
	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		writeAt(t, svc, now.Add(-time.Duration(i)*time.Minute), memory.WriteRequest{
			Layer: types.LayerShort, Kind: types.KindNote,
			Summary:   "session item " + strings.Repeat("x", i+1),
			SessionID: "sess-1",
		})
	}

	created, err := g.CompressSessions("proj")
	if err != nil {
		t.Fatalf("CompressSessions: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	// Second pass sees the digest tag and skips.
	created, err = g.CompressSessions("proj")
	if err != nil {
		t.Fatalf("CompressSessions 2: %v", err)
	}
	if created != 0 {
		t.Errorf("second pass created = %d, want 0", created)
	}
}

func TestDistillSplitsSemanticAndProcedural(t *testing.T) {
	g, svc := testGovernor(t)
	now := time.Now().UTC()
	semantic := []string{
		"decided to keep sqlite as the index",
		"rule: never commit generated files",
		"chose yaml over toml for config",
	}
	procedural := []string{
		"run make lint before pushing",
		"install the proto compiler first",
		"deploy with the canary script",
	}
	for i, s := range append(append([]string{}, semantic...), procedural...) {
		writeAt(t, svc, now.Add(-time.Duration(i)*time.Minute), memory.WriteRequest{
			Layer: types.LayerShort, Kind: types.KindNote,
			Summary: s, SessionID: "sess-2",
		})
	}

	created, err := g.DistillSessions("proj")
	if err != nil {
		t.Fatalf("DistillSessions: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want semantic + procedural digests", created)
	}

	hits, err := svc.Store().SearchSubstring("semantic digest of session",
		store.Filter{ProjectID: "proj"}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("semantic digest hits = %d", len(hits))
	}
	if hits[0].Row.Layer != types.LayerLong {
		t.Errorf("semantic digest layer = %s, want long", hits[0].Row.Layer)
	}

	// Already-distilled sessions are skipped.
	created, err = g.DistillSessions("proj")
	if err != nil {
		t.Fatalf("DistillSessions 2: %v", err)
	}
	if created != 0 {
		t.Errorf("second pass created = %d, want 0", created)
	}
}

func TestRehearseNudgesImportantUnused(t *testing.T) {
	g, svc := testGovernor(t)
	now := time.Now().UTC()
	env := writeAt(t, svc, now, memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindDecision,
		Summary: "important but never recalled",
		Signals: &types.Signals{Importance: 0.9, Confidence: 0.7, Stability: 0.6},
	})
	busy := writeAt(t, svc, now, memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindDecision,
		Summary: "important and well used",
		Signals: &types.Signals{Importance: 0.9, Confidence: 0.7, Stability: 0.6, ReuseCount: 10},
	})

	n, err := g.Rehearse()
	if err != nil {
		t.Fatalf("Rehearse: %v", err)
	}
	if n != 1 {
		t.Fatalf("rehearsed = %d, want 1", n)
	}
	row, _ := svc.Get(env.ID)
	if row.Signals.ReuseCount != 1 {
		t.Errorf("reuse = %d, want nudged to 1", row.Signals.ReuseCount)
	}
	busyRow, _ := svc.Get(busy.ID)
	if busyRow.Signals.ReuseCount != 10 {
		t.Errorf("well-used reuse = %d, want untouched", busyRow.Signals.ReuseCount)
	}
}

func TestMaintainAggregatesCounts(t *testing.T) {
	g, svc := testGovernor(t)
	now := time.Now().UTC()
	writeAt(t, svc, now.AddDate(0, 0, -10), memory.WriteRequest{
		Layer: types.LayerShort, Kind: types.KindNote, Summary: "aging note",
	})

	res := g.Maintain(DefaultMaintainOptions())
	if !res.OK {
		t.Fatalf("maintenance errors: %v", res.Errors)
	}
	if res.Decayed != 1 {
		t.Errorf("decayed = %d, want 1", res.Decayed)
	}
	if res.Took == "" || res.StartedAt.IsZero() {
		t.Errorf("timing missing from result: %+v", res)
	}
}
