package store

import (
	"path/filepath"
	"testing"
	"time"

	"omnimem/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index", "omnimem.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRow(id, summary string, at time.Time) *Row {
	return &Row{
		Envelope: types.Envelope{
			ID: id, SchemaVersion: types.SchemaVersion,
			CreatedAt: at, UpdatedAt: at,
			Layer: types.LayerShort, Kind: types.KindNote,
			Summary: summary,
			Scope:   types.Scope{ProjectID: "proj"},
			Signals: types.DefaultSignals(),
		},
		BodyText: summary + " body",
	}
}

func upsert(t *testing.T, s *Store, r *Row) {
	t.Helper()
	if err := s.Upsert(&r.Envelope, r.BodyText); err != nil {
		t.Fatalf("Upsert %s: %v", r.ID, err)
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := testStore(t)
	at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	row := testRow("mem-aaa", "postgres tuning decision", at)
	row.Tags = []string{"db", "postgres"}
	row.Refs = []types.Reference{{Type: "file", Target: "cfg/pg.conf"}}
	upsert(t, s, row)

	got, err := s.Get("mem-aaa")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Summary != row.Summary || got.Layer != types.LayerShort {
		t.Errorf("got %q/%s, want %q/short", got.Summary, got.Layer, row.Summary)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "db" {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.Refs) != 1 || got.Refs[0].Target != "cfg/pg.conf" {
		t.Errorf("refs = %v", got.Refs)
	}

	// Upsert replaces, not duplicates.
	row.Summary = "updated summary"
	upsert(t, s, row)
	got, _ = s.Get("mem-aaa")
	if got.Summary != "updated summary" {
		t.Errorf("after update summary = %q", got.Summary)
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get("mem-missing")
	if types.KindOf(err) != types.ErrNotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestSearchFTSAndFilter(t *testing.T) {
	s := testStore(t)
	at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	for _, r := range []*Row{
		testRow("mem-001", "postgres connection pooling", at),
		testRow("mem-002", "frontend css grid layout", at.Add(time.Minute)),
	} {
		upsert(t, s, r)
	}
	arch := testRow("mem-003", "postgres legacy notes", at)
	arch.Layer = types.LayerArchive
	upsert(t, s, arch)

	hits, err := s.SearchFTS("postgres", Filter{ProjectID: "proj"}, 10)
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(hits) != 1 || hits[0].Row.ID != "mem-001" {
		t.Fatalf("hits = %+v, want only mem-001 (archive excluded)", hits)
	}
	if hits[0].Score <= 0 {
		t.Errorf("score = %v, want positive", hits[0].Score)
	}

	hits, err = s.SearchFTS("postgres", Filter{ProjectID: "proj", IncludeArchive: true}, 10)
	if err != nil {
		t.Fatalf("SearchFTS archive: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("with archive got %d hits, want 2", len(hits))
	}
}

func TestRetrieveKindExcludedFromSearch(t *testing.T) {
	s := testStore(t)
	at := time.Now().UTC()

	trace := testRow("mem-trace", "retrieved 3 memories for postgres", at)
	trace.Kind = types.KindRetrieve
	trace.Layer = types.LayerInstant
	upsert(t, s, trace)

	hits, err := s.SearchFTS("postgres", Filter{ProjectID: "proj"}, 10)
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("retrieve trace leaked into search: %+v", hits)
	}
	subs, err := s.SearchSubstring("postgres", Filter{ProjectID: "proj"}, 10)
	if err != nil {
		t.Fatalf("SearchSubstring: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("retrieve trace leaked into substring search: %+v", subs)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	s := testStore(t)
	at := time.Now().UTC()
	row := testRow("mem-del", "ephemeral scratch", at)
	row.Tags = []string{"tmp"}
	upsert(t, s, row)
	if err := s.Delete("mem-del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("mem-del") {
		t.Error("row still exists after delete")
	}
	hits, _ := s.SearchFTS("ephemeral", Filter{ProjectID: "proj"}, 10)
	if len(hits) != 0 {
		t.Errorf("FTS still matches deleted row: %+v", hits)
	}
}

func TestTryBumpReuseWindow(t *testing.T) {
	s := testStore(t)
	at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	upsert(t, s, testRow("mem-bump", "bump target", at))

	window := time.Hour
	// Cap of 3 per window: three bumps land, the fourth is refused.
	for i := 0; i < 3; i++ {
		ok, err := s.TryBumpReuse("mem-bump", 1, 3, window, at.Add(time.Duration(i)*time.Minute))
		if err != nil || !ok {
			t.Fatalf("bump %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := s.TryBumpReuse("mem-bump", 1, 3, window, at.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("TryBumpReuse: %v", err)
	}
	if ok {
		t.Error("fourth bump inside the window should be refused")
	}

	// A new window admits bumps again.
	ok, err = s.TryBumpReuse("mem-bump", 1, 3, window, at.Add(2*time.Hour))
	if err != nil || !ok {
		t.Fatalf("bump after window: ok=%v err=%v", ok, err)
	}

	got, _ := s.Get("mem-bump")
	if got.Signals.ReuseCount != 4 {
		t.Errorf("reuse count = %d, want 4", got.Signals.ReuseCount)
	}
}

func TestLinksAndNeighbors(t *testing.T) {
	s := testStore(t)
	at := time.Now().UTC()
	for _, id := range []string{"mem-a", "mem-b", "mem-c"} {
		upsert(t, s, testRow(id, "node "+id, at))
	}
	links := []types.Link{
		{SrcID: "mem-a", DstID: "mem-b", Weight: 0.8, Kind: types.LinkTagCooc},
		{SrcID: "mem-c", DstID: "mem-a", Weight: 0.5, Kind: types.LinkSession},
	}
	for _, l := range links {
		if err := s.UpsertLink(l, at); err != nil {
			t.Fatalf("UpsertLink: %v", err)
		}
	}

	// Traversal is undirected: both edges are visible from mem-a.
	ns, err := s.Neighbors("mem-a", 0, 0)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(ns) != 2 {
		t.Fatalf("neighbors = %+v, want 2", ns)
	}

	// Self links are dropped silently.
	if err := s.UpsertLink(types.Link{SrcID: "mem-a", DstID: "mem-a", Weight: 1, Kind: types.LinkTagCooc}, at); err != nil {
		t.Fatalf("self link: %v", err)
	}
	ns, _ = s.Neighbors("mem-a", 0, 0)
	if len(ns) != 2 {
		t.Errorf("self link persisted: %+v", ns)
	}
}

func TestReplaceLinksPreservesDistill(t *testing.T) {
	s := testStore(t)
	at := time.Now().UTC()
	for _, id := range []string{"mem-a", "mem-b", "mem-d"} {
		upsert(t, s, testRow(id, "node "+id, at))
	}
	must := func(err error) {
		if err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	must(s.UpsertLink(types.Link{SrcID: "mem-a", DstID: "mem-b", Weight: 0.9, Kind: types.LinkTagCooc}, at))
	must(s.UpsertLink(types.Link{SrcID: "mem-a", DstID: "mem-d", Weight: 0.7, Kind: types.LinkDistill}, at))

	must(s.ReplaceLinks("mem-a", []types.Link{
		{SrcID: "mem-a", DstID: "mem-b", Weight: 0.4, Kind: types.LinkLexical},
	}, at))

	ns, err := s.Neighbors("mem-a", 0, 0)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	kinds := map[types.LinkKind]bool{}
	for _, n := range ns {
		kinds[n.Kind] = true
	}
	if !kinds[types.LinkDistill] {
		t.Error("distill edge was lost in replace")
	}
	if !kinds[types.LinkLexical] {
		t.Error("replacement edge missing")
	}
	if kinds[types.LinkTagCooc] {
		t.Error("old derived edge survived replace")
	}
}

func TestCoreBlockCRUD(t *testing.T) {
	s := testStore(t)
	b := types.CoreBlock{
		ProjectID: "proj", Name: "style",
		Lines: []string{"tabs not spaces"}, Priority: 5,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.UpsertCoreBlock(b); err != nil {
		t.Fatalf("UpsertCoreBlock: %v", err)
	}
	sessB := b
	sessB.SessionID = "sess-1"
	sessB.Name = "focus"
	sessB.Priority = 9
	if err := s.UpsertCoreBlock(sessB); err != nil {
		t.Fatalf("UpsertCoreBlock session: %v", err)
	}

	// Session scope sees both; priority first.
	blocks, err := s.ListCoreBlocks("proj", "sess-1", 0)
	if err != nil {
		t.Fatalf("ListCoreBlocks: %v", err)
	}
	if len(blocks) != 2 || blocks[0].Name != "focus" {
		t.Fatalf("blocks = %+v", blocks)
	}

	// Project scope sees only the project-wide block.
	blocks, _ = s.ListCoreBlocks("proj", "", 0)
	if len(blocks) != 1 || blocks[0].Name != "style" {
		t.Fatalf("project blocks = %+v", blocks)
	}

	if err := s.DeleteCoreBlock("proj", "", "style"); err != nil {
		t.Fatalf("DeleteCoreBlock: %v", err)
	}
	if _, err := s.GetCoreBlock("proj", "", "style"); types.KindOf(err) != types.ErrNotFound {
		t.Errorf("deleted block still readable, err = %v", err)
	}
}

func TestStatsCounts(t *testing.T) {
	s := testStore(t)
	at := time.Now().UTC()
	for _, id := range []string{"mem-a", "mem-b"} {
		upsert(t, s, testRow(id, "row "+id, at))
	}
	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Memories != 2 {
		t.Errorf("memories = %d, want 2", stats.Memories)
	}
	if stats.ByLayer["short"] != 2 {
		t.Errorf("by layer = %v", stats.ByLayer)
	}
}
