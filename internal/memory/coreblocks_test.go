package memory

import (
	"testing"

	"omnimem/internal/store"
	"omnimem/internal/types"
)

func setBlock(t *testing.T, svc *Service, b types.CoreBlock) {
	t.Helper()
	if b.ProjectID == "" {
		b.ProjectID = "proj"
	}
	if err := svc.SetCoreBlock(b); err != nil {
		t.Fatalf("SetCoreBlock %s: %v", b.Name, err)
	}
}

func TestSetCoreBlockValidates(t *testing.T) {
	svc := testService(t)
	err := svc.SetCoreBlock(types.CoreBlock{ProjectID: "proj", Name: "style"})
	if types.KindOf(err) != types.ErrInvalidArgument {
		t.Errorf("empty lines err = %v, want InvalidArgument", err)
	}
	err = svc.SetCoreBlock(types.CoreBlock{Name: "style", Lines: []string{"x"}})
	if types.KindOf(err) != types.ErrInvalidArgument {
		t.Errorf("missing project err = %v, want InvalidArgument", err)
	}
}

func TestMergeCoreBlocksUnion(t *testing.T) {
	svc := testService(t)

	setBlock(t, svc, types.CoreBlock{
		Name: "style", Lines: []string{"tabs not spaces", "wrap at 100"}, Priority: 3,
	})
	setBlock(t, svc, types.CoreBlock{
		Name: "style", SessionID: "sess-1",
		Lines: []string{"wrap at 100", "prefer table tests"}, Priority: 5,
	})

	report, err := svc.MergeCoreBlocks("proj", "sess-1")
	if err != nil {
		t.Fatalf("MergeCoreBlocks: %v", err)
	}
	if report.Merged != 1 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}

	blocks, err := svc.CoreBlocks("proj", "", 0)
	if err != nil {
		t.Fatalf("CoreBlocks: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %+v, want the single merged project block", blocks)
	}
	got := blocks[0]
	want := []string{"tabs not spaces", "wrap at 100", "prefer table tests"}
	if len(got.Lines) != len(want) {
		t.Fatalf("merged lines = %v, want %v", got.Lines, want)
	}
	for i := range want {
		if got.Lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got.Lines[i], want[i])
		}
	}
	if got.Priority != 5 {
		t.Errorf("priority = %d, union keeps the higher priority", got.Priority)
	}

	// The session copy is consumed; a second merge is a no-op.
	report, err = svc.MergeCoreBlocks("proj", "sess-1")
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if report.Merged != 0 {
		t.Errorf("second merge folded %d blocks, want 0", report.Merged)
	}
}

func TestMergeCoreBlocksPriorityArchivesLoser(t *testing.T) {
	svc := testService(t)
	svc.cfg.CoreMerge.Mode = "priority"
	svc.cfg.CoreMerge.LoserAction = "archive"

	setBlock(t, svc, types.CoreBlock{
		Name: "focus", Lines: []string{"ship the retrieval engine"}, Priority: 8,
	})
	setBlock(t, svc, types.CoreBlock{
		Name: "focus", SessionID: "sess-1",
		Lines: []string{"debug the flaky weaver test"}, Priority: 2,
	})

	report, err := svc.MergeCoreBlocks("proj", "sess-1")
	if err != nil {
		t.Fatalf("MergeCoreBlocks: %v", err)
	}
	if report.Merged != 1 || report.Archived != 1 {
		t.Fatalf("report = %+v, want the low-priority session block archived", report)
	}

	blocks, _ := svc.CoreBlocks("proj", "", 0)
	if len(blocks) != 1 || blocks[0].Lines[0] != "ship the retrieval engine" {
		t.Fatalf("blocks = %+v, higher priority should win", blocks)
	}

	hits, err := svc.Find("displaced core block", store.Filter{ProjectID: "proj", IncludeArchive: true}, 5)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("archived loser note hits = %d, want 1", len(hits))
	}
}

func TestMergeCoreBlocksSkipsLowQuality(t *testing.T) {
	svc := testService(t)
	svc.cfg.CoreMerge.MinApplyQuality = 5

	setBlock(t, svc, types.CoreBlock{
		Name: "scratch", SessionID: "sess-1",
		Lines: []string{"half-formed idea"}, Priority: 1,
	})

	report, err := svc.MergeCoreBlocks("proj", "sess-1")
	if err != nil {
		t.Fatalf("MergeCoreBlocks: %v", err)
	}
	if report.Merged != 0 || report.Skipped != 1 {
		t.Errorf("report = %+v, want the block skipped", report)
	}
}

func TestMergeCoreBlocksRequiresSession(t *testing.T) {
	svc := testService(t)
	_, err := svc.MergeCoreBlocks("proj", "")
	if types.KindOf(err) != types.ErrInvalidArgument {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}
