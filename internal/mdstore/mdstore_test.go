package mdstore

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/types"
)

var testAt = time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	home := t.TempDir()
	return Open(config.NewPaths(home)), home
}

func TestWriteRead(t *testing.T) {
	s, home := testStore(t)
	body := []byte("# note\n\ncontent\n")

	rel, err := s.Write(types.LayerShort, testAt, "mem-1", body)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rel != "short/2025/06/mem-1.md" {
		t.Errorf("rel = %s", rel)
	}

	got, err := s.Read(rel)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("Read = %q, want %q", got, body)
	}

	abs := filepath.Join(home, "memory", "short", "2025", "06", "mem-1.md")
	if _, err := os.Stat(abs); err != nil {
		t.Errorf("body file not at expected path: %v", err)
	}
}

func TestWriteOnce(t *testing.T) {
	s, home := testStore(t)
	rel, err := s.Write(types.LayerShort, testAt, "mem-1", []byte("# v1\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Identical rewrite is an idempotent no-op (crash-retry path).
	if _, err := s.Write(types.LayerShort, testAt, "mem-1", []byte("# v1\n")); err != nil {
		t.Fatalf("idempotent rewrite: %v", err)
	}

	// Different content is refused.
	_, err = s.Write(types.LayerShort, testAt, "mem-1", []byte("# v2\n"))
	if err == nil {
		t.Fatal("expected write-once violation")
	}
	if kind := types.KindOf(err); kind != types.ErrInvalidArgument {
		t.Errorf("error kind = %q, want InvalidArgument", kind)
	}
	got, _ := s.Read(rel)
	if string(got) != "# v1\n" {
		t.Errorf("Read = %q, want original v1", got)
	}

	// No temp litter left behind
	entries, _ := os.ReadDir(filepath.Join(home, "memory", "short", "2025", "06"))
	for _, e := range entries {
		if e.Name() != "mem-1.md" {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}

func TestReadMissing(t *testing.T) {
	s, _ := testStore(t)
	_, err := s.Read("short/2025/06/mem-x.md")
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := types.KindOf(err); kind != types.ErrNotFound {
		t.Errorf("error kind = %q, want NotFound", kind)
	}
}

func TestMove(t *testing.T) {
	s, _ := testStore(t)
	oldRel, err := s.Write(types.LayerShort, testAt, "mem-1", []byte("# body\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	newRel := config.BodyRelPath(types.LayerLong, testAt, "mem-1")
	if err := s.Move(oldRel, newRel); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if s.Exists(oldRel) {
		t.Error("old body should be gone")
	}
	got, err := s.Read(newRel)
	if err != nil || string(got) != "# body\n" {
		t.Errorf("Read after move = %q, %v", got, err)
	}

	if err := s.Move("short/2025/06/ghost.md", newRel); err == nil {
		t.Error("moving a missing body should fail")
	}
}

func TestRemove(t *testing.T) {
	s, _ := testStore(t)
	rel, _ := s.Write(types.LayerInstant, testAt, "mem-1", []byte("# x\n"))
	if err := s.Remove(rel); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Exists(rel) {
		t.Error("body should be removed")
	}
	// Removing twice is a no-op
	if err := s.Remove(rel); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestWalk(t *testing.T) {
	s, _ := testStore(t)
	s.Write(types.LayerShort, testAt, "mem-1", []byte("# a\n"))
	s.Write(types.LayerShort, testAt.AddDate(0, 1, 0), "mem-2", []byte("# b\n"))
	s.Write(types.LayerLong, testAt, "mem-3", []byte("# c\n"))

	var all []string
	if err := s.Walk("", func(rel string) error {
		all = append(all, rel)
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	sort.Strings(all)
	want := []string{"long/2025/06/mem-3.md", "short/2025/06/mem-1.md", "short/2025/07/mem-2.md"}
	if len(all) != len(want) {
		t.Fatalf("Walk = %v", all)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("walk[%d] = %s, want %s", i, all[i], want[i])
		}
	}

	var short []string
	if err := s.Walk(types.LayerShort, func(rel string) error {
		short = append(short, rel)
		return nil
	}); err != nil {
		t.Fatalf("Walk layer: %v", err)
	}
	if len(short) != 2 {
		t.Errorf("short walk = %v", short)
	}
}

func TestWalkEmptyTree(t *testing.T) {
	s, _ := testStore(t)
	count := 0
	if err := s.Walk("", func(string) error { count++; return nil }); err != nil {
		t.Fatalf("Walk on empty tree: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d", count)
	}
}
