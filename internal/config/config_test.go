package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Retrieval.RankingMode != "hybrid" {
		t.Errorf("expected RankingMode=hybrid, got %s", cfg.Retrieval.RankingMode)
	}
	if cfg.Retrieval.Limit != 8 {
		t.Errorf("expected Limit=8, got %d", cfg.Retrieval.Limit)
	}
	if cfg.Governor.DecayHalfLifeDays != 14 {
		t.Errorf("expected DecayHalfLifeDays=14, got %v", cfg.Governor.DecayHalfLifeDays)
	}
	if cfg.Composer.DeltaStateMaxEntries != 1200 {
		t.Errorf("expected DeltaStateMaxEntries=1200, got %d", cfg.Composer.DeltaStateMaxEntries)
	}
	if cfg.Sync.GitHub.RemoteName != "origin" {
		t.Errorf("expected RemoteName=origin, got %s", cfg.Sync.GitHub.RemoteName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	home := t.TempDir()

	cfg := DefaultConfig()
	cfg.Home = home
	cfg.Identity.Tool = "claude"
	cfg.Retrieval.Limit = 12
	cfg.Sync.Enabled = true

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("config did not round-trip (-saved +loaded):\n%s", diff)
	}
}

func TestConfig_YAMLFallback(t *testing.T) {
	home := t.TempDir()
	yamlBody := "identity:\n  tool: codex\nretrieval:\n  ranking_mode: cognitive\n  limit: 5\n"
	if err := os.WriteFile(filepath.Join(home, "omnimem.config.yaml"), []byte(yamlBody), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	loaded, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Identity.Tool != "codex" {
		t.Errorf("expected Tool=codex, got %s", loaded.Identity.Tool)
	}
	if loaded.Retrieval.RankingMode != "cognitive" {
		t.Errorf("expected RankingMode=cognitive, got %s", loaded.Retrieval.RankingMode)
	}
	if loaded.Retrieval.Limit != 5 {
		t.Errorf("expected Limit=5, got %d", loaded.Retrieval.Limit)
	}
}

func TestConfig_JSONWinsOverYAML(t *testing.T) {
	home := t.TempDir()
	jsonBody := `{"identity":{"tool":"claude","account":"a","device":"d"}}`
	yamlBody := "identity:\n  tool: codex\n"
	if err := os.WriteFile(filepath.Join(home, "omnimem.config.json"), []byte(jsonBody), 0644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "omnimem.config.yaml"), []byte(yamlBody), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	loaded, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Identity.Tool != "claude" {
		t.Errorf("JSON config should win, got Tool=%s", loaded.Identity.Tool)
	}
}

func TestConfig_MissingFileYieldsDefaults(t *testing.T) {
	home := t.TempDir()
	loaded, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Retrieval.RankingMode != "hybrid" {
		t.Errorf("expected defaults, got RankingMode=%s", loaded.Retrieval.RankingMode)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OMNIMEM_DEVICE", "laptop-7")
	t.Setenv("OMNIMEM_SYNC_REMOTE", "backup")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Identity.Device != "laptop-7" {
		t.Errorf("expected Device=laptop-7, got %s", cfg.Identity.Device)
	}
	if cfg.Sync.GitHub.RemoteName != "backup" {
		t.Errorf("expected RemoteName=backup, got %s", cfg.Sync.GitHub.RemoteName)
	}
}

func TestResolveHome(t *testing.T) {
	got, err := ResolveHome("/tmp/explicit")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != "/tmp/explicit" {
		t.Errorf("explicit home should win, got %s", got)
	}

	t.Setenv("OMNIMEM_HOME", "/tmp/from-env")
	got, err = ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != "/tmp/from-env" {
		t.Errorf("env home should win over default, got %s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	cfg.Retrieval.RankingMode = "psychic"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid ranking mode")
	}

	cfg = DefaultConfig()
	cfg.Retrieval.Weights.Lexical = 0.9
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for weights not summing to 1")
	}

	cfg = DefaultConfig()
	cfg.Weaver.TagWeight = 0.9
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for weaver weights not summing to 1")
	}

	cfg = DefaultConfig()
	cfg.Composer.TokenBudget = 50
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for budget below clamp floor")
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Sync.GetInterval(); got != 5*time.Minute {
		t.Errorf("GetInterval = %v, want 5m", got)
	}
	if got := cfg.Agent.GetToolTimeout(); got != 120*time.Second {
		t.Errorf("GetToolTimeout = %v, want 120s", got)
	}
	if got := cfg.Weaver.GetMaxWait(); got != 20*time.Second {
		t.Errorf("GetMaxWait = %v, want 20s", got)
	}

	// Malformed durations fall back to defaults
	cfg.Sync.Interval = "not-a-duration"
	if got := cfg.Sync.GetInterval(); got != 5*time.Minute {
		t.Errorf("malformed interval should fall back to 5m, got %v", got)
	}
}

// =============================================================================
// PATHS TESTS
// =============================================================================

func TestPaths_Layout(t *testing.T) {
	p := NewPaths("/m")
	when := time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC)

	if got := p.EventFile(when); got != "/m/data/jsonl/events-2025-06.jsonl" {
		t.Errorf("EventFile = %s", got)
	}
	if got := p.BodyPath("short", when, "mem-abc"); got != "/m/data/markdown/short/2025/06/mem-abc.md" {
		t.Errorf("BodyPath = %s", got)
	}
	if got := BodyRelPath("long", when, "mem-abc"); got != "long/2025/06/mem-abc.md" {
		t.Errorf("BodyRelPath = %s", got)
	}
	if got := p.IndexPath(); got != "/m/data/omnimem.db" {
		t.Errorf("IndexPath = %s", got)
	}
	if got := p.StateDir(); got != "/m/runtime" {
		t.Errorf("StateDir = %s", got)
	}
}

func TestPathsFor_StorageOverrides(t *testing.T) {
	p := PathsFor("/m", StorageConfig{
		Markdown: "/bulk/md",
		JSONL:    "elsewhere/jsonl",
	})
	if got := p.MemoryDir(); got != "/bulk/md" {
		t.Errorf("absolute override: MemoryDir = %s", got)
	}
	if got := p.EventsDir(); got != "/m/elsewhere/jsonl" {
		t.Errorf("relative override anchors at home: EventsDir = %s", got)
	}
	if got := p.IndexPath(); got != "/m/data/omnimem.db" {
		t.Errorf("empty override keeps default: IndexPath = %s", got)
	}
}

func TestPaths_EventFileUsesUTC(t *testing.T) {
	p := NewPaths("/m")
	// 23:30 on the last day of May in UTC-5 is already June in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	when := time.Date(2025, 5, 31, 23, 30, 0, 0, loc)
	if got := p.EventFile(when); got != "/m/data/jsonl/events-2025-06.jsonl" {
		t.Errorf("EventFile should bucket by UTC month, got %s", got)
	}
}
