package config

import "fmt"

// CoreMergeConfig tunes how session-scoped core blocks fold into the
// project scope.
type CoreMergeConfig struct {
	// Mode selects the merge strategy: union | priority | replace
	// (default: union)
	Mode string `yaml:"mode" json:"mode"`

	// MaxMergedLines caps the merged block size (default: 40)
	MaxMergedLines int `yaml:"max_merged_lines" json:"max_merged_lines"`

	// MinApplyQuality skips blocks below this priority (default: 0)
	MinApplyQuality int `yaml:"min_apply_quality" json:"min_apply_quality"`

	// LoserAction decides what happens to the losing block:
	// keep | archive | drop (default: keep)
	LoserAction string `yaml:"loser_action" json:"loser_action"`
}

// DefaultCoreMergeConfig returns sensible defaults for core-block merges.
func DefaultCoreMergeConfig() CoreMergeConfig {
	return CoreMergeConfig{
		Mode:           "union",
		MaxMergedLines: 40,
		LoserAction:    "keep",
	}
}

func (c *CoreMergeConfig) validate() error {
	switch c.Mode {
	case "union", "priority", "replace":
	default:
		return fmt.Errorf("core_merge.mode must be union|priority|replace, got %q", c.Mode)
	}
	switch c.LoserAction {
	case "keep", "archive", "drop":
	default:
		return fmt.Errorf("core_merge.loser_action must be keep|archive|drop, got %q", c.LoserAction)
	}
	if c.MaxMergedLines < 1 {
		return fmt.Errorf("core_merge.max_merged_lines must be >= 1, got %d", c.MaxMergedLines)
	}
	return nil
}
