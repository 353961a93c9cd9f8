package config

import (
	"fmt"
	"time"
)

// WeaverConfig tunes derived-link computation.
type WeaverConfig struct {
	// Affinity component weights; must sum to 1
	TagWeight      float64 `yaml:"tag_weight" json:"tag_weight"`           // default: 0.40
	SessionWeight  float64 `yaml:"session_weight" json:"session_weight"`   // default: 0.25
	TemporalWeight float64 `yaml:"temporal_weight" json:"temporal_weight"` // default: 0.20
	LexicalWeight  float64 `yaml:"lexical_weight" json:"lexical_weight"`   // default: 0.15

	// TemporalCapHours caps the age gap considered for temporal affinity
	// (default: 72)
	TemporalCapHours float64 `yaml:"temporal_cap_hours" json:"temporal_cap_hours"`

	// CommitMinWeight is the weakest link worth persisting (default: 0.25)
	CommitMinWeight float64 `yaml:"commit_min_weight" json:"commit_min_weight"`

	// MaxLinksPerSource caps outgoing links kept per memory (default: 8)
	MaxLinksPerSource int `yaml:"max_links_per_source" json:"max_links_per_source"`

	// MaxWait bounds a full weave pass wall-clock time (default: 20s)
	MaxWait string `yaml:"max_wait" json:"max_wait"`

	// Workers is the number of concurrent affinity workers (default: 4)
	Workers int `yaml:"workers" json:"workers"`
}

// DefaultWeaverConfig returns sensible defaults for link derivation.
func DefaultWeaverConfig() WeaverConfig {
	return WeaverConfig{
		TagWeight:         0.40,
		SessionWeight:     0.25,
		TemporalWeight:    0.20,
		LexicalWeight:     0.15,
		TemporalCapHours:  72,
		CommitMinWeight:   0.25,
		MaxLinksPerSource: 8,
		MaxWait:           "20s",
		Workers:           4,
	}
}

// GetMaxWait returns the weave pass deadline as a duration.
func (c *WeaverConfig) GetMaxWait() time.Duration {
	d, err := time.ParseDuration(c.MaxWait)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

func (c *WeaverConfig) validate() error {
	sum := c.TagWeight + c.SessionWeight + c.TemporalWeight + c.LexicalWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("weaver affinity weights must sum to 1, got %.3f", sum)
	}
	if c.CommitMinWeight < 0 || c.CommitMinWeight > 1 {
		return fmt.Errorf("weaver.commit_min_weight must be in [0,1], got %v", c.CommitMinWeight)
	}
	if c.MaxLinksPerSource < 1 {
		return fmt.Errorf("weaver.max_links_per_source must be >= 1, got %d", c.MaxLinksPerSource)
	}
	if c.Workers < 1 {
		return fmt.Errorf("weaver.workers must be >= 1, got %d", c.Workers)
	}
	return nil
}
