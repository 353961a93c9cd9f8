package config

import "time"

// WatcherConfig tunes the session transcript watcher.
type WatcherConfig struct {
	// Enabled controls whether `omnimem watch` tails transcripts (default: false)
	Enabled bool `yaml:"enabled" json:"enabled"`

	// TranscriptDir is the directory of JSONL transcripts to follow
	TranscriptDir string `yaml:"transcript_dir" json:"transcript_dir"`

	// Debounce coalesces rapid file events before re-reading (default: 400ms)
	Debounce string `yaml:"debounce" json:"debounce"`
}

// DefaultWatcherConfig returns sensible defaults for the transcript watcher.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Enabled:  false,
		Debounce: "400ms",
	}
}

// GetDebounce returns the event debounce window as a duration.
func (c *WatcherConfig) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 400 * time.Millisecond
	}
	return d
}
