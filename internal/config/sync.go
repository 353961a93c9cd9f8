package config

import (
	"fmt"
	"time"
)

// SyncConfig tunes the git replication daemon.
type SyncConfig struct {
	// Enabled controls whether the daemon schedules sync cycles (default: false)
	Enabled bool `yaml:"enabled" json:"enabled"`

	// GitHub describes the replication remote and what gets staged
	GitHub GitHubSyncConfig `yaml:"github" json:"github"`

	// Interval between sync cycles (default: 5m)
	Interval string `yaml:"interval" json:"interval"`

	// WeaveInterval between link weave passes (default: 15m)
	WeaveInterval string `yaml:"weave_interval" json:"weave_interval"`

	// MaintenanceInterval between governor passes (default: 1h)
	MaintenanceInterval string `yaml:"maintenance_interval" json:"maintenance_interval"`

	// CommandTimeout bounds one git invocation (default: 60s)
	CommandTimeout string `yaml:"command_timeout" json:"command_timeout"`

	// Retry policy for transient git failures
	RetryAttempts  int    `yaml:"retry_attempts" json:"retry_attempts"`     // default: 3
	RetryBaseDelay string `yaml:"retry_base_delay" json:"retry_base_delay"` // default: 1s
	RetryMaxDelay  string `yaml:"retry_max_delay" json:"retry_max_delay"`   // default: 8s
}

// GitHubSyncConfig names the git remote and selects the staged content.
type GitHubSyncConfig struct {
	// RemoteName is the git remote name (default: origin)
	RemoteName string `yaml:"remote_name" json:"remote_name"`

	// RemoteURL, when set, is enforced on the remote before each run
	RemoteURL string `yaml:"remote_url" json:"remote_url"`

	// Branch is the branch synced (default: main)
	Branch string `yaml:"branch" json:"branch"`

	// IncludeLayers selects which retention layers are staged. The instant
	// layer stays local unless listed here (default: short, long, archive)
	IncludeLayers []string `yaml:"include_layers" json:"include_layers"`

	// IncludeJSONL stages the event log alongside layer subtrees
	// (default: true)
	IncludeJSONL bool `yaml:"include_jsonl" json:"include_jsonl"`
}

// DefaultSyncConfig returns sensible defaults for git replication.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled: false,
		GitHub: GitHubSyncConfig{
			RemoteName:    "origin",
			Branch:        "main",
			IncludeLayers: []string{"short", "long", "archive"},
			IncludeJSONL:  true,
		},
		Interval:            "5m",
		WeaveInterval:       "15m",
		MaintenanceInterval: "1h",
		CommandTimeout:      "60s",
		RetryAttempts:       3,
		RetryBaseDelay:      "1s",
		RetryMaxDelay:       "8s",
	}
}

// GetInterval returns the sync cycle interval as a duration.
func (c *SyncConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetWeaveInterval returns the weave cadence as a duration.
func (c *SyncConfig) GetWeaveInterval() time.Duration {
	d, err := time.ParseDuration(c.WeaveInterval)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// GetMaintenanceInterval returns the governor cadence as a duration.
func (c *SyncConfig) GetMaintenanceInterval() time.Duration {
	d, err := time.ParseDuration(c.MaintenanceInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// GetCommandTimeout returns the git invocation timeout as a duration.
func (c *SyncConfig) GetCommandTimeout() time.Duration {
	d, err := time.ParseDuration(c.CommandTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetRetryBaseDelay returns the first retry backoff as a duration.
func (c *SyncConfig) GetRetryBaseDelay() time.Duration {
	d, err := time.ParseDuration(c.RetryBaseDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// GetRetryMaxDelay returns the backoff ceiling as a duration.
func (c *SyncConfig) GetRetryMaxDelay() time.Duration {
	d, err := time.ParseDuration(c.RetryMaxDelay)
	if err != nil {
		return 8 * time.Second
	}
	return d
}

func (c *SyncConfig) validate() error {
	if c.GitHub.RemoteName == "" {
		return fmt.Errorf("sync.github.remote_name must not be empty")
	}
	if c.GitHub.Branch == "" {
		return fmt.Errorf("sync.github.branch must not be empty")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("sync.retry_attempts must be >= 1, got %d", c.RetryAttempts)
	}
	return nil
}
