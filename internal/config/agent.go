package config

import "time"

// AgentConfig tunes turn orchestration and assistant tool subprocesses.
type AgentConfig struct {
	// TopicAlpha is the EMA smoothing factor for the session topic vector
	// (default: 0.25)
	TopicAlpha float64 `yaml:"topic_alpha" json:"topic_alpha"`

	// DriftThreshold marks a topic shift when 1 - cosine similarity
	// between consecutive topic vectors exceeds it (default: 0.35)
	DriftThreshold float64 `yaml:"drift_threshold" json:"drift_threshold"`

	// CheckpointEvery writes a session checkpoint after this many turns
	// (default: 10)
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every"`

	// CheckpointKeep retains this many recent checkpoints per session;
	// older ones demote to the archive layer (default: 3)
	CheckpointKeep int `yaml:"checkpoint_keep" json:"checkpoint_keep"`

	// Tools maps a tool name to its executable. The prompt is passed via
	// "<executable> exec <prompt>". OMNIMEM_TOOL_CMD_<TOOL> overrides the
	// executable per tool at runtime.
	Tools map[string]string `yaml:"tools" json:"tools"`

	// ToolTimeout bounds one tool invocation (default: 120s)
	ToolTimeout string `yaml:"tool_timeout" json:"tool_timeout"`

	// Retry policy for transient tool failures
	RetryAttempts  int    `yaml:"retry_attempts" json:"retry_attempts"`     // default: 3
	RetryBaseDelay string `yaml:"retry_base_delay" json:"retry_base_delay"` // default: 1s
	RetryMaxDelay  string `yaml:"retry_max_delay" json:"retry_max_delay"`   // default: 8s
}

// DefaultAgentConfig returns sensible defaults for turn orchestration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		TopicAlpha:      0.25,
		DriftThreshold:  0.35,
		CheckpointEvery: 10,
		CheckpointKeep:  3,
		Tools: map[string]string{
			"claude": "claude",
			"codex":  "codex",
			"gemini": "gemini",
		},
		ToolTimeout:    "120s",
		RetryAttempts:  3,
		RetryBaseDelay: "1s",
		RetryMaxDelay:  "8s",
	}
}

// GetToolTimeout returns the tool invocation timeout as a duration.
func (c *AgentConfig) GetToolTimeout() time.Duration {
	d, err := time.ParseDuration(c.ToolTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetRetryBaseDelay returns the first retry backoff as a duration.
func (c *AgentConfig) GetRetryBaseDelay() time.Duration {
	d, err := time.ParseDuration(c.RetryBaseDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// GetRetryMaxDelay returns the backoff ceiling as a duration.
func (c *AgentConfig) GetRetryMaxDelay() time.Duration {
	d, err := time.ParseDuration(c.RetryMaxDelay)
	if err != nil {
		return 8 * time.Second
	}
	return d
}
