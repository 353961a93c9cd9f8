package config

import "fmt"

// ComposerConfig tunes context pack assembly.
type ComposerConfig struct {
	// TokenBudget is the default pack budget when the plan resolver is
	// bypassed (default: 800)
	TokenBudget int `yaml:"token_budget" json:"token_budget"`

	// RequestTokenCap truncates the echoed user request so a huge prompt
	// cannot starve memory sections (default: 240)
	RequestTokenCap int `yaml:"request_token_cap" json:"request_token_cap"`

	// DeltaStateMaxEntries bounds the per-caller seen map persisted between
	// turns; oldest entries fall off first (default: 1200)
	DeltaStateMaxEntries int `yaml:"delta_state_max_entries" json:"delta_state_max_entries"`
}

// Pack budget clamps applied by the context-plan resolver regardless of
// profile and quota multipliers.
const (
	MinTokenBudget = 160
	MaxTokenBudget = 1400
	MinPlanLimit   = 4
	MaxPlanLimit   = 24
)

// DefaultComposerConfig returns sensible defaults for pack assembly.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		TokenBudget:          800,
		RequestTokenCap:      240,
		DeltaStateMaxEntries: 1200,
	}
}

func (c *ComposerConfig) validate() error {
	if c.TokenBudget < MinTokenBudget || c.TokenBudget > MaxTokenBudget {
		return fmt.Errorf("composer.token_budget must be in [%d,%d], got %d",
			MinTokenBudget, MaxTokenBudget, c.TokenBudget)
	}
	if c.DeltaStateMaxEntries < 0 {
		return fmt.Errorf("composer.delta_state_max_entries must be >= 0, got %d", c.DeltaStateMaxEntries)
	}
	return nil
}
