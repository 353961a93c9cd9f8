// Package config loads and validates omnimem configuration.
//
// The memory home directory is resolved from the --home flag, the
// OMNIMEM_HOME environment variable, or ~/.omnimem, in that order. Inside
// the home, omnimem.config.json is the primary config file; a YAML twin
// (omnimem.config.yaml) is accepted for hand-edited setups. Missing files
// yield defaults, never errors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"omnimem/internal/types"
)

// Config holds all omnimem configuration.
type Config struct {
	// Home is the resolved memory home directory. Not persisted.
	Home string `json:"-" yaml:"-"`

	// Writer identity stamped into every envelope
	Identity IdentityConfig `json:"identity" yaml:"identity"`

	// Storage roots for the three durable projections
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Retrieval pipeline tuning
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`

	// Context pack assembly
	Composer ComposerConfig `json:"composer" yaml:"composer"`

	// Lifecycle governance (decay, consolidation, distillation)
	Governor GovernorConfig `json:"governor" yaml:"governor"`

	// Link derivation
	Weaver WeaverConfig `json:"weaver" yaml:"weaver"`

	// Turn orchestration and tool subprocesses
	Agent AgentConfig `json:"agent" yaml:"agent"`

	// Git replication
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Core-block merge policy
	CoreMerge CoreMergeConfig `json:"core_merge" yaml:"core_merge"`

	// Session transcript watcher
	Watcher WatcherConfig `json:"watcher" yaml:"watcher"`

	// Logging
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// IdentityConfig identifies this writer in envelope source fields.
type IdentityConfig struct {
	Tool    string `json:"tool" yaml:"tool"`
	Account string `json:"account" yaml:"account"`
	Device  string `json:"device" yaml:"device"`
}

// StorageConfig relocates the durable projections. Paths are home-relative
// unless absolute.
type StorageConfig struct {
	// Markdown is the body tree root (default: data/markdown)
	Markdown string `json:"markdown" yaml:"markdown"`

	// JSONL is the event log directory (default: data/jsonl)
	JSONL string `json:"jsonl" yaml:"jsonl"`

	// SQLite is the indexed view database file (default: data/omnimem.db)
	SQLite string `json:"sqlite" yaml:"sqlite"`
}

// DefaultStorageConfig returns the standard home-relative layout.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Markdown: filepath.Join("data", "markdown"),
		JSONL:    filepath.Join("data", "jsonl"),
		SQLite:   filepath.Join("data", "omnimem.db"),
	}
}

// Paths derives the on-disk layout, honoring storage overrides.
func (c *Config) Paths() Paths {
	return PathsFor(c.Home, c.Storage)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	device, err := os.Hostname()
	if err != nil || device == "" {
		device = "unknown-device"
	}
	return &Config{
		Identity: IdentityConfig{
			Tool:    "cli",
			Account: "local",
			Device:  device,
		},
			Storage:   DefaultStorageConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Composer:  DefaultComposerConfig(),
		Governor:  DefaultGovernorConfig(),
		Weaver:    DefaultWeaverConfig(),
		Agent:     DefaultAgentConfig(),
		Sync:      DefaultSyncConfig(),
		CoreMerge: DefaultCoreMergeConfig(),
		Watcher:   DefaultWatcherConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ResolveHome determines the memory home directory.
// Priority: explicit flag > OMNIMEM_HOME > ~/.omnimem.
func ResolveHome(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	if env := os.Getenv("OMNIMEM_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user home: %w", err)
	}
	return filepath.Join(userHome, ".omnimem"), nil
}

// Load loads configuration from the memory home. The JSON file wins when
// both exist; a missing file yields defaults.
func Load(home string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Home = home

	jsonPath := filepath.Join(home, "omnimem.config.json")
	data, err := os.ReadFile(jsonPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", jsonPath, err)
		}
	case os.IsNotExist(err):
		yamlPath := filepath.Join(home, "omnimem.config.yaml")
		ydata, yerr := os.ReadFile(yamlPath)
		if yerr == nil {
			if err := yaml.Unmarshal(ydata, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(yerr) {
			return nil, fmt.Errorf("failed to read config: %w", yerr)
		}
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.Home = home
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to omnimem.config.json in the home.
func (c *Config) Save() error {
	if c.Home == "" {
		return fmt.Errorf("config has no home directory")
	}
	if err := os.MkdirAll(c.Home, 0755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(c.Home, "omnimem.config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OMNIMEM_TOOL"); v != "" {
		c.Identity.Tool = v
	}
	if v := os.Getenv("OMNIMEM_ACCOUNT"); v != "" {
		c.Identity.Account = v
	}
	if v := os.Getenv("OMNIMEM_DEVICE"); v != "" {
		c.Identity.Device = v
	}
	if v := os.Getenv("OMNIMEM_SYNC_REMOTE"); v != "" {
		c.Sync.GitHub.RemoteName = v
	}
	if v := os.Getenv("OMNIMEM_SYNC_BRANCH"); v != "" {
		c.Sync.GitHub.Branch = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Identity.Tool == "" {
		return fmt.Errorf("identity.tool must not be empty")
	}
	if !types.RankingMode(c.Retrieval.RankingMode).Valid() {
		return fmt.Errorf("invalid retrieval.ranking_mode: %s (valid: lexical, cognitive, hybrid, ppr)",
			c.Retrieval.RankingMode)
	}
	if err := c.Retrieval.validate(); err != nil {
		return err
	}
	if err := c.Composer.validate(); err != nil {
		return err
	}
	if err := c.Governor.validate(); err != nil {
		return err
	}
	if err := c.Weaver.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if err := c.CoreMerge.validate(); err != nil {
		return err
	}
	return nil
}
