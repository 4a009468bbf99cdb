// Package config holds cognote's yaml-tagged configuration: KB capacities,
// reasoning depth limits and the derived-term weight cap, grounded on the
// teacher's internal/config/config.go Load/Save/Validate shape.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cognote/internal/reason"
)

// Config holds every tunable named in spec.md §5 and §9.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// GlobalKBCapacity bounds the always-active global KB.
	GlobalKBCapacity int `yaml:"global_kb_capacity"`
	// NoteKBCapacity bounds each per-note KB, applied uniformly.
	NoteKBCapacity int `yaml:"note_kb_capacity"`

	// ReasoningDepthLimit caps forward/rewrite/universal derivation depth.
	ReasoningDepthLimit int `yaml:"reasoning_depth_limit"`
	// BackwardChainDepth caps backward-chaining proof depth.
	BackwardChainDepth int `yaml:"backward_chain_depth"`
	// MaxDerivedWeight caps any derived term's weight.
	MaxDerivedWeight int `yaml:"max_derived_weight"`

	// ExecutorCapacity sizes the shared task executor; 0 means
	// runtime.GOMAXPROCS(0).
	ExecutorCapacity int `yaml:"executor_capacity"`

	// BroadcastInputAssertions mirrors every directly-asserted input onto
	// the event bus as a TemporaryAssertion before commit, for UI/tooling
	// that wants to observe proposed assertions ahead of TMS admission.
	BroadcastInputAssertions bool `yaml:"broadcast_input_assertions"`

	// ContradictionPolicy selects LogOnly or RetractWeakest (spec.md §4.4).
	ContradictionPolicy string `yaml:"contradiction_policy"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls the zap logger built by internal/logging.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns cognote's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:                     "cognote",
		Version:                  "0.1.0",
		GlobalKBCapacity:         100_000,
		NoteKBCapacity:           10_000,
		ReasoningDepthLimit:      reason.DefaultReasoningDepthLimit,
		BackwardChainDepth:       reason.DefaultBackwardChainDepth,
		MaxDerivedWeight:         reason.MaxDerivedWeight,
		ExecutorCapacity:         0,
		BroadcastInputAssertions: false,
		ContradictionPolicy:      "LogOnly",
		Logging:                  LoggingConfig{Verbose: false},
	}
}

// Load reads configuration from a YAML file, falling back to defaults if
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories as
// needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks every tunable is within an acceptable range, mirroring
// the teacher's ValidateCoreLimits shape.
func (c *Config) Validate() error {
	if c.GlobalKBCapacity < 1 {
		return fmt.Errorf("config: global_kb_capacity must be >= 1")
	}
	if c.NoteKBCapacity < 1 {
		return fmt.Errorf("config: note_kb_capacity must be >= 1")
	}
	if c.ReasoningDepthLimit < 1 {
		return fmt.Errorf("config: reasoning_depth_limit must be >= 1")
	}
	if c.BackwardChainDepth < 1 {
		return fmt.Errorf("config: backward_chain_depth must be >= 1")
	}
	if c.MaxDerivedWeight < 1 {
		return fmt.Errorf("config: max_derived_weight must be >= 1")
	}
	switch c.ContradictionPolicy {
	case "LogOnly", "RetractWeakest":
	default:
		return fmt.Errorf("config: contradiction_policy must be LogOnly or RetractWeakest, got %q", c.ContradictionPolicy)
	}
	return nil
}
