package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cognote", cfg.Name)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.GlobalKBCapacity = 5000
	cfg.ContradictionPolicy = "RetractWeakest"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, loaded.GlobalKBCapacity)
	assert.Equal(t, "RetractWeakest", loaded.ContradictionPolicy)
}

func TestValidateRejectsBadContradictionPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContradictionPolicy = "Nonsense"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveCapacities(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"global kb capacity", func(c *Config) { c.GlobalKBCapacity = 0 }},
		{"note kb capacity", func(c *Config) { c.NoteKBCapacity = 0 }},
		{"reasoning depth limit", func(c *Config) { c.ReasoningDepthLimit = 0 }},
		{"backward chain depth", func(c *Config) { c.BackwardChainDepth = 0 }},
		{"max derived weight", func(c *Config) { c.MaxDerivedWeight = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
