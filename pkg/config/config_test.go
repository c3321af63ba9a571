package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Parallel.Enabled)
	assert.Equal(t, 4, cfg.Multiscale.Layers)
	assert.Equal(t, []bool{true, true, true, true, true}, cfg.LayerMask())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg := DefaultConfig()
			cfg.Parallel.MaxProcessors = 3
			cfg.Convolution.Kernel = "gaussian"
			cfg.Convolution.HighThreshold = 0.25
			cfg.Morphology.Operator = "selection"
			cfg.Morphology.Parameter = 0.75
			cfg.Multiscale.Mode = "median"
			cfg.Multiscale.MedianWavelet = true
			cfg.Multiscale.DisabledLayers = []int{0, 4}
			cfg.Output.JSONLog = true

			require.NoError(t, SaveConfig(cfg, path))
			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			if diff := cmp.Diff(cfg, loaded, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, []bool{false, true, true, true, false}, loaded.LayerMask())
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multiscale.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), loaded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	require.NoError(t, os.WriteFile(path, []byte("[multiscale]\nlayers = 6\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Multiscale.Layers)
	assert.Equal(t, "atrous", cfg.Multiscale.Mode)
	assert.Equal(t, 3.0, cfg.Noise.K)
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"even morphology size", func(c *Config) { c.Morphology.Size = 4 }},
		{"too many layers", func(c *Config) { c.Multiscale.Layers = 17 }},
		{"disabled layer out of range", func(c *Config) { c.Multiscale.DisabledLayers = []int{5} }},
		{"negative threshold", func(c *Config) { c.Convolution.LowThreshold = -1 }},
		{"zero noise k", func(c *Config) { c.Noise.K = 0 }},
		{"linear without delta", func(c *Config) { c.Multiscale.Linear = true; c.Multiscale.Delta = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestMalformedFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("multiscale: [unterminated"), 0644))
	_, err := LoadConfig(yamlPath)
	assert.Error(t, err)

	tomlPath := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[multiscale\nlayers = "), 0644))
	_, err = LoadConfig(tomlPath)
	assert.Error(t, err)
}
