package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, 768, cfg.Embedder.Dimension)
	assert.Equal(t, 60, cfg.RRF.K)
	assert.Equal(t, 1.0, cfg.RRF.WeightBM25)
	assert.Equal(t, 1.0, cfg.RRF.WeightVec)
	assert.True(t, cfg.Watcher.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/tmp/memoir"

		err := cfg.Validate()
		assert.NoError(t, err)
	})

	t.Run("missing data dir", func(t *testing.T) {
		cfg := DefaultConfig()

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "data_dir")
	})

	t.Run("invalid rrf k", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/tmp/memoir"
		cfg.RRF.K = 0

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "rrf.k")
	})

	t.Run("duplicate collection name", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/tmp/memoir"
		cfg.Collections = []CollectionConfig{
			{Name: "notes", Root: "/a"},
			{Name: "notes", Root: "/b"},
		}

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate name")
	})

	t.Run("zone missing prefix", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/tmp/memoir"
		cfg.Zones = []ZoneConfig{{Prefix: ""}}

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "prefix is required")
	})
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/memoir"

	str := cfg.String()
	assert.NotEmpty(t, str)
	assert.Contains(t, str, "embedder")
}
