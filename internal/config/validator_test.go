package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	t.Run("valid levels", func(t *testing.T) {
		levels := []string{"debug", "info", "warn", "error"}
		for _, level := range levels {
			err := v.ValidateLogLevel(level)
			assert.NoError(t, err, "level %s should be valid", level)
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		err := v.ValidateLogLevel("invalid")
		assert.Error(t, err)
	})
}

func TestValidateEmbedderProvider(t *testing.T) {
	v := NewValidator()

	t.Run("valid providers", func(t *testing.T) {
		for _, p := range []string{"openai", "anthropic", "none"} {
			assert.NoError(t, v.ValidateEmbedderProvider(p))
		}
	})

	t.Run("invalid provider", func(t *testing.T) {
		assert.Error(t, v.ValidateEmbedderProvider("cohere"))
	})
}

func TestValidateZonePrefix(t *testing.T) {
	v := NewValidator()

	t.Run("valid prefix", func(t *testing.T) {
		assert.NoError(t, v.ValidateZonePrefix("projects.alpha"))
	})

	t.Run("empty prefix", func(t *testing.T) {
		assert.Error(t, v.ValidateZonePrefix(""))
	})

	t.Run("traversal attempt", func(t *testing.T) {
		assert.Error(t, v.ValidateZonePrefix("projects/../../etc"))
	})
}

func TestValidateZonesAndCollections(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/tmp/memoir"
		cfg.Collections = []CollectionConfig{{Name: "notes", Root: "/tmp/notes"}}
		cfg.Zones = []ZoneConfig{{Prefix: "projects", MaxDepth: 4, MaxItems: 100}}

		assert.NoError(t, ValidateZonesAndCollections(cfg))
	})

	t.Run("collection missing root fails schema", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/tmp/memoir"
		cfg.Collections = []CollectionConfig{{Name: "notes"}}

		assert.Error(t, ValidateZonesAndCollections(cfg))
	})
}
