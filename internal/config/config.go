package config

import (
	"encoding/json"
	"fmt"
)

// Config is the top-level configuration for a Memoir engine instance.
type Config struct {
	// DataDir is the directory holding the SQLite database and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Embedder EmbedderConfig `json:"embedder" mapstructure:"embedder"`
	RRF      RRFConfig      `json:"rrf" mapstructure:"rrf"`
	Watcher  WatcherConfig  `json:"watcher" mapstructure:"watcher"`
	Search   SearchConfig   `json:"search" mapstructure:"search"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`

	// Collections to register at Initialize time.
	Collections []CollectionConfig `json:"collections" mapstructure:"collections"`
	// Zones to register at Initialize time.
	Zones []ZoneConfig `json:"zones" mapstructure:"zones"`
}

// EmbedderConfig configures the embedding and rerank backends.
type EmbedderConfig struct {
	Provider           string `json:"provider" mapstructure:"provider"` // openai, anthropic, none
	Model              string `json:"model" mapstructure:"model"`
	Dimension          int    `json:"dimension" mapstructure:"dimension"`
	RerankProvider     string `json:"rerank_provider" mapstructure:"rerank_provider"` // anthropic, none
	RerankModel        string `json:"rerank_model" mapstructure:"rerank_model"`
	LoadTimeoutSeconds int    `json:"load_timeout_seconds" mapstructure:"load_timeout_seconds"`
	APIKeyEnv          string `json:"api_key_env" mapstructure:"api_key_env"`
}

// RRFConfig configures Reciprocal Rank Fusion between BM25 and ANN results.
type RRFConfig struct {
	K          int     `json:"k" mapstructure:"k"`
	WeightBM25 float64 `json:"weight_bm25" mapstructure:"weight_bm25"`
	WeightVec  float64 `json:"weight_vec" mapstructure:"weight_vec"`
}

// WatcherConfig configures the filesystem watcher's debounce and fallback scan cadence.
type WatcherConfig struct {
	Enabled             bool `json:"enabled" mapstructure:"enabled"`
	DebounceMs          int  `json:"debounce_ms" mapstructure:"debounce_ms"`
	ScanIntervalSeconds int  `json:"scan_interval_seconds" mapstructure:"scan_interval_seconds"`
}

// SearchConfig configures default search behavior.
type SearchConfig struct {
	DefaultLimit         int `json:"default_limit" mapstructure:"default_limit"`
	ContentPreviewBytes  int `json:"content_preview_bytes" mapstructure:"content_preview_bytes"`
	OverfetchMultiplier  int `json:"overfetch_multiplier" mapstructure:"overfetch_multiplier"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// CollectionConfig describes a named document root to register at startup.
type CollectionConfig struct {
	Name string `json:"name" mapstructure:"name"`
	Root string `json:"root" mapstructure:"root"`
	Glob string `json:"glob" mapstructure:"glob"`
}

// ZoneConfig describes a Memoir key-prefix policy to register at startup.
type ZoneConfig struct {
	Prefix              string  `json:"prefix" mapstructure:"prefix"`
	MaxDepth            int     `json:"max_depth" mapstructure:"max_depth"`
	MaxItems            int     `json:"max_items" mapstructure:"max_items"`
	DefaultType         string  `json:"default_type" mapstructure:"default_type"`
	DefaultHalfLifeDays float64 `json:"default_half_life_days" mapstructure:"default_half_life_days"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Embedder: EmbedderConfig{
			Provider:           "openai",
			Model:              "text-embedding-3-small",
			Dimension:          768,
			RerankProvider:     "none",
			LoadTimeoutSeconds: 300,
			APIKeyEnv:          "OPENAI_API_KEY",
		},
		RRF: RRFConfig{
			K:          60,
			WeightBM25: 1,
			WeightVec:  1,
		},
		Watcher: WatcherConfig{
			Enabled:             true,
			DebounceMs:          2000,
			ScanIntervalSeconds: 60,
		},
		Search: SearchConfig{
			DefaultLimit:        10,
			ContentPreviewBytes: 500,
			OverfetchMultiplier: 3,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is structurally valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Embedder.Provider != "none" && c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder.dimension must be positive when a provider is configured")
	}
	if c.RRF.K <= 0 {
		return fmt.Errorf("rrf.k must be positive")
	}
	if c.RRF.WeightBM25 < 0 || c.RRF.WeightVec < 0 {
		return fmt.Errorf("rrf weights must be non-negative")
	}

	names := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("collection: name is required")
		}
		if col.Root == "" {
			return fmt.Errorf("collection %s: root is required", col.Name)
		}
		if names[col.Name] {
			return fmt.Errorf("collection %s: duplicate name", col.Name)
		}
		names[col.Name] = true
	}

	for _, zone := range c.Zones {
		if zone.Prefix == "" {
			return fmt.Errorf("zone: prefix is required")
		}
		if zone.MaxDepth < 0 || zone.MaxItems < 0 {
			return fmt.Errorf("zone %s: max_depth/max_items must be non-negative", zone.Prefix)
		}
	}

	return nil
}
