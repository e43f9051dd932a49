package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// zoneCollectionSchema validates the shape of the zones/collections arrays
// loaded from a config file, mirroring the teacher's use of gojsonschema to
// validate structured manifest sections before they are applied.
const zoneCollectionSchema = `{
  "type": "object",
  "properties": {
    "collections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "root"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "root": {"type": "string", "minLength": 1},
          "glob": {"type": "string"}
        }
      }
    },
    "zones": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["prefix"],
        "properties": {
          "prefix": {"type": "string", "minLength": 1},
          "max_depth": {"type": "integer", "minimum": 0},
          "max_items": {"type": "integer", "minimum": 0},
          "default_type": {"type": "string"},
          "default_half_life_days": {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

// ValidateZonesAndCollections validates cfg.Collections and cfg.Zones against
// a JSON Schema before they are applied at engine.Initialize.
func ValidateZonesAndCollections(cfg *Config) error {
	doc := map[string]interface{}{
		"collections": cfg.Collections,
		"zones":       cfg.Zones,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal zones/collections for validation: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(zoneCollectionSchema)
	docLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("zones/collections invalid: %s", strings.Join(msgs, "; "))
	}

	return cfg.Validate()
}

// Validator validates individual configuration values.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates a log level string.
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateEmbedderProvider validates the configured embedding provider name.
func (v *Validator) ValidateEmbedderProvider(provider string) error {
	validProviders := []string{"openai", "anthropic", "none"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid embedder provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateZonePrefix validates a zone prefix is a non-empty dotted key path.
func (v *Validator) ValidateZonePrefix(prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("zone prefix cannot be empty")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("zone prefix %q cannot contain '..'", prefix)
	}
	return nil
}
