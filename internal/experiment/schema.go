package experiment

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the current experiment definition schema version
const SchemaVersion = "1.0"

// Definition is the exportable form of an experiment configuration. It lets
// a vetted experiment be shared between environments or kept as a backup,
// and is versioned so older exports can be migrated forward.
type Definition struct {
	SchemaVersion string    `yaml:"schema_version" json:"schema_version"`
	ExportedAt    time.Time `yaml:"exported_at,omitempty" json:"exported_at,omitempty"`
	Source        string    `yaml:"source,omitempty" json:"source,omitempty"`
	Experiment    Config    `yaml:"experiment" json:"experiment"`
}

// Export wraps an experiment config into a versioned definition
func Export(cfg Config) *Definition {
	return &Definition{
		SchemaVersion: SchemaVersion,
		ExportedAt:    time.Now().UTC(),
		Source:        "expflow",
		Experiment:    cfg,
	}
}

// ToYAML serializes the definition as YAML
func (d *Definition) ToYAML() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition: %w", err)
	}
	return out, nil
}

// ToJSON serializes the definition as indented JSON
func (d *Definition) ToJSON() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition: %w", err)
	}
	return out, nil
}

// ParseDefinition deserializes a YAML or JSON definition, migrates it to the
// current schema version, and validates the embedded experiment config.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		if jsonErr := json.Unmarshal(data, &def); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse definition: %w", err)
		}
	}
	if def.SchemaVersion == "" {
		return nil, fmt.Errorf("definition missing schema_version")
	}
	if err := Migrate(&def); err != nil {
		return nil, err
	}
	if err := ValidateConfig(def.Experiment); err != nil {
		return nil, err
	}
	return &def, nil
}
