package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy = StrategyStratified
	cfg.Targeting = map[string]string{"tier": "premium"}
	def := Export(cfg)

	assert.Equal(t, SchemaVersion, def.SchemaVersion)
	assert.False(t, def.ExportedAt.IsZero())

	t.Run("yaml", func(t *testing.T) {
		data, err := def.ToYAML()
		require.NoError(t, err)

		parsed, err := ParseDefinition(data)
		require.NoError(t, err)
		assert.Equal(t, cfg.Name, parsed.Experiment.Name)
		assert.Equal(t, StrategyStratified, parsed.Experiment.Strategy)
		assert.Equal(t, "premium", parsed.Experiment.Targeting["tier"])
	})

	t.Run("json", func(t *testing.T) {
		data, err := def.ToJSON()
		require.NoError(t, err)

		parsed, err := ParseDefinition(data)
		require.NoError(t, err)
		assert.Equal(t, cfg.Name, parsed.Experiment.Name)
	})
}

func TestParseDefinitionErrors(t *testing.T) {
	t.Run("missing schema version", func(t *testing.T) {
		_, err := ParseDefinition([]byte(`experiment: {name: x}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema_version")
	})

	t.Run("invalid embedded config", func(t *testing.T) {
		data := []byte(`
schema_version: "1.0"
experiment:
  name: broken
  variants:
    - {name: only, weight: 1}
  primary_metric: conversion
`)
		_, err := ParseDefinition(data)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("garbage input", func(t *testing.T) {
		_, err := ParseDefinition([]byte(`{{{`))
		assert.Error(t, err)
	})
}

func TestMigrate(t *testing.T) {
	t.Run("current version is a no-op", func(t *testing.T) {
		def := &Definition{SchemaVersion: SchemaVersion}
		require.NoError(t, Migrate(def))
		assert.Equal(t, SchemaVersion, def.SchemaVersion)
	})

	t.Run("newer version rejected", func(t *testing.T) {
		def := &Definition{SchemaVersion: "9.0"}
		err := Migrate(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "newer")
	})

	t.Run("different major rejected", func(t *testing.T) {
		def := &Definition{SchemaVersion: "0.9"}
		err := Migrate(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no migration path")
	})

	t.Run("nil rejected", func(t *testing.T) {
		assert.Error(t, Migrate(nil))
	})
}

func TestToConfig(t *testing.T) {
	exp := &Experiment{
		Name: "search-ranking",
		Variants: []Variant{
			{Name: "control", Weight: 3, Normalized: 0.75},
			{Name: "treatment", Weight: 1, Normalized: 0.25},
		},
		PrimaryMetric:     "click_through",
		PrimaryMetricType: MetricBinary,
		Strategy:          StrategyDeterministic,
		Correction:        CorrectionHolm,
		EnableBayesian:    true,
	}

	cfg := exp.ToConfig()
	require.NoError(t, ValidateConfig(cfg))
	assert.Equal(t, exp.Name, cfg.Name)
	assert.Equal(t, 3.0, cfg.Variants[0].Weight)
	assert.True(t, cfg.EnableBayesian)
}
