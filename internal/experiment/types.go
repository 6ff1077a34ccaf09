// Package experiment defines the experiment data model and the in-memory
// repositories (registry, assignment table, metric store) that back the
// experimentation engine.
package experiment

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an experiment
type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

// MetricType classifies a metric for statistical test selection
type MetricType string

const (
	MetricBinary     MetricType = "binary"
	MetricContinuous MetricType = "continuous"
)

// StrategyKind identifies an assignment strategy. The set is closed;
// the assignment package switches exhaustively over it.
type StrategyKind string

const (
	StrategyRandom        StrategyKind = "random"
	StrategyDeterministic StrategyKind = "deterministic"
	StrategyStratified    StrategyKind = "stratified"
	StrategyBandit        StrategyKind = "bandit"
	StrategyContextual    StrategyKind = "contextual"
)

// CorrectionMethod selects the multiple-testing correction applied to
// secondary metric p-values
type CorrectionMethod string

const (
	CorrectionBonferroni CorrectionMethod = "bonferroni"
	CorrectionHolm       CorrectionMethod = "holm"
)

// VariantConfig is the caller-supplied definition of one treatment arm
type VariantConfig struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Variant is one treatment arm of an experiment. Normalized is derived
// at creation time and never mutated afterwards.
type Variant struct {
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	Normalized float64 `json:"normalized_weight"`
}

// Config is the caller-supplied experiment definition
type Config struct {
	Name              string            `json:"name" yaml:"name"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`
	Variants          []VariantConfig   `json:"variants" yaml:"variants"`
	PrimaryMetric     string            `json:"primary_metric" yaml:"primary_metric"`
	PrimaryMetricType MetricType        `json:"primary_metric_type,omitempty" yaml:"primary_metric_type,omitempty"`
	SecondaryMetrics  []string          `json:"secondary_metrics,omitempty" yaml:"secondary_metrics,omitempty"`
	Strategy          StrategyKind      `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Targeting         map[string]string `json:"targeting,omitempty" yaml:"targeting,omitempty"`
	Correction        CorrectionMethod  `json:"correction,omitempty" yaml:"correction,omitempty"`

	// Power analysis inputs
	BaselineRate        float64 `json:"baseline_rate,omitempty" yaml:"baseline_rate,omitempty"`
	MinDetectableEffect float64 `json:"min_detectable_effect,omitempty" yaml:"min_detectable_effect,omitempty"`
	Confidence          float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Power               float64 `json:"power,omitempty" yaml:"power,omitempty"`
	StdDev              float64 `json:"std_dev,omitempty" yaml:"std_dev,omitempty"`
	TrafficPerDay       float64 `json:"traffic_per_day,omitempty" yaml:"traffic_per_day,omitempty"`

	// Optional engine features
	EnableBayesian   bool          `json:"enable_bayesian,omitempty" yaml:"enable_bayesian,omitempty"`
	EnableSequential bool          `json:"enable_sequential,omitempty" yaml:"enable_sequential,omitempty"`
	ShadowMode       bool          `json:"shadow_mode,omitempty" yaml:"shadow_mode,omitempty"`
	MaxDuration      time.Duration `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
}

// Experiment is a registered experiment. Definition fields are immutable
// after creation; only Status, EndedAt and StopReason transition, and only
// through Registry.Stop.
type Experiment struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Status            Status            `json:"status"`
	Variants          []Variant         `json:"variants"`
	PrimaryMetric     string            `json:"primary_metric"`
	PrimaryMetricType MetricType        `json:"primary_metric_type"`
	SecondaryMetrics  []string          `json:"secondary_metrics,omitempty"`
	Strategy          StrategyKind      `json:"strategy"`
	Targeting         map[string]string `json:"targeting,omitempty"`
	Correction        CorrectionMethod  `json:"correction"`

	RequiredSampleSize int           `json:"required_sample_size"`
	PerVariantSamples  int           `json:"per_variant_samples"`
	MinRuntime         time.Duration `json:"min_runtime"`
	MaxDuration        time.Duration `json:"max_duration,omitempty"`

	EnableBayesian   bool `json:"enable_bayesian"`
	EnableSequential bool `json:"enable_sequential"`
	ShadowMode       bool `json:"shadow_mode"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// VariantNames returns the variant names in declaration order
func (e *Experiment) VariantNames() []string {
	names := make([]string, len(e.Variants))
	for i, v := range e.Variants {
		names[i] = v.Name
	}
	return names
}

// HasVariant reports whether name is one of the experiment's variants
func (e *Experiment) HasVariant(name string) bool {
	for _, v := range e.Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}

// MetricNames returns the primary metric followed by the secondary metrics
func (e *Experiment) MetricNames() []string {
	return append([]string{e.PrimaryMetric}, e.SecondaryMetrics...)
}

// TracksMetric reports whether the experiment declared the metric as
// primary or secondary
func (e *Experiment) TracksMetric(metric string) bool {
	if metric == e.PrimaryMetric {
		return true
	}
	for _, m := range e.SecondaryMetrics {
		if m == metric {
			return true
		}
	}
	return false
}

// ToConfig reconstructs the creatable config from a registered experiment,
// used when exporting a definition
func (e *Experiment) ToConfig() Config {
	variants := make([]VariantConfig, len(e.Variants))
	for i, v := range e.Variants {
		variants[i] = VariantConfig{Name: v.Name, Weight: v.Weight}
	}
	return Config{
		Name:              e.Name,
		Description:       e.Description,
		Variants:          variants,
		PrimaryMetric:     e.PrimaryMetric,
		PrimaryMetricType: e.PrimaryMetricType,
		SecondaryMetrics:  e.SecondaryMetrics,
		Strategy:          e.Strategy,
		Targeting:         e.Targeting,
		Correction:        e.Correction,
		EnableBayesian:    e.EnableBayesian,
		EnableSequential:  e.EnableSequential,
		ShadowMode:        e.ShadowMode,
		MaxDuration:       e.MaxDuration,
	}
}

// UserContext carries the per-user signals consulted during assignment:
// targeting attributes, the stratification segment, and the feature values
// used by the contextual bandit.
type UserContext struct {
	Segment    string            `json:"segment,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	FileSize   float64           `json:"file_size,omitempty"`
	PowerUser  bool              `json:"power_user,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MatchesTargeting evaluates the experiment's targeting rules against the
// user context. Every rule must match; an experiment without rules matches
// all users.
func (e *Experiment) MatchesTargeting(uctx UserContext) bool {
	for key, want := range e.Targeting {
		if uctx.Attributes[key] != want {
			return false
		}
	}
	return true
}

// MetricEvent is one observation reported for a user in an experiment.
// Accuracy metrics carry a predicted/actual pair instead of a plain value.
type MetricEvent struct {
	ID           uuid.UUID         `json:"id"`
	UserID       string            `json:"user_id"`
	ExperimentID uuid.UUID         `json:"experiment_id"`
	Metric       string            `json:"metric"`
	Value        float64           `json:"value"`
	Predicted    *float64          `json:"predicted,omitempty"`
	Actual       *float64          `json:"actual,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Shadow       bool              `json:"shadow,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Sample is one recorded observation in the per-variant metric store
type Sample struct {
	UserID    string
	Value     float64
	Predicted *float64
	Actual    *float64
	Timestamp time.Time
}
