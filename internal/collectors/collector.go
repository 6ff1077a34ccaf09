// Package collectors implements the ML-oriented metric collectors. Each
// collector accumulates raw events per (experiment, variant) and computes
// derived statistics on demand; the Set routes incoming events to every
// collector that recognizes the metric.
package collectors

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// Collector accumulates events and aggregates them per variant
type Collector interface {
	Name() string
	// Handles reports whether the collector wants this event
	Handles(ev *experiment.MetricEvent) bool
	// Collect appends one event for the variant the user is assigned to
	Collect(variant string, ev *experiment.MetricEvent)
	// Calculate aggregates the accumulated data per variant
	Calculate(experimentID uuid.UUID) map[string]any
}

// Set is the default collector lineup
type Set struct {
	collectors []Collector
}

// NewSet creates the standard five collectors
func NewSet() *Set {
	return &Set{collectors: []Collector{
		NewConfidence(),
		NewLatency(),
		NewAccuracy(),
		NewConvergence(defaultWindow, defaultThreshold),
		NewEngagement(),
	}}
}

// Collect routes an event to every collector that handles it
func (s *Set) Collect(variant string, ev *experiment.MetricEvent) {
	for _, c := range s.collectors {
		if c.Handles(ev) {
			c.Collect(variant, ev)
		}
	}
}

// Calculate aggregates every collector's view of an experiment, keyed by
// collector name then variant. Collectors with no data for the experiment
// are omitted.
func (s *Set) Calculate(experimentID uuid.UUID) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, c := range s.collectors {
		if byVariant := c.Calculate(experimentID); len(byVariant) > 0 {
			out[c.Name()] = byVariant
		}
	}
	return out
}

// bucketKey identifies one (experiment, variant) accumulation bucket
type bucketKey struct {
	experimentID uuid.UUID
	variant      string
}

// series is a concurrency-safe append-only map of float64 series per bucket
type series struct {
	mu   sync.RWMutex
	data map[bucketKey][]float64
}

func newSeries() *series {
	return &series{data: make(map[bucketKey][]float64)}
}

func (s *series) append(experimentID uuid.UUID, variant string, v float64) {
	key := bucketKey{experimentID, variant}
	s.mu.Lock()
	s.data[key] = append(s.data[key], v)
	s.mu.Unlock()
}

// forExperiment returns a copy of every variant's series for an experiment
func (s *series) forExperiment(experimentID uuid.UUID) map[string][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float64)
	for key, values := range s.data {
		if key.experimentID != experimentID {
			continue
		}
		cp := make([]float64, len(values))
		copy(cp, values)
		out[key.variant] = cp
	}
	return out
}
