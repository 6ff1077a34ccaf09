// Package shadow implements shadow-mode metric recording: events for a
// shadow-flagged experiment are duplicated into an isolated store so a new
// strategy or metric pipeline can be validated against live traffic without
// influencing real assignment or the primary analysis.
package shadow

import (
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// MetricSnapshot summarizes one shadow-recorded metric bucket
type MetricSnapshot struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Sum   float64 `json:"sum"`
}

type shadowKey struct {
	experimentID uuid.UUID
	variant      string
	metric       string
}

// Controller owns the isolated shadow store. Recorded events are tagged
// shadow and never reach the primary metric store or the statistical
// engines.
type Controller struct {
	mu     sync.RWMutex
	events map[shadowKey][]float64
}

// NewController creates an empty shadow controller
func NewController() *Controller {
	return &Controller{events: make(map[shadowKey][]float64)}
}

// Record stores a shadow copy of one metric event
func (c *Controller) Record(variant string, ev *experiment.MetricEvent) {
	key := shadowKey{ev.ExperimentID, variant, ev.Metric}
	c.mu.Lock()
	c.events[key] = append(c.events[key], ev.Value)
	c.mu.Unlock()
}

// Snapshot aggregates the shadow store for one experiment, keyed by variant
// then metric
func (c *Controller) Snapshot(experimentID uuid.UUID) map[string]map[string]*MetricSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]map[string]*MetricSnapshot)
	for key, values := range c.events {
		if key.experimentID != experimentID || len(values) == 0 {
			continue
		}
		byMetric, ok := out[key.variant]
		if !ok {
			byMetric = make(map[string]*MetricSnapshot)
			out[key.variant] = byMetric
		}
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		byMetric[key.metric] = &MetricSnapshot{
			Count: len(values),
			Mean:  stat.Mean(values, nil),
			Sum:   sum,
		}
	}
	return out
}

// Count returns the number of shadow events recorded for an experiment
func (c *Controller) Count(experimentID uuid.UUID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for key, values := range c.events {
		if key.experimentID == experimentID {
			total += len(values)
		}
	}
	return total
}
