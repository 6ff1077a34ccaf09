package collectors

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/expflow/internal/experiment"
	"github.com/ajitpratap0/expflow/internal/stats"
)

// Confidence accumulates model confidence scores and summarizes them with
// mean, spread, and percentiles per variant
type Confidence struct {
	values *series
}

// NewConfidence creates a confidence collector
func NewConfidence() *Confidence {
	return &Confidence{values: newSeries()}
}

func (c *Confidence) Name() string { return "confidence" }

func (c *Confidence) Handles(ev *experiment.MetricEvent) bool {
	return ev.Metric == "confidence" || strings.HasSuffix(ev.Metric, "_confidence")
}

func (c *Confidence) Collect(variant string, ev *experiment.MetricEvent) {
	c.values.append(ev.ExperimentID, variant, ev.Value)
}

func (c *Confidence) Calculate(experimentID uuid.UUID) map[string]any {
	out := make(map[string]any)
	for variant, values := range c.values.forExperiment(experimentID) {
		summary, err := stats.Describe(values)
		if err != nil {
			continue
		}
		out[variant] = summary
	}
	return out
}
