package collectors

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/expflow/internal/experiment"
	"github.com/ajitpratap0/expflow/internal/stats"
)

// Latency accumulates operation latencies and summarizes them per variant;
// the percentiles in the summary are what latency experiments usually
// decide on
type Latency struct {
	values *series
}

// NewLatency creates a latency collector
func NewLatency() *Latency {
	return &Latency{values: newSeries()}
}

func (c *Latency) Name() string { return "latency" }

func (c *Latency) Handles(ev *experiment.MetricEvent) bool {
	return ev.Metric == "latency" || strings.HasSuffix(ev.Metric, "_latency") || strings.HasSuffix(ev.Metric, "_ms")
}

func (c *Latency) Collect(variant string, ev *experiment.MetricEvent) {
	c.values.append(ev.ExperimentID, variant, ev.Value)
}

func (c *Latency) Calculate(experimentID uuid.UUID) map[string]any {
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
