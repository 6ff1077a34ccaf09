package collectors

import (
	"math"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

const (
	defaultWindow    = 20
	defaultThreshold = 0.01
)

// ConvergenceStatus reports whether a tracked signal has settled: the
// moving average over the recent window, whether its standard deviation has
// dropped below the threshold, and a convergence rate estimated from
// variance decay between the first and second half of the series.
type ConvergenceStatus struct {
	Samples       int     `json:"samples"`
	MovingAverage float64 `json:"moving_average"`
	WindowStdDev  float64 `json:"window_std_dev"`
	Converged     bool    `json:"converged"`
	Rate          float64 `json:"rate"`
}

// Convergence tracks a signal's moving average and flags convergence when
// the recent window stops moving
type Convergence struct {
	window    int
	threshold float64
	values    *series
}

// NewConvergence creates a convergence collector
func NewConvergence(window int, threshold float64) *Convergence {
	if window <= 1 {
		window = defaultWindow
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Convergence{window: window, threshold: threshold, values: newSeries()}
}

func (c *Convergence) Name() string { return "convergence" }

func (c *Convergence) Handles(ev *experiment.MetricEvent) bool {
	return ev.Metric == "convergence" || ev.Metric == "loss" || strings.HasSuffix(ev.Metric, "_loss")
}

func (c *Convergence) Collect(variant string, ev *experiment.MetricEvent) {
	c.values.append(ev.ExperimentID, variant, ev.Value)
}

func (c *Convergence) Calculate(experimentID uuid.UUID) map[string]any {
	out := make(map[string]any)
	for variant, values := range c.values.forExperiment(experimentID) {
		out[variant] = c.status(values)
	}
	return out
}

func (c *Convergence) status(values []float64) *ConvergenceStatus {
	status := &ConvergenceStatus{Samples: len(values)}
	if len(values) == 0 {
		return status
	}

	window := values
	if len(values) > c.window {
		window = values[len(values)-c.window:]
	}
	mean, variance := stat.MeanVariance(window, nil)
	if len(window) == 1 {
		variance = 0
	}
	status.MovingAverage = mean
	status.WindowStdDev = sqrtNonNeg(variance)
	// Convergence needs a full window; a short series that happens to be
	// flat is not evidence of settling
	status.Converged = len(values) >= c.window && status.WindowStdDev < c.threshold

	// Variance decay between halves approximates the convergence rate
	if len(values) >= 4 {
		half := len(values) / 2
		_, vFirst := stat.MeanVariance(values[:half], nil)
		_, vSecond := stat.MeanVariance(values[half:], nil)
		if vFirst > 0 {
			status.Rate = (vFirst - vSecond) / vFirst
		}
	}
	return status
}

func sqrtNonNeg(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
