package collectors

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/expflow/internal/experiment"
	"github.com/ajitpratap0/expflow/internal/stats"
)

func event(expID uuid.UUID, userID, metric string, value float64) *experiment.MetricEvent {
	return &experiment.MetricEvent{
		ID:           uuid.New(),
		UserID:       userID,
		ExperimentID: expID,
		Metric:       metric,
		Value:        value,
	}
}

func TestSetRouting(t *testing.T) {
	set := NewSet()
	expID := uuid.New()

	set.Collect("control", event(expID, "u1", "confidence", 0.9))
	set.Collect("control", event(expID, "u1", "inference_latency", 12))
	set.Collect("control", event(expID, "u1", "user_action", 1))
	set.Collect("control", event(expID, "u1", "loss", 0.5))
	// Unrecognized metric reaches no collector
	set.Collect("control", event(expID, "u1", "revenue", 9.99))

	results := set.Calculate(expID)
	assert.Contains(t, results, "confidence")
	assert.Contains(t, results, "latency")
	assert.Contains(t, results, "engagement")
	assert.Contains(t, results, "convergence")
	assert.NotContains(t, results, "accuracy")

	// Experiments without data are empty, not nil-panicking
	assert.Empty(t, set.Calculate(uuid.New()))
}

func TestConfidenceCollector(t *testing.T) {
	c := NewConfidence()
	expID := uuid.New()

	assert.True(t, c.Handles(event(expID, "u", "confidence", 0.5)))
	assert.True(t, c.Handles(event(expID, "u", "model_confidence", 0.5)))
	assert.False(t, c.Handles(event(expID, "u", "latency", 0.5)))

	for _, v := range []float64{0.8, 0.9, 1.0} {
		c.Collect("control", event(expID, "u", "confidence", v))
	}
	out := c.Calculate(expID)
	require.Contains(t, out, "control")
	summary := out["control"].(*stats.Summary)
	assert.Equal(t, 3, summary.Count)
	assert.InDelta(t, 0.9, summary.Mean, 1e-9)
}

func TestLatencyCollector(t *testing.T) {
	c := NewLatency()
	expID := uuid.New()

	assert.True(t, c.Handles(event(expID, "u", "latency", 1)))
	assert.True(t, c.Handles(event(expID, "u", "p99_latency", 1)))
	assert.True(t, c.Handles(event(expID, "u", "render_ms", 1)))
	assert.False(t, c.Handles(event(expID, "u", "conversion", 1)))

	for _, v := range []float64{100, 200, 300} {
		c.Collect("treatment", event(expID, "u", "latency", v))
	}
	summary := c.Calculate(expID)["treatment"].(*stats.Summary)
	assert.Equal(t, 200.0, summary.Median)
	assert.Equal(t, 300.0, summary.Max)
}

func TestAccuracyCollector(t *testing.T) {
	c := NewAccuracy()
	expID := uuid.New()

	t.Run("confusion matrix from prediction pairs", func(t *testing.T) {
		pairs := []struct{ predicted, actual float64 }{
			{0.9, 1}, {0.8, 1}, // true positives
			{0.1, 0}, // true negative
			{0.7, 0}, // false positive
			{0.2, 1}, // false negative
		}
		for _, p := range pairs {
			ev := event(expID, "u", "prediction", 0)
			predicted, actual := p.predicted, p.actual
			ev.Predicted = &predicted
			ev.Actual = &actual
			require.True(t, c.Handles(ev))
			c.Collect("control", ev)
		}

		cm := c.Calculate(expID)["control"].(*ConfusionMatrix)
		assert.Equal(t, 2, cm.TruePositives)
		assert.Equal(t, 1, cm.TrueNegatives)
		assert.Equal(t, 1, cm.FalsePositives)
		assert.Equal(t, 1, cm.FalseNegatives)
		assert.InDelta(t, 0.6, cm.Accuracy, 1e-9)
		assert.InDelta(t, 2.0/3.0, cm.Precision, 1e-9)
		assert.InDelta(t, 2.0/3.0, cm.Recall, 1e-9)
		assert.InDelta(t, 2.0/3.0, cm.F1, 1e-9)
	})

	t.Run("bare accuracy metric thresholds value", func(t *testing.T) {
		other := uuid.New()
		c.Collect("control", event(other, "u", "accuracy", 1))
		c.Collect("control", event(other, "u", "accuracy", 0))

		cm := c.Calculate(other)["control"].(*ConfusionMatrix)
		assert.Equal(t, 1, cm.TruePositives)
		assert.Equal(t, 1, cm.TrueNegatives)
		assert.InDelta(t, 1.0, cm.Accuracy, 1e-9)
	})

	t.Run("handles suffixed names", func(t *testing.T) {
		assert.True(t, c.Handles(event(expID, "u", "top1_accuracy", 1)))
		assert.False(t, c.Handles(event(expID, "u", "conversion", 1)))
	})
}

func TestConvergenceCollector(t *testing.T) {
	expID := uuid.New()

	t.Run("flat full window converges", func(t *testing.T) {
		c := NewConvergence(5, 0.01)
		for i := 0; i < 10; i++ {
			c.Collect("control", event(expID, "u", "loss", 0.25))
		}
		status := c.Calculate(expID)["control"].(*ConvergenceStatus)
		assert.Equal(t, 10, status.Samples)
		assert.InDelta(t, 0.25, status.MovingAverage, 1e-9)
		assert.True(t, status.Converged)
	})

	t.Run("short series never converges", func(t *testing.T) {
		c := NewConvergence(5, 0.01)
		c.Collect("control", event(expID, "u", "loss", 0.25))
		c.Collect("control", event(expID, "u", "loss", 0.25))
		status := c.Calculate(expID)["control"].(*ConvergenceStatus)
		assert.False(t, status.Converged)
	})

	t.Run("noisy window does not converge", func(t *testing.T) {
		c := NewConvergence(5, 0.01)
		for i := 0; i < 10; i++ {
			c.Collect("control", event(expID, "u", "loss", float64(i)))
		}
		status := c.Calculate(expID)["control"].(*ConvergenceStatus)
		assert.False(t, status.Converged)
	})

	t.Run("rate reflects variance decay", func(t *testing.T) {
		c := NewConvergence(5, 0.01)
		// Wild first half, settled second half
		for _, v := range []float64{10, 0, 10, 0, 5, 5, 5, 5} {
			c.Collect("control", event(expID, "u", "loss", v))
		}
		status := c.Calculate(expID)["control"].(*ConvergenceStatus)
		assert.InDelta(t, 1.0, status.Rate, 1e-9)
	})

	t.Run("handles loss metrics only", func(t *testing.T) {
		c := NewConvergence(5, 0.01)
		assert.True(t, c.Handles(event(expID, "u", "loss", 1)))
		assert.True(t, c.Handles(event(expID, "u", "training_loss", 1)))
		assert.True(t, c.Handles(event(expID, "u", "convergence", 1)))
		assert.False(t, c.Handles(event(expID, "u", "latency", 1)))
	})
}

func TestEngagementCollector(t *testing.T) {
	c := NewEngagement()
	expID := uuid.New()

	c.Collect("control", event(expID, "alice", "user_action", 1))
	c.Collect("control", event(expID, "alice", "user_action", 1))
	c.Collect("control", event(expID, "bob", "user_action", 1))
	c.Collect("control", event(expID, "carol", "session_delta", 30))
	c.Collect("control", event(expID, "carol", "session_delta", 60))

	summary := c.Calculate(expID)["control"].(*EngagementSummary)
	assert.Equal(t, 3, summary.Users)
	assert.Equal(t, 3, summary.TotalActions)
	assert.InDelta(t, 1.0, summary.ActionsPerUser, 1e-9)
	assert.Equal(t, 2, summary.SessionDeltaCount)
	assert.InDelta(t, 45.0, summary.AvgSessionDelta, 1e-9)
}
