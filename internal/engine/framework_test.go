package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/expflow/internal/experiment"
	"github.com/ajitpratap0/expflow/internal/telemetry"
)

func newTestFramework(t *testing.T) *Framework {
	t.Helper()
	return New(Options{
		Rand:      rand.New(rand.NewSource(42)),
		BayesSeed: 42,
	})
}

func basicConfig() experiment.Config {
	return experiment.Config{
		Name: "checkout-flow",
		Variants: []experiment.VariantConfig{
			{Name: "control", Weight: 1},
			{Name: "treatment", Weight: 1},
		},
		PrimaryMetric:       "conversion",
		PrimaryMetricType:   experiment.MetricBinary,
		BaselineRate:        0.10,
		MinDetectableEffect: 0.10,
	}
}

func TestCreateExperiment(t *testing.T) {
	t.Run("normalizes weights to sum 1", func(t *testing.T) {
		f := newTestFramework(t)
		cfg := basicConfig()
		cfg.Variants = []experiment.VariantConfig{
			{Name: "a", Weight: 3},
			{Name: "b", Weight: 1},
		}
		exp, err := f.CreateExperiment(context.Background(), cfg)
		require.NoError(t, err)

		sum := 0.0
		for _, v := range exp.Variants {
			sum += v.Normalized
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.InDelta(t, 0.75, exp.Variants[0].Normalized, 1e-9)
	})

	t.Run("computes required sample size", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)
		assert.Greater(t, exp.RequiredSampleSize, 0)
		assert.Equal(t, experiment.StatusActive, exp.Status)
	})

	t.Run("rejects invalid config without partial state", func(t *testing.T) {
		f := newTestFramework(t)
		cfg := basicConfig()
		cfg.Variants = cfg.Variants[:1]
		_, err := f.CreateExperiment(context.Background(), cfg)
		require.Error(t, err)
		assert.True(t, experiment.IsValidation(err))
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("empty strategy defaults to deterministic", func(t *testing.T) {
		f := newTestFramework(t)
		cfg := basicConfig()
		cfg.Strategy = ""
		exp, err := f.CreateExperiment(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, experiment.StrategyDeterministic, exp.Strategy)
	})
}

func TestAssignUser(t *testing.T) {
	t.Run("idempotent per user", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		first, err := f.AssignUser(context.Background(), "user-1", exp.ID, experiment.UserContext{})
		require.NoError(t, err)
		require.NotEmpty(t, first)

		for i := 0; i < 20; i++ {
			again, err := f.AssignUser(context.Background(), "user-1", exp.ID, experiment.UserContext{})
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("unknown experiment yields empty assignment", func(t *testing.T) {
		f := newTestFramework(t)
		variant, err := f.AssignUser(context.Background(), "user-1", uuid.New(), experiment.UserContext{})
		require.NoError(t, err)
		assert.Empty(t, variant)
	})

	t.Run("stopped experiment yields empty assignment", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)
		_, err = f.StopExperiment(context.Background(), exp.ID, StopOptions{})
		require.NoError(t, err)

		variant, err := f.AssignUser(context.Background(), "user-1", exp.ID, experiment.UserContext{})
		require.NoError(t, err)
		assert.Empty(t, variant)
	})

	t.Run("targeting mismatch yields empty assignment", func(t *testing.T) {
		f := newTestFramework(t)
		cfg := basicConfig()
		cfg.Targeting = map[string]string{"tier": "premium"}
		exp, err := f.CreateExperiment(context.Background(), cfg)
		require.NoError(t, err)

		variant, err := f.AssignUser(context.Background(), "user-1", exp.ID, experiment.UserContext{
			Attributes: map[string]string{"tier": "free"},
		})
		require.NoError(t, err)
		assert.Empty(t, variant)

		variant, err = f.AssignUser(context.Background(), "user-2", exp.ID, experiment.UserContext{
			Attributes: map[string]string{"tier": "premium"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, variant)
	})

	t.Run("deterministic split stays near configured weights", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		for i := 0; i < 1000; i++ {
			_, err := f.AssignUser(context.Background(), fmt.Sprintf("user-%d", i), exp.ID, experiment.UserContext{})
			require.NoError(t, err)
		}
		counts := f.AssignmentCounts(exp.ID)
		assert.Equal(t, 1000, counts["control"]+counts["treatment"])
		// 50/50 weights: each arm within 5 points of 500
		assert.InDelta(t, 500, counts["control"], 50)
		assert.InDelta(t, 500, counts["treatment"], 50)
	})
}

func TestTrackMetric(t *testing.T) {
	t.Run("no-op without assignment", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		f.TrackMetric(context.Background(), &experiment.MetricEvent{
			UserID:       "ghost",
			ExperimentID: exp.ID,
			Metric:       "conversion",
			Value:        1,
		})
		assert.False(t, f.metrics.HasData(exp.ID))
	})

	t.Run("records after assignment", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		variant, err := f.AssignUser(context.Background(), "user-1", exp.ID, experiment.UserContext{})
		require.NoError(t, err)
		f.TrackMetric(context.Background(), &experiment.MetricEvent{
			UserID:       "user-1",
			ExperimentID: exp.ID,
			Metric:       "conversion",
			Value:        1,
		})
		assert.Equal(t, 1, f.metrics.Count(exp.ID, variant, "conversion"))
	})

	t.Run("shadow events stay out of the primary store", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		_, err = f.AssignUser(context.Background(), "user-1", exp.ID, experiment.UserContext{})
		require.NoError(t, err)
		f.TrackMetric(context.Background(), &experiment.MetricEvent{
			UserID:       "user-1",
			ExperimentID: exp.ID,
			Metric:       "conversion",
			Value:        1,
			Shadow:       true,
		})
		assert.False(t, f.metrics.HasData(exp.ID))
		assert.Equal(t, 1, f.shadow.Count(exp.ID))
	})
}

func TestAnalyzeExperiment(t *testing.T) {
	t.Run("insufficient data without samples", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		result, err := f.AnalyzeExperiment(context.Background(), exp.ID)
		require.NoError(t, err)
		assert.Equal(t, AnalysisInsufficientData, result.Status)
		assert.Empty(t, result.Tests)
	})

	t.Run("identical samples show no effect", func(t *testing.T) {
		f := newTestFramework(t)
		cfg := basicConfig()
		cfg.PrimaryMetric = "latency"
		cfg.PrimaryMetricType = experiment.MetricContinuous
		cfg.StdDev = 10
		exp, err := f.CreateExperiment(context.Background(), cfg)
		require.NoError(t, err)

		for i := 0; i < 200; i++ {
			userID := fmt.Sprintf("user-%d", i)
			_, err := f.AssignUser(context.Background(), userID, exp.ID, experiment.UserContext{})
			require.NoError(t, err)
			f.TrackMetric(context.Background(), &experiment.MetricEvent{
				UserID:       userID,
				ExperimentID: exp.ID,
				Metric:       "latency",
				Value:        42.0,
			})
		}

		result, err := f.AnalyzeExperiment(context.Background(), exp.ID)
		require.NoError(t, err)
		require.Equal(t, AnalysisComplete, result.Status)
		require.Len(t, result.Tests, 1)
		assert.InDelta(t, 1.0, result.Tests[0].PValue, 1e-9)
		assert.InDelta(t, 0.0, result.Tests[0].EffectSize, 1e-9)
		assert.False(t, result.Tests[0].Significant)
	})

	t.Run("conversion scenario analyzes cleanly", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		// 100/500 control conversions vs 140/500 treatment conversions
		track := func(userID string, converted bool) {
			value := 0.0
			if converted {
				value = 1.0
			}
			f.TrackMetric(context.Background(), &experiment.MetricEvent{
				UserID:       userID,
				ExperimentID: exp.ID,
				Metric:       "conversion",
				Value:        value,
			})
		}
		controlSeen, treatmentSeen := 0, 0
		for i := 0; controlSeen < 500 || treatmentSeen < 500; i++ {
			userID := fmt.Sprintf("user-%d", i)
			variant, err := f.AssignUser(context.Background(), userID, exp.ID, experiment.UserContext{})
			require.NoError(t, err)
			switch variant {
			case "control":
				if controlSeen < 500 {
					track(userID, controlSeen < 100)
					controlSeen++
				}
			case "treatment":
				if treatmentSeen < 500 {
					track(userID, treatmentSeen < 140)
					treatmentSeen++
				}
			}
		}

		result, err := f.AnalyzeExperiment(context.Background(), exp.ID)
		require.NoError(t, err)
		require.Equal(t, AnalysisComplete, result.Status)
		require.Len(t, result.Tests, 1)

		test := result.Tests[0]
		assert.InDelta(t, 0.20, test.ControlMean, 1e-9)
		assert.InDelta(t, 0.28, test.TreatmentMean, 1e-9)
		assert.Greater(t, test.Statistic, 0.0)
		assert.False(t, math.IsNaN(test.PValue))
		require.NotNil(t, result.SRM)
		assert.False(t, result.SRM.Mismatch)
	})

	t.Run("bayesian engine runs when enabled", func(t *testing.T) {
		f := newTestFramework(t)
		cfg := basicConfig()
		cfg.EnableBayesian = true
		exp, err := f.CreateExperiment(context.Background(), cfg)
		require.NoError(t, err)

		for i := 0; i < 400; i++ {
			userID := fmt.Sprintf("user-%d", i)
			variant, err := f.AssignUser(context.Background(), userID, exp.ID, experiment.UserContext{})
			require.NoError(t, err)
			value := 0.0
			if variant == "treatment" && i%3 == 0 {
				value = 1.0
			} else if variant == "control" && i%10 == 0 {
				value = 1.0
			}
			f.TrackMetric(context.Background(), &experiment.MetricEvent{
				UserID:       userID,
				ExperimentID: exp.ID,
				Metric:       "conversion",
				Value:        value,
			})
		}

		result, err := f.AnalyzeExperiment(context.Background(), exp.ID)
		require.NoError(t, err)
		require.NotNil(t, result.Bayesian)
		assert.Equal(t, "treatment", result.Bayesian.Best)

		probSum := 0.0
		for _, vp := range result.Bayesian.Variants {
			probSum += vp.ProbabilityBest
		}
		assert.InDelta(t, 1.0, probSum, 1e-9)
	})

	t.Run("cached result retrievable", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		_, ok := f.LastResult(exp.ID)
		assert.False(t, ok)

		_, err = f.AnalyzeExperiment(context.Background(), exp.ID)
		require.NoError(t, err)
		cached, ok := f.LastResult(exp.ID)
		require.True(t, ok)
		assert.Equal(t, exp.ID, cached.ExperimentID)
	})
}

func TestStopExperiment(t *testing.T) {
	t.Run("returns final analysis", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		stopped, err := f.StopExperiment(context.Background(), exp.ID, StopOptions{Reason: "done"})
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusStopped, stopped.Experiment.Status)
		assert.NotNil(t, stopped.Experiment.EndedAt)
		require.NotNil(t, stopped.Results)
	})

	t.Run("second stop errors", func(t *testing.T) {
		f := newTestFramework(t)
		exp, err := f.CreateExperiment(context.Background(), basicConfig())
		require.NoError(t, err)

		_, err = f.StopExperiment(context.Background(), exp.ID, StopOptions{})
		require.NoError(t, err)
		_, err = f.StopExperiment(context.Background(), exp.ID, StopOptions{})
		require.ErrorIs(t, err, experiment.ErrNotActive)
	})
}

func TestSequentialAutoStop(t *testing.T) {
	f := newTestFramework(t)
	cfg := basicConfig()
	cfg.EnableSequential = true
	// Small MDE keeps the required sample size large so early events sit in
	// stage one, where the O'Brien-Fleming boundary is far out of reach
	cfg.MinDetectableEffect = 0.05
	exp, err := f.CreateExperiment(context.Background(), cfg)
	require.NoError(t, err)

	// Moderate, balanced data: no stop
	for i := 0; i < 100; i++ {
		userID := fmt.Sprintf("user-%d", i)
		_, err := f.AssignUser(context.Background(), userID, exp.ID, experiment.UserContext{})
		require.NoError(t, err)
		value := 0.0
		if i%10 == 0 {
			value = 1.0
		}
		f.TrackMetric(context.Background(), &experiment.MetricEvent{
			UserID:       userID,
			ExperimentID: exp.ID,
			Metric:       "conversion",
			Value:        value,
		})
	}
	got, err := f.Experiment(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusActive, got.Status)

	// Flood one arm with successes and the other with failures until the
	// boundary is crossed and the engine stops the experiment on its own
	for i := 100; i < 100000; i++ {
		userID := fmt.Sprintf("user-%d", i)
		variant, err := f.AssignUser(context.Background(), userID, exp.ID, experiment.UserContext{})
		require.NoError(t, err)
		if variant == "" {
			break // stopped
		}
		value := 0.0
		if variant == "treatment" {
			value = 1.0
		}
		f.TrackMetric(context.Background(), &experiment.MetricEvent{
			UserID:       userID,
			ExperimentID: exp.ID,
			Metric:       "conversion",
			Value:        value,
		})
		got, err := f.Experiment(exp.ID)
		require.NoError(t, err)
		if got.Status == experiment.StatusStopped {
			break
		}
	}

	got, err = f.Experiment(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusStopped, got.Status)
	assert.Equal(t, telemetry.StopReasonSequential, got.StopReason)
}

func TestBanditRewardFeedback(t *testing.T) {
	f := newTestFramework(t)
	cfg := basicConfig()
	cfg.Strategy = experiment.StrategyBandit
	exp, err := f.CreateExperiment(context.Background(), cfg)
	require.NoError(t, err)

	// Reward only the treatment arm; exploitation should shift traffic there
	for i := 0; i < 2000; i++ {
		userID := fmt.Sprintf("user-%d", i)
		variant, err := f.AssignUser(context.Background(), userID, exp.ID, experiment.UserContext{})
		require.NoError(t, err)
		value := 0.0
		if variant == "treatment" {
			value = 1.0
		}
		f.TrackMetric(context.Background(), &experiment.MetricEvent{
			UserID:       userID,
			ExperimentID: exp.ID,
			Metric:       "conversion",
			Value:        value,
		})
	}
	counts := f.AssignmentCounts(exp.ID)
	assert.Greater(t, counts["treatment"], counts["control"])
}

func TestFrameworkStatus(t *testing.T) {
	f := newTestFramework(t)
	_, err := f.CreateExperiment(context.Background(), basicConfig())
	require.NoError(t, err)
	cfg := basicConfig()
	cfg.Name = "second"
	exp2, err := f.CreateExperiment(context.Background(), cfg)
	require.NoError(t, err)
	_, err = f.StopExperiment(context.Background(), exp2.ID, StopOptions{})
	require.NoError(t, err)

	status := f.Status()
	assert.Equal(t, 2, status.Experiments)
	assert.Equal(t, 1, status.ActiveExperiments)
}

func TestIngestEvent(t *testing.T) {
	f := newTestFramework(t)
	ctx := context.Background()

	convCfg := basicConfig()
	convCfg.SecondaryMetrics = []string{"latency"}
	conv, err := f.CreateExperiment(ctx, convCfg)
	require.NoError(t, err)

	latCfg := basicConfig()
	latCfg.Name = "search-latency"
	latCfg.PrimaryMetric = "latency"
	latCfg.PrimaryMetricType = experiment.MetricContinuous
	lat, err := f.CreateExperiment(ctx, latCfg)
	require.NoError(t, err)

	_, err = f.AssignUser(ctx, "u1", conv.ID, experiment.UserContext{})
	require.NoError(t, err)
	_, err = f.AssignUser(ctx, "u1", lat.ID, experiment.UserContext{})
	require.NoError(t, err)

	t.Run("fans out to every experiment declaring the metric", func(t *testing.T) {
		routed := f.IngestEvent(ctx, &experiment.MetricEvent{UserID: "u1", Metric: "latency", Value: 120})
		assert.Equal(t, 2, routed)
		assert.Equal(t, 1, f.metrics.TotalForMetric(conv.ID, "latency"))
		assert.Equal(t, 1, f.metrics.TotalForMetric(lat.ID, "latency"))
	})

	t.Run("routes primary-only metrics to one experiment", func(t *testing.T) {
		routed := f.IngestEvent(ctx, &experiment.MetricEvent{UserID: "u1", Metric: "conversion", Value: 1})
		assert.Equal(t, 1, routed)
		assert.Equal(t, 1, f.metrics.TotalForMetric(conv.ID, "conversion"))
		assert.Zero(t, f.metrics.TotalForMetric(lat.ID, "conversion"))
	})

	t.Run("undeclared metrics route nowhere", func(t *testing.T) {
		routed := f.IngestEvent(ctx, &experiment.MetricEvent{UserID: "u1", Metric: "revenue", Value: 9.99})
		assert.Zero(t, routed)
	})

	t.Run("unenrolled users record nothing", func(t *testing.T) {
		before := f.metrics.TotalForMetric(conv.ID, "conversion")
		routed := f.IngestEvent(ctx, &experiment.MetricEvent{UserID: "ghost", Metric: "conversion", Value: 1})
		assert.Equal(t, 1, routed)
		assert.Equal(t, before, f.metrics.TotalForMetric(conv.ID, "conversion"))
	})

	t.Run("stopped experiments are skipped", func(t *testing.T) {
		_, err := f.StopExperiment(ctx, lat.ID, StopOptions{})
		require.NoError(t, err)
		routed := f.IngestEvent(ctx, &experiment.MetricEvent{UserID: "u1", Metric: "latency", Value: 80})
		assert.Equal(t, 1, routed)
		assert.Equal(t, 1, f.metrics.TotalForMetric(lat.ID, "latency"))
	})
}

func TestStrategyRandIndependence(t *testing.T) {
	randomConfig := func(name string) experiment.Config {
		cfg := basicConfig()
		cfg.Name = name
		cfg.Strategy = experiment.StrategyRandom
		return cfg
	}

	t.Run("seeded frameworks reproduce assignment sequences", func(t *testing.T) {
		sequence := func() []string {
			f := New(Options{Rand: rand.New(rand.NewSource(99))})
			first, err := f.CreateExperiment(context.Background(), randomConfig("one"))
			require.NoError(t, err)
			second, err := f.CreateExperiment(context.Background(), randomConfig("two"))
			require.NoError(t, err)

			out := make([]string, 0, 100)
			for i := 0; i < 50; i++ {
				userID := fmt.Sprintf("user-%d", i)
				v, err := f.AssignUser(context.Background(), userID, first.ID, experiment.UserContext{})
				require.NoError(t, err)
				out = append(out, v)
				v, err = f.AssignUser(context.Background(), userID, second.ID, experiment.UserContext{})
				require.NoError(t, err)
				out = append(out, v)
			}
			return out
		}
		assert.Equal(t, sequence(), sequence())
	})

	t.Run("concurrent assignment across experiments", func(t *testing.T) {
		f := New(Options{Rand: rand.New(rand.NewSource(3))})
		first, err := f.CreateExperiment(context.Background(), randomConfig("one"))
		require.NoError(t, err)
		second, err := f.CreateExperiment(context.Background(), randomConfig("two"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					userID := fmt.Sprintf("w%d-u%d", w, i)
					_, err := f.AssignUser(context.Background(), userID, first.ID, experiment.UserContext{})
					assert.NoError(t, err)
					_, err = f.AssignUser(context.Background(), userID, second.ID, experiment.UserContext{})
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		assert.Equal(t, 400, f.assignments.Total(first.ID))
		assert.Equal(t, 400, f.assignments.Total(second.ID))
	})
}
