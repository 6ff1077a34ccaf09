package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/expflow/internal/events"
	"github.com/ajitpratap0/expflow/internal/experiment"
	"github.com/ajitpratap0/expflow/internal/shadow"
	"github.com/ajitpratap0/expflow/internal/stats"
	"github.com/ajitpratap0/expflow/internal/telemetry"
)

// Analysis status values
const (
	AnalysisComplete         = "complete"
	AnalysisInsufficientData = "insufficient_data"
)

// VariantSummary pairs a variant with its descriptive statistics and
// assignment count
type VariantSummary struct {
	Variant     string         `json:"variant"`
	Assignments int            `json:"assignments"`
	Metrics     map[string]*stats.Summary `json:"metrics,omitempty"`
}

// AnalysisResult is the full output of one analysis run
type AnalysisResult struct {
	ExperimentID   uuid.UUID                           `json:"experiment_id"`
	ExperimentName string                              `json:"experiment_name"`
	Status         string                              `json:"status"`
	AnalyzedAt     time.Time                           `json:"analyzed_at"`
	SampleSize     int                                 `json:"sample_size"`
	RequiredSize   int                                 `json:"required_sample_size"`
	Variants       []*VariantSummary                   `json:"variants,omitempty"`
	Tests          []*stats.MetricTestResult           `json:"tests,omitempty"`
	SRM            *stats.SRMResult                    `json:"srm,omitempty"`
	Bayesian       *stats.BayesianResult               `json:"bayesian,omitempty"`
	Sequential     *stats.SequentialResult             `json:"sequential,omitempty"`
	Collectors     map[string]map[string]any           `json:"collectors,omitempty"`
	Shadow         map[string]map[string]*shadow.MetricSnapshot `json:"shadow,omitempty"`
}

// AnalyzeExperiment runs the full statistical analysis of an experiment:
// descriptive summaries, hypothesis tests with multiple-testing correction,
// the SRM check, and (when enabled) the Bayesian and sequential engines.
// An experiment without data yields an insufficient_data result, never an
// error. Every call computes over the current data; the result is cached
// for LastResult. Concurrent calls for the same experiment are deduplicated.
func (f *Framework) AnalyzeExperiment(ctx context.Context, experimentID uuid.UUID) (*AnalysisResult, error) {
	exp, err := f.registry.Get(experimentID)
	if err != nil {
		return nil, err
	}

	key := experimentID.String()
	v, err, _ := f.sf.Do(key, func() (any, error) {
		start := time.Now()
		result := f.analyze(exp)
		telemetry.Analyses.Inc()
		telemetry.AnalysisDuration.Observe(time.Since(start).Seconds())
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	result := v.(*AnalysisResult)

	f.resultMu.Lock()
	f.results[experimentID] = result
	f.resultMu.Unlock()

	if result.Status == AnalysisComplete {
		f.emit(ctx, events.TypeExperimentAnalyzed, experimentID, result)
	}
	return result, nil
}

// LastResult returns the most recent cached analysis for an experiment
func (f *Framework) LastResult(experimentID uuid.UUID) (*AnalysisResult, bool) {
	f.resultMu.RLock()
	defer f.resultMu.RUnlock()
	result, ok := f.results[experimentID]
	return result, ok
}

func (f *Framework) analyze(exp *experiment.Experiment) *AnalysisResult {
	result := &AnalysisResult{
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		AnalyzedAt:     time.Now(),
		RequiredSize:   exp.RequiredSampleSize,
	}

	if !f.metrics.HasData(exp.ID) {
		result.Status = AnalysisInsufficientData
		return result
	}

	counts := f.assignments.Counts(exp.ID)
	result.SampleSize = f.metrics.TotalForMetric(exp.ID, exp.PrimaryMetric)

	// Descriptive summaries per variant and metric
	for _, v := range exp.Variants {
		summary := &VariantSummary{
			Variant:     v.Name,
			Assignments: counts[v.Name],
			Metrics:     make(map[string]*stats.Summary),
		}
		for _, metric := range exp.MetricNames() {
			values := f.metrics.Values(exp.ID, v.Name, metric)
			if len(values) == 0 {
				continue
			}
			if s, err := stats.Describe(values); err == nil {
				summary.Metrics[metric] = s
			}
		}
		result.Variants = append(result.Variants, summary)
	}

	// Frequentist tests: control is the first declared variant, treatment the
	// second. Correction spans the primary and all secondary metrics.
	if len(exp.Variants) >= 2 {
		control := exp.Variants[0].Name
		treatment := exp.Variants[1].Name
		for _, metric := range exp.MetricNames() {
			cValues := f.metrics.Values(exp.ID, control, metric)
			tValues := f.metrics.Values(exp.ID, treatment, metric)
			if len(cValues) == 0 || len(tValues) == 0 {
				continue
			}
			test, err := stats.TestMetric(metric, cValues, tValues, f.opts.Alpha)
			if err != nil {
				f.log.Warn().Err(err).
					Str("experiment_id", exp.ID.String()).
					Str("metric", metric).
					Msg("Hypothesis test failed")
				continue
			}
			result.Tests = append(result.Tests, test)
		}
		stats.ApplyCorrection(result.Tests, string(exp.Correction), f.opts.Alpha)
	}

	if srm, err := f.SRMCheck(exp.ID); err == nil {
		result.SRM = srm
	}

	if exp.EnableBayesian {
		samples := make(map[string][]float64, len(exp.Variants))
		complete := true
		for _, v := range exp.Variants {
			values := f.metrics.Values(exp.ID, v.Name, exp.PrimaryMetric)
			if len(values) == 0 {
				complete = false
				break
			}
			samples[v.Name] = values
		}
		if complete {
			bayes, err := stats.AnalyzeBayesian(samples, exp.PrimaryMetricType == experiment.MetricBinary, stats.BayesianOptions{
				Draws: f.opts.Draws,
				Seed:  f.opts.BayesSeed,
			})
			if err != nil {
				f.log.Warn().Err(err).Str("experiment_id", exp.ID.String()).Msg("Bayesian analysis failed")
			} else {
				result.Bayesian = bayes
			}
		}
	}

	if exp.EnableSequential && exp.PrimaryMetricType == experiment.MetricBinary && len(exp.Variants) >= 2 {
		control := exp.Variants[0].Name
		treatment := exp.Variants[1].Name
		cSum, cN := f.metrics.SumCount(exp.ID, control, exp.PrimaryMetric)
		tSum, tN := f.metrics.SumCount(exp.ID, treatment, exp.PrimaryMetric)
		if cN > 0 && tN > 0 {
			seq, err := stats.AnalyzeSequential(
				control, int(cSum), cN,
				treatment, int(tSum), tN,
				exp.RequiredSampleSize,
				stats.SequentialOptions{Alpha: f.opts.Alpha, Stages: f.opts.Stages},
			)
			if err == nil {
				result.Sequential = seq
			}
		}
	}

	if collected := f.collectors.Calculate(exp.ID); len(collected) > 0 {
		result.Collectors = collected
	}
	if exp.ShadowMode {
		if snapshot := f.shadow.Snapshot(exp.ID); len(snapshot) > 0 {
			result.Shadow = snapshot
		}
	}

	result.Status = AnalysisComplete
	return result
}

// SRMCheck runs the sample-ratio-mismatch test on the experiment's current
// assignment counts against its configured weights
func (f *Framework) SRMCheck(experimentID uuid.UUID) (*stats.SRMResult, error) {
	exp, err := f.registry.Get(experimentID)
	if err != nil {
		return nil, err
	}
	observed := f.assignments.Counts(experimentID)
	expected := make(map[string]float64, len(exp.Variants))
	for _, v := range exp.Variants {
		expected[v.Name] = v.Normalized
	}
	srm, err := stats.CheckSampleRatio(observed, expected)
	if err != nil {
		return nil, fmt.Errorf("srm check for %s: %w", experimentID, err)
	}
	return srm, nil
}
