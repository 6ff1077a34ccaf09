package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TestKind identifies the hypothesis test selected for a metric
type TestKind string

const (
	TestChiSquare   TestKind = "chi_square"
	TestWelchT      TestKind = "welch_t"
	TestMannWhitney TestKind = "mann_whitney"
)

// Effect size kinds, matched to the test that produced them
const (
	EffectCohenD       = "cohen_d"
	EffectRankBiserial = "rank_biserial"
	EffectPhi          = "phi"
)

// welchMinSamples is the per-arm sample size below which the rank-based
// Mann-Whitney test is preferred over Welch's t-test
const welchMinSamples = 30

// welchSeparatedStat caps the statistic and effect size when both arms have
// zero variance but different means. The arms are trivially separated; the
// true statistic is unbounded and an infinity cannot be rendered on the
// JSON surfaces.
const welchSeparatedStat = 1e6

// ConfidenceInterval is a two-sided interval on the control/treatment
// difference
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// MetricTestResult is the outcome of one hypothesis test
type MetricTestResult struct {
	Metric         string             `json:"metric"`
	Test           TestKind           `json:"test"`
	Statistic      float64            `json:"statistic"`
	DegreesFreedom float64            `json:"degrees_of_freedom,omitempty"`
	PValue         float64            `json:"p_value"`
	AdjustedPValue float64            `json:"adjusted_p_value"`
	Significant    bool               `json:"significant"`
	EffectSize     float64            `json:"effect_size"`
	EffectKind     string             `json:"effect_kind"`
	ControlMean    float64            `json:"control_mean"`
	TreatmentMean  float64            `json:"treatment_mean"`
	ControlN       int                `json:"control_n"`
	TreatmentN     int                `json:"treatment_n"`
	Difference     float64            `json:"difference"`
	CI             ConfidenceInterval `json:"confidence_interval"`
}

// SRMResult is the outcome of the sample-ratio-mismatch check: a chi-square
// goodness-of-fit of observed allocation counts against the configured
// weights. Mismatch flags p below the conventional 0.001 threshold.
type SRMResult struct {
	Statistic float64            `json:"statistic"`
	PValue    float64            `json:"p_value"`
	Mismatch  bool               `json:"mismatch"`
	Observed  map[string]int     `json:"observed"`
	Expected  map[string]float64 `json:"expected"`
}

// srmThreshold is the p-value below which allocation is flagged as mismatched
const srmThreshold = 0.001

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// TestMetric runs the appropriate hypothesis test for one metric's
// control/treatment samples. Binary metrics get a 2x2 chi-square test;
// continuous metrics get Welch's t-test when both arms have at least 30
// samples and look roughly normal, otherwise Mann-Whitney U.
func TestMetric(metric string, control, treatment []float64, alpha float64) (*MetricTestResult, error) {
	if len(control) == 0 {
		return nil, fmt.Errorf("%w: no control samples for %s", ErrMissingVariant, metric)
	}
	if len(treatment) == 0 {
		return nil, fmt.Errorf("%w: no treatment samples for %s", ErrMissingVariant, metric)
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.05
	}

	var result *MetricTestResult
	var err error
	switch {
	case IsBinary(control) && IsBinary(treatment):
		result, err = chiSquareTest(control, treatment, alpha)
	case len(control) >= welchMinSamples && len(treatment) >= welchMinSamples &&
		looksNormal(control) && looksNormal(treatment):
		result, err = welchTest(control, treatment, alpha)
	default:
		result, err = mannWhitneyTest(control, treatment, alpha)
	}
	if err != nil {
		return nil, err
	}

	result.Metric = metric
	result.AdjustedPValue = result.PValue
	result.Significant = result.PValue < alpha
	return result, nil
}

// looksNormal is a cheap normality heuristic: moderate skewness and excess
// kurtosis. It gates Welch's t-test, whose normal-theory p-values degrade on
// heavily skewed data.
func looksNormal(values []float64) bool {
	if len(values) < 3 {
		return false
	}
	sd := math.Sqrt(stat.Variance(values, nil))
	if sd == 0 {
		return true
	}
	skew := stat.Skew(values, nil)
	kurt := stat.ExKurtosis(values, nil)
	return math.Abs(skew) < 1.0 && math.Abs(kurt) < 2.0
}

// chiSquareTest runs a 2x2 chi-square test of independence on binary
// conversion data
func chiSquareTest(control, treatment []float64, alpha float64) (*MetricTestResult, error) {
	n1, n2 := float64(len(control)), float64(len(treatment))
	s1, s2 := float64(successes(control)), float64(successes(treatment))
	f1, f2 := n1-s1, n2-s2

	total := n1 + n2
	totalSuccess := s1 + s2
	totalFailure := f1 + f2

	chi2 := 0.0
	// Expected counts under independence; a zero expected cell means the
	// outcome is constant and there is nothing to test
	observed := [4]float64{s1, f1, s2, f2}
	expected := [4]float64{
		n1 * totalSuccess / total,
		n1 * totalFailure / total,
		n2 * totalSuccess / total,
		n2 * totalFailure / total,
	}
	degenerate := false
	for i := range observed {
		if expected[i] == 0 {
			degenerate = true
			continue
		}
		diff := observed[i] - expected[i]
		chi2 += diff * diff / expected[i]
	}

	pValue := 1.0
	if !degenerate && chi2 > 0 {
		pValue = distuv.ChiSquared{K: 1}.Survival(chi2)
	}

	p1, p2 := s1/n1, s2/n2
	phi := math.Sqrt(chi2 / total)
	if p2 < p1 {
		phi = -phi
	}

	// Normal-approximation CI on the rate difference
	z := stdNormal.Quantile(1 - alpha/2)
	se := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	diff := p2 - p1

	return &MetricTestResult{
		Test:           TestChiSquare,
		Statistic:      chi2,
		DegreesFreedom: 1,
		PValue:         pValue,
		EffectSize:     phi,
		EffectKind:     EffectPhi,
		ControlMean:    p1,
		TreatmentMean:  p2,
		ControlN:       len(control),
		TreatmentN:     len(treatment),
		Difference:     diff,
		CI: ConfidenceInterval{
			Lower: diff - z*se,
			Upper: diff + z*se,
			Level: 1 - alpha,
		},
	}, nil
}

// welchTest runs Welch's unequal-variance t-test
func welchTest(control, treatment []float64, alpha float64) (*MetricTestResult, error) {
	n1, n2 := float64(len(control)), float64(len(treatment))
	m1, v1 := stat.MeanVariance(control, nil)
	m2, v2 := stat.MeanVariance(treatment, nil)

	diff := m2 - m1
	se := math.Sqrt(v1/n1 + v2/n2)

	var tStat, df, pValue float64
	switch {
	case se == 0 && diff == 0:
		tStat, df, pValue = 0, n1+n2-2, 1
	case se == 0:
		// Zero variance with a real difference: the arms are trivially
		// separated
		tStat, df, pValue = math.Copysign(welchSeparatedStat, diff), n1+n2-2, 0
	default:
		tStat = diff / se
		num := math.Pow(v1/n1+v2/n2, 2)
		den := math.Pow(v1/n1, 2)/(n1-1) + math.Pow(v2/n2, 2)/(n2-1)
		df = num / den
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		pValue = 2 * dist.CDF(-math.Abs(tStat))
	}

	// Cohen's d with pooled standard deviation
	pooled := math.Sqrt(((n1-1)*v1 + (n2-1)*v2) / (n1 + n2 - 2))
	effect := 0.0
	switch {
	case pooled > 0:
		effect = diff / pooled
	case diff != 0:
		effect = math.Copysign(welchSeparatedStat, diff)
	}

	ci := ConfidenceInterval{Level: 1 - alpha}
	if se > 0 {
		tCrit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(1 - alpha/2)
		ci.Lower = diff - tCrit*se
		ci.Upper = diff + tCrit*se
	} else {
		ci.Lower, ci.Upper = diff, diff
	}

	return &MetricTestResult{
		Test:           TestWelchT,
		Statistic:      tStat,
		DegreesFreedom: df,
		PValue:         pValue,
		EffectSize:     effect,
		EffectKind:     EffectCohenD,
		ControlMean:    m1,
		TreatmentMean:  m2,
		ControlN:       len(control),
		TreatmentN:     len(treatment),
		Difference:     diff,
		CI:             ci,
	}, nil
}

// mannWhitneyTest runs the Mann-Whitney U test with the normal
// approximation and tie correction. The approximation is standard for
// n1*n2 beyond ~20; below that the p-value is conservative rather than
// exact, which is acceptable for directional decisions.
func mannWhitneyTest(control, treatment []float64, alpha float64) (*MetricTestResult, error) {
	n1, n2 := float64(len(control)), float64(len(treatment))

	ranks, tieCorrection := rankAll(control, treatment)
	r1 := 0.0
	for i := range control {
		r1 += ranks[i]
	}
	u1 := r1 - n1*(n1+1)/2
	// U for the treatment arm; the statistic reported is the treatment U so
	// the sign of the effect follows the treatment direction
	u2 := n1*n2 - u1

	mu := n1 * n2 / 2
	n := n1 + n2
	variance := (n1 * n2 / 12) * ((n + 1) - tieCorrection/(n*(n-1)))

	var zStat, pValue float64
	if variance <= 0 {
		zStat, pValue = 0, 1
	} else {
		zStat = (u2 - mu) / math.Sqrt(variance)
		pValue = 2 * stdNormal.CDF(-math.Abs(zStat))
	}

	// Rank-biserial correlation: positive when treatment tends to exceed
	// control
	effect := 2*u2/(n1*n2) - 1

	m1 := stat.Mean(control, nil)
	m2 := stat.Mean(treatment, nil)
	diff := m2 - m1

	// CI on the mean difference via the normal approximation; the rank test
	// itself has no closed-form interval on means
	v1 := stat.Variance(control, nil)
	v2 := stat.Variance(treatment, nil)
	se := math.Sqrt(v1/n1 + v2/n2)
	z := stdNormal.Quantile(1 - alpha/2)

	return &MetricTestResult{
		Test:          TestMannWhitney,
		Statistic:     u2,
		PValue:        pValue,
		EffectSize:    effect,
		EffectKind:    EffectRankBiserial,
		ControlMean:   m1,
		TreatmentMean: m2,
		ControlN:      len(control),
		TreatmentN:    len(treatment),
		Difference:    diff,
		CI: ConfidenceInterval{
			Lower: diff - z*se,
			Upper: diff + z*se,
			Level: 1 - alpha,
		},
	}, nil
}

// rankAll assigns mid-ranks to the pooled sample and returns the ranks in
// input order (control first) plus the tie correction term sum(t^3 - t)
func rankAll(control, treatment []float64) ([]float64, float64) {
	n := len(control) + len(treatment)
	type indexed struct {
		value float64
		pos   int
	}
	pooled := make([]indexed, 0, n)
	for i, v := range control {
		pooled = append(pooled, indexed{v, i})
	}
	for i, v := range treatment {
		pooled = append(pooled, indexed{v, len(control) + i})
	}
	sort.Slice(pooled, func(i, j int) bool { return pooled[i].value < pooled[j].value })

	ranks := make([]float64, n)
	tieCorrection := 0.0
	i := 0
	for i < n {
		j := i
		for j < n && pooled[j].value == pooled[i].value {
			j++
		}
		// Mid-rank for the tied group [i, j)
		rank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[pooled[k].pos] = rank
		}
		t := float64(j - i)
		if t > 1 {
			tieCorrection += t*t*t - t
		}
		i = j
	}
	return ranks, tieCorrection
}

// CheckSampleRatio runs a chi-square goodness-of-fit test of observed
// assignment counts against expected proportions
func CheckSampleRatio(observed map[string]int, expected map[string]float64) (*SRMResult, error) {
	if len(expected) < 2 {
		return nil, fmt.Errorf("%w: need at least two variants", ErrInvalidInput)
	}
	total := 0
	for _, n := range observed {
		total += n
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: no assignments recorded", ErrInsufficientData)
	}

	chi2 := 0.0
	for variant, proportion := range expected {
		want := proportion * float64(total)
		if want == 0 {
			continue
		}
		diff := float64(observed[variant]) - want
		chi2 += diff * diff / want
	}
	df := float64(len(expected) - 1)
	pValue := distuv.ChiSquared{K: df}.Survival(chi2)

	obs := make(map[string]int, len(observed))
	for k, v := range observed {
		obs[k] = v
	}
	exp := make(map[string]float64, len(expected))
	for k, v := range expected {
		exp[k] = v
	}
	return &SRMResult{
		Statistic: chi2,
		PValue:    pValue,
		Mismatch:  pValue < srmThreshold,
		Observed:  obs,
		Expected:  exp,
	}, nil
}

// ApplyCorrection adjusts p-values for multiple testing across the given
// results and re-derives significance from the adjusted values. Supported
// methods are "bonferroni" and "holm"; anything else defaults to holm.
func ApplyCorrection(results []*MetricTestResult, method string, alpha float64) {
	m := len(results)
	if m <= 1 {
		return
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.05
	}

	switch method {
	case "bonferroni":
		for _, r := range results {
			r.AdjustedPValue = math.Min(1, r.PValue*float64(m))
			r.Significant = r.AdjustedPValue < alpha
		}
	default: // holm
		order := make([]int, m)
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			return results[order[a]].PValue < results[order[b]].PValue
		})
		running := 0.0
		for rank, idx := range order {
			adjusted := math.Min(1, results[idx].PValue*float64(m-rank))
			// Enforce monotonicity of step-down adjusted p-values
			running = math.Max(running, adjusted)
			results[idx].AdjustedPValue = running
			results[idx].Significant = running < alpha
		}
	}
}

