package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// defaultStages is the number of equally spaced interim looks
const defaultStages = 5

// SequentialOptions configures the sequential engine
type SequentialOptions struct {
	Alpha  float64 // overall two-sided type I error, default 0.05
	Stages int     // number of interim looks, default 5
}

// SequentialDecision is emitted when a boundary is crossed
type SequentialDecision struct {
	Action         string  `json:"action"` // "stop"
	Winner         string  `json:"winner"`
	AdjustedPValue float64 `json:"adjusted_p_value"`
}

// SequentialResult is the outcome of one interim look. Decision is nil while
// the test statistic stays inside the boundary.
type SequentialResult struct {
	Stage               int                 `json:"stage"`
	Stages              int                 `json:"stages"`
	InformationFraction float64             `json:"information_fraction"`
	ZStatistic          float64             `json:"z_statistic"`
	Boundary            float64             `json:"boundary"`
	ControlRate         float64             `json:"control_rate"`
	TreatmentRate       float64             `json:"treatment_rate"`
	Decision            *SequentialDecision `json:"decision,omitempty"`
}

// ObrienFlemingBoundary returns the critical z value at the given
// information fraction for an O'Brien-Fleming-style spending design:
// z(t) = z_{1-alpha/2} / sqrt(t). This is the classic large-sample
// approximation to the exact Lan-DeMets boundary; it is slightly
// conservative at early looks, which is the safe direction for peeking.
func ObrienFlemingBoundary(informationFraction, alpha float64) float64 {
	if informationFraction <= 0 {
		return math.Inf(1)
	}
	if informationFraction > 1 {
		informationFraction = 1
	}
	zAlpha := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - alpha/2)
	return zAlpha / math.Sqrt(informationFraction)
}

// AnalyzeSequential performs one interim look at accumulating binary data.
// The current stage is derived from the accumulated sample size relative to
// the experiment's required sample size; the two-proportion z statistic for
// the primary metric is compared against the stage's O'Brien-Fleming
// boundary. Crossing the boundary yields a stop decision naming the winning
// variant and a multiplicity-adjusted p-value.
func AnalyzeSequential(controlName string, controlSuccess, controlN int,
	treatmentName string, treatmentSuccess, treatmentN int,
	requiredSampleSize int, opts SequentialOptions) (*SequentialResult, error) {

	if controlN == 0 || treatmentN == 0 {
		return nil, fmt.Errorf("%w: both arms need samples", ErrInsufficientData)
	}
	if requiredSampleSize <= 0 {
		return nil, fmt.Errorf("%w: required sample size must be positive", ErrInvalidInput)
	}
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		opts.Alpha = 0.05
	}
	if opts.Stages <= 0 {
		opts.Stages = defaultStages
	}

	total := controlN + treatmentN
	fraction := math.Min(1, float64(total)/float64(requiredSampleSize))
	stage := int(math.Ceil(fraction * float64(opts.Stages)))
	if stage < 1 {
		stage = 1
	}
	if stage > opts.Stages {
		stage = opts.Stages
	}
	// Boundaries are defined at the stage checkpoints, not the raw fraction,
	// so repeated looks within a stage see the same critical value
	checkpoint := float64(stage) / float64(opts.Stages)
	boundary := ObrienFlemingBoundary(checkpoint, opts.Alpha)

	p1 := float64(controlSuccess) / float64(controlN)
	p2 := float64(treatmentSuccess) / float64(treatmentN)
	pooled := float64(controlSuccess+treatmentSuccess) / float64(total)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(controlN) + 1/float64(treatmentN)))

	z := 0.0
	if se > 0 {
		z = (p2 - p1) / se
	}

	result := &SequentialResult{
		Stage:               stage,
		Stages:              opts.Stages,
		InformationFraction: fraction,
		ZStatistic:          z,
		Boundary:            boundary,
		ControlRate:         p1,
		TreatmentRate:       p2,
	}

	if math.Abs(z) >= boundary {
		winner := treatmentName
		if p1 > p2 {
			winner = controlName
		}
		nominal := 2 * distuv.Normal{Mu: 0, Sigma: 1}.CDF(-math.Abs(z))
		result.Decision = &SequentialDecision{
			Action: "stop",
			Winner: winner,
			// Bonferroni over the number of looks; conservative but keeps
			// the reported value interpretable after repeated peeking
			AdjustedPValue: math.Min(1, nominal*float64(opts.Stages)),
		}
	}
	return result, nil
}
