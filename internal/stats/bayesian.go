package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// defaultDraws is the Monte Carlo sample count for posterior comparison.
// 10k draws put the standard error of probability-of-being-best under 0.005.
const defaultDraws = 10000

// BetaPosterior holds the parameters of a Beta posterior over a conversion
// rate, starting from the uniform Beta(1,1) prior
type BetaPosterior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns the posterior mean conversion rate
func (b BetaPosterior) Mean() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// NormalPosterior holds a Normal posterior over a continuous metric mean,
// produced by precision-weighted conjugate updating
type NormalPosterior struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// VariantPosterior is the per-variant output of the Bayesian engine
type VariantPosterior struct {
	Variant          string             `json:"variant"`
	N                int                `json:"n"`
	Beta             *BetaPosterior     `json:"beta,omitempty"`
	Normal           *NormalPosterior   `json:"normal,omitempty"`
	PosteriorMean    float64            `json:"posterior_mean"`
	CredibleInterval ConfidenceInterval `json:"credible_interval"`
	ProbabilityBest  float64            `json:"probability_best"`
	ExpectedLoss     float64            `json:"expected_loss"`
}

// BayesianResult is the output of one Bayesian analysis over all variants
type BayesianResult struct {
	Binary   bool                `json:"binary"`
	Draws    int                 `json:"draws"`
	Variants []*VariantPosterior `json:"variants"`
	Best     string              `json:"best"`
}

// BayesianOptions configures the Bayesian engine. A zero Seed draws a
// time-based seed; tests inject a fixed one for reproducibility.
type BayesianOptions struct {
	Draws         int
	CredibleLevel float64
	Seed          uint64
}

// AnalyzeBayesian computes conjugate posteriors for every variant and
// compares them by Monte Carlo simulation: probability of being best,
// expected loss against the best alternative, and credible intervals.
// Binary metrics use Beta posteriors; continuous metrics use Normal
// posteriors with precision-weighted updating.
func AnalyzeBayesian(samples map[string][]float64, binary bool, opts BayesianOptions) (*BayesianResult, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: need at least two variants", ErrInvalidInput)
	}
	for variant, values := range samples {
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingVariant, variant)
		}
	}
	if opts.Draws <= 0 {
		opts.Draws = defaultDraws
	}
	if opts.CredibleLevel <= 0 || opts.CredibleLevel >= 1 {
		opts.CredibleLevel = 0.95
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewSource(seed)

	// Stable variant order so draws are reproducible for a given seed
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)

	posteriors := make([]*VariantPosterior, len(names))
	samplers := make([]func() float64, len(names))
	lo := (1 - opts.CredibleLevel) / 2
	hi := 1 - lo

	for i, name := range names {
		values := samples[name]
		vp := &VariantPosterior{Variant: name, N: len(values)}

		if binary {
			s := float64(successes(values))
			f := float64(len(values)) - s
			post := &BetaPosterior{Alpha: 1 + s, Beta: 1 + f}
			dist := distuv.Beta{Alpha: post.Alpha, Beta: post.Beta, Src: src}
			vp.Beta = post
			vp.PosteriorMean = post.Mean()
			vp.CredibleInterval = ConfidenceInterval{
				Lower: dist.Quantile(lo),
				Upper: dist.Quantile(hi),
				Level: opts.CredibleLevel,
			}
			samplers[i] = dist.Rand
		} else {
			post := normalPosterior(values)
			dist := distuv.Normal{Mu: post.Mean, Sigma: sqrtOr(post.Variance, 1e-9), Src: src}
			vp.Normal = post
			vp.PosteriorMean = post.Mean
			vp.CredibleInterval = ConfidenceInterval{
				Lower: dist.Quantile(lo),
				Upper: dist.Quantile(hi),
				Level: opts.CredibleLevel,
			}
			samplers[i] = dist.Rand
		}
		posteriors[i] = vp
	}

	// Joint Monte Carlo pass: count wins and accumulate per-draw regret
	wins := make([]int, len(names))
	loss := make([]float64, len(names))
	draw := make([]float64, len(names))
	for d := 0; d < opts.Draws; d++ {
		best := 0
		for i := range samplers {
			draw[i] = samplers[i]()
			if draw[i] > draw[best] {
				best = i
			}
		}
		wins[best]++
		for i := range draw {
			loss[i] += draw[best] - draw[i]
		}
	}

	bestIdx := 0
	for i, vp := range posteriors {
		vp.ProbabilityBest = float64(wins[i]) / float64(opts.Draws)
		vp.ExpectedLoss = loss[i] / float64(opts.Draws)
		if vp.ProbabilityBest > posteriors[bestIdx].ProbabilityBest {
			bestIdx = i
		}
	}

	return &BayesianResult{
		Binary:   binary,
		Draws:    opts.Draws,
		Variants: posteriors,
		Best:     posteriors[bestIdx].Variant,
	}, nil
}

// normalPosterior performs conjugate Normal updating with a flat prior
// (precision 1e-6 around 0) and the sample variance as likelihood variance
func normalPosterior(values []float64) *NormalPosterior {
	n := float64(len(values))
	mean, variance := stat.MeanVariance(values, nil)
	if len(values) == 1 || variance == 0 {
		// Degenerate sample: fall back to a tight posterior around the mean
		variance = 1e-9
	}
	priorPrecision := 1e-6
	dataPrecision := n / variance
	postPrecision := priorPrecision + dataPrecision
	return &NormalPosterior{
		Mean:     (dataPrecision * mean) / postPrecision,
		Variance: 1 / postPrecision,
	}
}

func sqrtOr(v, fallback float64) float64 {
	if v <= 0 {
		v = fallback
	}
	return math.Sqrt(v)
}
