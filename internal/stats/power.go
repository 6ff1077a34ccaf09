package stats

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// defaultTrafficPerDay is assumed when the caller supplies no traffic rate
const defaultTrafficPerDay = 1000

// PowerRequest holds the inputs to a sample size calculation
type PowerRequest struct {
	Binary              bool    // metric kind
	BaselineRate        float64 // binary: control conversion rate in (0,1)
	MinDetectableEffect float64 // relative lift (binary) or absolute difference (continuous)
	StdDev              float64 // continuous: estimated standard deviation, default 1
	Confidence          float64 // default 0.95
	Power               float64 // default 0.80
	Variants            int     // number of arms, default 2
	TrafficPerDay       float64 // users/day for the runtime estimate
}

// PowerResult is the output of power analysis, computed once at experiment
// creation
type PowerResult struct {
	PerVariant    int           `json:"per_variant"`
	Total         int           `json:"total"`
	EstimatedDays float64       `json:"estimated_days"`
	MinRuntime    time.Duration `json:"min_runtime"`
}

// ComputePower calculates the required sample size via the standard
// two-proportion formula for binary metrics or the two-sample
// mean-difference formula for continuous metrics, then scales to the
// variant count and estimates calendar runtime from the traffic rate.
func ComputePower(req PowerRequest) (*PowerResult, error) {
	if req.MinDetectableEffect <= 0 {
		return nil, fmt.Errorf("%w: min detectable effect must be positive", ErrInvalidInput)
	}
	if req.Confidence == 0 {
		req.Confidence = 0.95
	}
	if req.Confidence <= 0 || req.Confidence >= 1 {
		return nil, fmt.Errorf("%w: confidence must be in (0,1)", ErrInvalidInput)
	}
	if req.Power == 0 {
		req.Power = 0.80
	}
	if req.Power <= 0 || req.Power >= 1 {
		return nil, fmt.Errorf("%w: power must be in (0,1)", ErrInvalidInput)
	}
	if req.Variants < 2 {
		req.Variants = 2
	}
	if req.TrafficPerDay <= 0 {
		req.TrafficPerDay = defaultTrafficPerDay
	}

	norm := distuv.Normal{Mu: 0, Sigma: 1}
	zAlpha := norm.Quantile(1 - (1-req.Confidence)/2)
	zBeta := norm.Quantile(req.Power)

	var perVariant float64
	if req.Binary {
		p1 := req.BaselineRate
		if p1 <= 0 || p1 >= 1 {
			return nil, fmt.Errorf("%w: baseline rate must be in (0,1)", ErrInvalidInput)
		}
		p2 := p1 * (1 + req.MinDetectableEffect)
		if p2 >= 1 {
			p2 = 0.999
		}
		delta := p2 - p1
		perVariant = math.Pow(zAlpha+zBeta, 2) * (p1*(1-p1) + p2*(1-p2)) / (delta * delta)
	} else {
		sd := req.StdDev
		if sd <= 0 {
			sd = 1
		}
		delta := req.MinDetectableEffect
		perVariant = 2 * math.Pow(sd*(zAlpha+zBeta)/delta, 2)
	}

	per := int(math.Ceil(perVariant))
	if per < 2 {
		per = 2
	}
	total := per * req.Variants
	days := float64(total) / req.TrafficPerDay

	return &PowerResult{
		PerVariant:    per,
		Total:         total,
		EstimatedDays: days,
		MinRuntime:    time.Duration(days * 24 * float64(time.Hour)),
	}, nil
}
