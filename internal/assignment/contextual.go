package assignment

import (
	"math"
	"math/rand"
	"sync"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

const (
	defaultExploration  = 0.1
	defaultLearningRate = 0.1

	// Feature vector layout: bias, confidence, log(file size), power user
	featureCount = 4
)

// Contextual is a linear contextual bandit. Each variant holds a weight
// vector over a fixed feature set; assignment scores every variant by dot
// product and picks the highest, with uniform exploration at the configured
// rate. Weights learn online via a gradient step on observed rewards.
type Contextual struct {
	mu           sync.Mutex
	exploration  float64
	learningRate float64
	rng          *rand.Rand
	weights      map[string][]float64
}

// NewContextual creates a contextual bandit
func NewContextual(exploration, learningRate float64, rng *rand.Rand) *Contextual {
	if exploration <= 0 || exploration >= 1 {
		exploration = defaultExploration
	}
	if learningRate <= 0 {
		learningRate = defaultLearningRate
	}
	return &Contextual{
		exploration:  exploration,
		learningRate: learningRate,
		rng:          rng,
		weights:      make(map[string][]float64),
	}
}

func (s *Contextual) Kind() experiment.StrategyKind { return experiment.StrategyContextual }

// Features extracts the fixed feature vector from a user context
func Features(uctx experiment.UserContext) []float64 {
	power := 0.0
	if uctx.PowerUser {
		power = 1.0
	}
	return []float64{
		1.0, // bias
		uctx.Confidence,
		math.Log1p(math.Max(0, uctx.FileSize)),
		power,
	}
}

func (s *Contextual) Assign(userID string, exp *experiment.Experiment, uctx experiment.UserContext) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.float64() < s.exploration {
		return exp.Variants[s.intn(len(exp.Variants))].Name, nil
	}

	features := Features(uctx)
	best := exp.Variants[0].Name
	bestScore := s.score(best, features)
	for _, v := range exp.Variants[1:] {
		if score := s.score(v.Name, features); score > bestScore {
			best, bestScore = v.Name, score
		}
	}
	return best, nil
}

// UpdateReward applies one gradient step to the chosen variant's weights:
// w_i += lr * reward * x_i
func (s *Contextual) UpdateReward(variant string, reward float64, uctx experiment.UserContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	weights := s.arm(variant)
	for i, x := range Features(uctx) {
		weights[i] += s.learningRate * reward * x
	}
}

// Weights returns a copy of a variant's weight vector
func (s *Contextual) Weights(variant string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, featureCount)
	copy(out, s.arm(variant))
	return out
}

func (s *Contextual) arm(variant string) []float64 {
	weights, ok := s.weights[variant]
	if !ok {
		weights = make([]float64, featureCount)
		s.weights[variant] = weights
	}
	return weights
}

func (s *Contextual) score(variant string, features []float64) float64 {
	weights := s.arm(variant)
	dot := 0.0
	for i, x := range features {
		dot += weights[i] * x
	}
	return dot
}

func (s *Contextual) float64() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}

func (s *Contextual) intn(n int) int {
	if s.rng != nil {
		return s.rng.Intn(n)
	}
	return rand.Intn(n)
}
