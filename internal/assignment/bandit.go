package assignment

import (
	"math/rand"
	"sync"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// defaultEpsilon is the exploration probability for the epsilon-greedy
// bandit
const defaultEpsilon = 0.1

type armState struct {
	pulls  int64
	reward float64
}

// EpsilonGreedy is a multi-armed bandit: with probability epsilon it
// explores a uniformly random variant, otherwise it exploits the variant
// with the highest running average reward. Rewards arrive out of band via
// UpdateReward, driven by metric ingestion; more data shifts future
// assignments but never retroactively changes past ones.
type EpsilonGreedy struct {
	mu      sync.Mutex
	epsilon float64
	rng     *rand.Rand
	arms    map[string]*armState
}

// NewEpsilonGreedy creates an epsilon-greedy bandit
func NewEpsilonGreedy(epsilon float64, rng *rand.Rand) *EpsilonGreedy {
	if epsilon <= 0 || epsilon >= 1 {
		epsilon = defaultEpsilon
	}
	return &EpsilonGreedy{
		epsilon: epsilon,
		rng:     rng,
		arms:    make(map[string]*armState),
	}
}

func (s *EpsilonGreedy) Kind() experiment.StrategyKind { return experiment.StrategyBandit }

func (s *EpsilonGreedy) Assign(userID string, exp *experiment.Experiment, _ experiment.UserContext) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chosen := ""
	if s.float64() < s.epsilon {
		// Explore uniformly
		chosen = exp.Variants[s.intn(len(exp.Variants))].Name
	} else {
		// Exploit the best running average; unpulled arms count as 0 so a
		// cold start still walks through every variant via exploration
		best := exp.Variants[0].Name
		bestAvg := s.average(best)
		for _, v := range exp.Variants[1:] {
			if avg := s.average(v.Name); avg > bestAvg {
				best, bestAvg = v.Name, avg
			}
		}
		chosen = best
	}

	arm, ok := s.arms[chosen]
	if !ok {
		arm = &armState{}
		s.arms[chosen] = arm
	}
	arm.pulls++
	return chosen, nil
}

// UpdateReward accumulates an observed reward for a variant
func (s *EpsilonGreedy) UpdateReward(variant string, reward float64, _ experiment.UserContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	arm, ok := s.arms[variant]
	if !ok {
		arm = &armState{}
		s.arms[variant] = arm
	}
	arm.reward += reward
}

// Snapshot returns per-variant pull counts and cumulative rewards
func (s *EpsilonGreedy) Snapshot() map[string]struct {
	Pulls  int64
	Reward float64
} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct {
		Pulls  int64
		Reward float64
	}, len(s.arms))
	for name, arm := range s.arms {
		out[name] = struct {
			Pulls  int64
			Reward float64
		}{arm.pulls, arm.reward}
	}
	return out
}

func (s *EpsilonGreedy) average(variant string) float64 {
	arm, ok := s.arms[variant]
	if !ok || arm.pulls == 0 {
		return 0
	}
	return arm.reward / float64(arm.pulls)
}

func (s *EpsilonGreedy) float64() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}

func (s *EpsilonGreedy) intn(n int) int {
	if s.rng != nil {
		return s.rng.Intn(n)
	}
	return rand.Intn(n)
}
