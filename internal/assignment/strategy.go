// Package assignment implements the variant assignment strategies. The set
// of strategies is closed: New switches exhaustively over
// experiment.StrategyKind, so adding a kind without an implementation fails
// at the factory rather than at assignment time.
//
// Strategies are pure mappings from (user, experiment, context) to a variant
// name; stickiness is the caller's responsibility (the framework caches the
// first result per user). Bandit strategies additionally accept reward
// updates, which influence future assignments but never past ones.
package assignment

import (
	"fmt"
	"math/rand"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// Strategy maps a user to a variant of an experiment
type Strategy interface {
	Kind() experiment.StrategyKind
	Assign(userID string, exp *experiment.Experiment, uctx experiment.UserContext) (string, error)
}

// RewardUpdater is implemented by the bandit strategies, which learn from
// observed rewards
type RewardUpdater interface {
	UpdateReward(variant string, reward float64, uctx experiment.UserContext)
}

// New constructs the strategy for a kind. An empty kind defaults to
// deterministic hashing, the reproducible choice. The rng is used for
// exploration and weighted sampling; pass a seeded source in tests.
func New(kind experiment.StrategyKind, rng *rand.Rand) (Strategy, error) {
	switch kind {
	case "", experiment.StrategyDeterministic:
		return &Deterministic{}, nil
	case experiment.StrategyRandom:
		return &Random{rng: rng}, nil
	case experiment.StrategyStratified:
		return &Stratified{}, nil
	case experiment.StrategyBandit:
		return NewEpsilonGreedy(defaultEpsilon, rng), nil
	case experiment.StrategyContextual:
		return NewContextual(defaultExploration, defaultLearningRate, rng), nil
	default:
		return nil, fmt.Errorf("%w: %q", experiment.ErrUnknownStrategy, kind)
	}
}

// pickWeighted walks the cumulative normalized-weight distribution with a
// draw in [0,1)
func pickWeighted(variants []experiment.Variant, draw float64) string {
	cumulative := 0.0
	for _, v := range variants {
		cumulative += v.Normalized
		if draw < cumulative {
			return v.Name
		}
	}
	// Floating-point slack on the final bucket
	return variants[len(variants)-1].Name
}
