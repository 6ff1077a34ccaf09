package assignment

import (
	"math/rand"
	"sync"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// Random draws a fresh uniform number per call and walks the cumulative
// weight distribution. Two calls for the same user can differ; the
// framework's assignment table provides stickiness.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *Random) Kind() experiment.StrategyKind { return experiment.StrategyRandom }

func (s *Random) Assign(userID string, exp *experiment.Experiment, _ experiment.UserContext) (string, error) {
	s.mu.Lock()
	var draw float64
	if s.rng != nil {
		draw = s.rng.Float64()
	} else {
		draw = rand.Float64()
	}
	s.mu.Unlock()
	return pickWeighted(exp.Variants, draw), nil
}
