package experiment

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns all experiment definitions. Definitions are immutable after
// creation except for the single active -> stopped transition, which is
// performed under the registry lock so a concurrent monitor-triggered stop
// and a caller-triggered stop converge to one terminal transition.
type Registry struct {
	mu          sync.RWMutex
	experiments map[uuid.UUID]*Experiment
}

// NewRegistry creates an empty experiment registry
func NewRegistry() *Registry {
	return &Registry{experiments: make(map[uuid.UUID]*Experiment)}
}

// ValidateConfig checks an experiment config before creation. It returns a
// ValidationError naming the first offending field; a failed validation must
// block creation entirely.
func ValidateConfig(cfg Config) error {
	if cfg.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if len(cfg.Variants) < 2 {
		return &ValidationError{Field: "variants", Reason: "at least two variants required"}
	}
	seen := make(map[string]bool, len(cfg.Variants))
	for _, v := range cfg.Variants {
		if v.Name == "" {
			return &ValidationError{Field: "variants", Reason: "variant name required"}
		}
		if seen[v.Name] {
			return &ValidationError{Field: "variants", Reason: fmt.Sprintf("duplicate variant %q", v.Name)}
		}
		seen[v.Name] = true
		if v.Weight <= 0 {
			return &ValidationError{Field: "variants", Reason: fmt.Sprintf("variant %q weight must be positive", v.Name)}
		}
	}
	if cfg.PrimaryMetric == "" {
		return &ValidationError{Field: "primary_metric", Reason: "required"}
	}
	switch cfg.Strategy {
	case "", StrategyRandom, StrategyDeterministic, StrategyStratified, StrategyBandit, StrategyContextual:
	default:
		return &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", cfg.Strategy)}
	}
	switch cfg.Correction {
	case "", CorrectionBonferroni, CorrectionHolm:
	default:
		return &ValidationError{Field: "correction", Reason: fmt.Sprintf("unknown correction %q", cfg.Correction)}
	}
	return nil
}

// NormalizeVariants converts variant configs into variants whose normalized
// weights sum to 1
func NormalizeVariants(configs []VariantConfig) []Variant {
	total := 0.0
	for _, v := range configs {
		total += v.Weight
	}
	variants := make([]Variant, len(configs))
	for i, v := range configs {
		variants[i] = Variant{
			Name:       v.Name,
			Weight:     v.Weight,
			Normalized: v.Weight / total,
		}
	}
	return variants
}

// Register stores a new experiment. The experiment must already be
// validated and normalized by the caller.
func (r *Registry) Register(exp *Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experiments[exp.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, exp.ID)
	}
	r.experiments[exp.ID] = exp
	return nil
}

// Get returns the experiment with the given id
func (r *Registry) Get(id uuid.UUID) (*Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return exp, nil
}

// List returns all experiments, active and stopped
func (r *Registry) List() []*Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Experiment, 0, len(r.experiments))
	for _, exp := range r.experiments {
		out = append(out, exp)
	}
	return out
}

// Active returns all experiments still in active status
func (r *Registry) Active() []*Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Experiment, 0, len(r.experiments))
	for _, exp := range r.experiments {
		if exp.Status == StatusActive {
			out = append(out, exp)
		}
	}
	return out
}

// Stop transitions an experiment from active to stopped exactly once.
// Stopping a missing experiment returns ErrNotFound; stopping one that is
// already stopped returns ErrNotActive.
func (r *Registry) Stop(id uuid.UUID, reason string) (*Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if exp.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	now := time.Now()
	exp.Status = StatusStopped
	exp.EndedAt = &now
	exp.StopReason = reason
	return exp, nil
}

// Len returns the number of registered experiments
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.experiments)
}
