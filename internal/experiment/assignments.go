package experiment

import (
	"sync"

	"github.com/google/uuid"
)

type assignmentKey struct {
	userID       string
	experimentID uuid.UUID
}

// AssignmentTable holds the sticky (user, experiment) -> variant mapping.
// GetOrAssign performs an atomic check-then-set so a user is assigned to an
// experiment at most once even under concurrent callers.
type AssignmentTable struct {
	mu          sync.RWMutex
	assignments map[assignmentKey]string
	counts      map[uuid.UUID]map[string]int
}

// NewAssignmentTable creates an empty assignment table
func NewAssignmentTable() *AssignmentTable {
	return &AssignmentTable{
		assignments: make(map[assignmentKey]string),
		counts:      make(map[uuid.UUID]map[string]int),
	}
}

// Get returns the cached variant for the pair, if any
func (t *AssignmentTable) Get(userID string, experimentID uuid.UUID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	variant, ok := t.assignments[assignmentKey{userID, experimentID}]
	return variant, ok
}

// GetOrAssign returns the existing assignment for the pair, or invokes
// assign under the table lock and records its result. The second return
// value reports whether assign was invoked.
func (t *AssignmentTable) GetOrAssign(userID string, experimentID uuid.UUID, assign func() (string, error)) (string, bool, error) {
	key := assignmentKey{userID, experimentID}

	t.mu.RLock()
	variant, ok := t.assignments[key]
	t.mu.RUnlock()
	if ok {
		return variant, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check: another goroutine may have assigned while we upgraded the lock
	if variant, ok := t.assignments[key]; ok {
		return variant, false, nil
	}
	variant, err := assign()
	if err != nil {
		return "", false, err
	}
	t.assignments[key] = variant
	byVariant, ok := t.counts[experimentID]
	if !ok {
		byVariant = make(map[string]int)
		t.counts[experimentID] = byVariant
	}
	byVariant[variant]++
	return variant, true, nil
}

// Counts returns the per-variant assignment counts for an experiment
func (t *AssignmentTable) Counts(experimentID uuid.UUID) map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.counts[experimentID]))
	for variant, n := range t.counts[experimentID] {
		out[variant] = n
	}
	return out
}

// Total returns the total number of users assigned to an experiment
func (t *AssignmentTable) Total(experimentID uuid.UUID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, n := range t.counts[experimentID] {
		total += n
	}
	return total
}
