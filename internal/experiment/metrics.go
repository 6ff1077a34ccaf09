package experiment

import (
	"sync"

	"github.com/google/uuid"
)

// MetricStore is the append-only store of raw metric observations, bucketed
// per (experiment, variant, metric). Samples are never mutated once
// recorded; concurrent appends to different buckets do not contend beyond
// the store lock.
type MetricStore struct {
	mu      sync.RWMutex
	buckets map[uuid.UUID]map[string]map[string][]Sample
	sums    map[bucketID]float64
}

type bucketID struct {
	experimentID uuid.UUID
	variant      string
	metric       string
}

// NewMetricStore creates an empty metric store
func NewMetricStore() *MetricStore {
	return &MetricStore{
		buckets: make(map[uuid.UUID]map[string]map[string][]Sample),
		sums:    make(map[bucketID]float64),
	}
}

// Append records one observation for the variant the user is assigned to
func (s *MetricStore) Append(experimentID uuid.UUID, variant, metric string, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVariant, ok := s.buckets[experimentID]
	if !ok {
		byVariant = make(map[string]map[string][]Sample)
		s.buckets[experimentID] = byVariant
	}
	byMetric, ok := byVariant[variant]
	if !ok {
		byMetric = make(map[string][]Sample)
		byVariant[variant] = byMetric
	}
	byMetric[metric] = append(byMetric[metric], sample)
	s.sums[bucketID{experimentID, variant, metric}] += sample.Value
}

// SumCount returns the running sum and sample count for one bucket without
// copying the samples. For binary metrics the sum is the success count,
// which is what the sequential boundary check needs on every event.
func (s *MetricStore) SumCount(experimentID uuid.UUID, variant, metric string) (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sums[bucketID{experimentID, variant, metric}], len(s.buckets[experimentID][variant][metric])
}

// Samples returns a copy of the recorded samples for one bucket
func (s *MetricStore) Samples(experimentID uuid.UUID, variant, metric string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples := s.buckets[experimentID][variant][metric]
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

// Values returns just the numeric values for one bucket
func (s *MetricStore) Values(experimentID uuid.UUID, variant, metric string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples := s.buckets[experimentID][variant][metric]
	out := make([]float64, len(samples))
	for i, sm := range samples {
		out[i] = sm.Value
	}
	return out
}

// Count returns the number of samples recorded for one bucket
func (s *MetricStore) Count(experimentID uuid.UUID, variant, metric string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[experimentID][variant][metric])
}

// TotalForMetric returns the number of samples for a metric across all
// variants of an experiment
func (s *MetricStore) TotalForMetric(experimentID uuid.UUID, metric string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, byMetric := range s.buckets[experimentID] {
		total += len(byMetric[metric])
	}
	return total
}

// HasData reports whether any samples exist for an experiment
func (s *MetricStore) HasData(experimentID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, byMetric := range s.buckets[experimentID] {
		for _, samples := range byMetric {
			if len(samples) > 0 {
				return true
			}
		}
	}
	return false
}
