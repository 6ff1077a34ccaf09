package experiment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMetricStore(t *testing.T) {
	s := NewMetricStore()
	expID := uuid.New()

	assert.False(t, s.HasData(expID))
	assert.Empty(t, s.Samples(expID, "control", "conversion"))

	for i, v := range []float64{1, 0, 1} {
		s.Append(expID, "control", "conversion", Sample{
			UserID:    string(rune('a' + i)),
			Value:     v,
			Timestamp: time.Now(),
		})
	}
	s.Append(expID, "treatment", "conversion", Sample{UserID: "x", Value: 1})
	s.Append(expID, "control", "latency", Sample{UserID: "a", Value: 120})

	assert.True(t, s.HasData(expID))
	assert.Equal(t, 3, s.Count(expID, "control", "conversion"))
	assert.Equal(t, []float64{1, 0, 1}, s.Values(expID, "control", "conversion"))
	assert.Equal(t, 4, s.TotalForMetric(expID, "conversion"))
	assert.Equal(t, 1, s.TotalForMetric(expID, "latency"))

	sum, n := s.SumCount(expID, "control", "conversion")
	assert.Equal(t, 2.0, sum)
	assert.Equal(t, 3, n)

	sum, n = s.SumCount(expID, "ghost", "conversion")
	assert.Zero(t, sum)
	assert.Zero(t, n)
}

func TestMetricStoreCopies(t *testing.T) {
	s := NewMetricStore()
	expID := uuid.New()
	s.Append(expID, "control", "conversion", Sample{Value: 1})

	// Mutating returned slices must not touch the store
	values := s.Values(expID, "control", "conversion")
	values[0] = 99
	assert.Equal(t, []float64{1}, s.Values(expID, "control", "conversion"))

	samples := s.Samples(expID, "control", "conversion")
	samples[0].Value = 99
	assert.Equal(t, 1.0, s.Samples(expID, "control", "conversion")[0].Value)
}
