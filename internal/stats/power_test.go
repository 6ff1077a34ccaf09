package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePowerBinary(t *testing.T) {
	result, err := ComputePower(PowerRequest{
		Binary:              true,
		BaselineRate:        0.10,
		MinDetectableEffect: 0.10,
		TrafficPerDay:       1000,
	})
	require.NoError(t, err)

	// Two-proportion formula at 10% baseline, 10% relative lift,
	// alpha=0.05, power=0.80
	assert.InDelta(t, 14749, result.PerVariant, 2)
	assert.Equal(t, result.PerVariant*2, result.Total)
	assert.InDelta(t, float64(result.Total)/1000, result.EstimatedDays, 1e-9)
	assert.Equal(t, time.Duration(result.EstimatedDays*24*float64(time.Hour)), result.MinRuntime)
}

func TestComputePowerLargerEffectNeedsFewerSamples(t *testing.T) {
	small, err := ComputePower(PowerRequest{Binary: true, BaselineRate: 0.10, MinDetectableEffect: 0.10})
	require.NoError(t, err)
	large, err := ComputePower(PowerRequest{Binary: true, BaselineRate: 0.10, MinDetectableEffect: 0.20})
	require.NoError(t, err)

	// Doubling the detectable effect cuts the requirement roughly fourfold
	assert.Less(t, large.PerVariant, small.PerVariant/3)
}

func TestComputePowerContinuous(t *testing.T) {
	result, err := ComputePower(PowerRequest{
		MinDetectableEffect: 0.5,
		StdDev:              1,
	})
	require.NoError(t, err)
	// n = 2 * (sd * (z_a + z_b) / delta)^2
	assert.InDelta(t, 63, result.PerVariant, 1)
}

func TestComputePowerDefaults(t *testing.T) {
	result, err := ComputePower(PowerRequest{
		Binary:              true,
		BaselineRate:        0.5,
		MinDetectableEffect: 0.2,
	})
	require.NoError(t, err)

	// Variants defaults to 2, traffic to the package default
	assert.Equal(t, result.PerVariant*2, result.Total)
	assert.InDelta(t, float64(result.Total)/defaultTrafficPerDay, result.EstimatedDays, 1e-9)

	three, err := ComputePower(PowerRequest{
		Binary:              true,
		BaselineRate:        0.5,
		MinDetectableEffect: 0.2,
		Variants:            3,
	})
	require.NoError(t, err)
	assert.Equal(t, three.PerVariant*3, three.Total)
	assert.Equal(t, result.PerVariant, three.PerVariant)
}

func TestComputePowerErrors(t *testing.T) {
	tests := []struct {
		name string
		req  PowerRequest
	}{
		{"zero effect", PowerRequest{Binary: true, BaselineRate: 0.1}},
		{"negative effect", PowerRequest{Binary: true, BaselineRate: 0.1, MinDetectableEffect: -0.1}},
		{"baseline at zero", PowerRequest{Binary: true, MinDetectableEffect: 0.1}},
		{"baseline at one", PowerRequest{Binary: true, BaselineRate: 1, MinDetectableEffect: 0.1}},
		{"confidence out of range", PowerRequest{Binary: true, BaselineRate: 0.1, MinDetectableEffect: 0.1, Confidence: 1.5}},
		{"power out of range", PowerRequest{Binary: true, BaselineRate: 0.1, MinDetectableEffect: 0.1, Power: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputePower(tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
