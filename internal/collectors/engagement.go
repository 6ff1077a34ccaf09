package collectors

import (
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// EngagementSummary aggregates user activity per variant: how many distinct
// users acted, how often on average, and how session lengths moved
type EngagementSummary struct {
	Users             int     `json:"users"`
	TotalActions      int     `json:"total_actions"`
	ActionsPerUser    float64 `json:"actions_per_user"`
	AvgSessionDelta   float64 `json:"avg_session_delta"`
	SessionDeltaCount int     `json:"session_delta_count"`
}

type engagementBucket struct {
	actionsByUser map[string]int
	sessionDeltas []float64
}

// Engagement aggregates per-user action counts and session-length deltas
type Engagement struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*engagementBucket
}

// NewEngagement creates an engagement collector
func NewEngagement() *Engagement {
	return &Engagement{buckets: make(map[bucketKey]*engagementBucket)}
}

func (c *Engagement) Name() string { return "engagement" }

func (c *Engagement) Handles(ev *experiment.MetricEvent) bool {
	switch ev.Metric {
	case "engagement", "user_action", "session_delta", "session_length":
		return true
	}
	return false
}

func (c *Engagement) Collect(variant string, ev *experiment.MetricEvent) {
	key := bucketKey{ev.ExperimentID, variant}
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.buckets[key]
	if !ok {
		bucket = &engagementBucket{actionsByUser: make(map[string]int)}
		c.buckets[key] = bucket
	}
	switch ev.Metric {
	case "session_delta", "session_length":
		bucket.sessionDeltas = append(bucket.sessionDeltas, ev.Value)
		if _, seen := bucket.actionsByUser[ev.UserID]; !seen {
			bucket.actionsByUser[ev.UserID] = 0
		}
	default:
		bucket.actionsByUser[ev.UserID]++
	}
}

func (c *Engagement) Calculate(experimentID uuid.UUID) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any)
	for key, bucket := range c.buckets {
		if key.experimentID != experimentID {
			continue
		}
		summary := &EngagementSummary{
			Users:             len(bucket.actionsByUser),
			SessionDeltaCount: len(bucket.sessionDeltas),
		}
		for _, n := range bucket.actionsByUser {
			summary.TotalActions += n
		}
		if summary.Users > 0 {
			summary.ActionsPerUser = float64(summary.TotalActions) / float64(summary.Users)
		}
		if len(bucket.sessionDeltas) > 0 {
			summary.AvgSessionDelta = stat.Mean(bucket.sessionDeltas, nil)
		}
		out[key.variant] = summary
	}
	return out
}
