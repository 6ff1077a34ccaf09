package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultAssignmentTTL bounds how long a cached assignment outlives its
// experiment
const defaultAssignmentTTL = 30 * 24 * time.Hour

// AssignmentCache is a Redis write-through cache of sticky assignments,
// shared by engine replicas so a user keeps one variant across processes
type AssignmentCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewAssignmentCache connects to Redis and verifies the connection
func NewAssignmentCache(ctx context.Context, addr, password string, db int) (*AssignmentCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &AssignmentCache{
		client: client,
		ttl:    defaultAssignmentTTL,
		log:    log.With().Str("component", "assignment_cache").Logger(),
	}, nil
}

// NewAssignmentCacheWithClient wraps an existing client; tests pass one
// backed by miniredis
func NewAssignmentCacheWithClient(client *redis.Client) *AssignmentCache {
	return &AssignmentCache{
		client: client,
		ttl:    defaultAssignmentTTL,
		log:    log.With().Str("component", "assignment_cache").Logger(),
	}
}

func assignmentKey(experimentID uuid.UUID, userID string) string {
	return fmt.Sprintf("expflow:assign:%s:%s", experimentID, userID)
}

// Get returns the cached variant, or ("", false) on a miss
func (c *AssignmentCache) Get(ctx context.Context, userID string, experimentID uuid.UUID) (string, bool) {
	variant, err := c.client.Get(ctx, assignmentKey(experimentID, userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Msg("Assignment cache read failed")
		}
		return "", false
	}
	return variant, true
}

// Set caches one assignment with the configured TTL
func (c *AssignmentCache) Set(ctx context.Context, userID string, experimentID uuid.UUID, variant string) error {
	if err := c.client.Set(ctx, assignmentKey(experimentID, userID), variant, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache assignment: %w", err)
	}
	return nil
}

// Invalidate removes every cached assignment for an experiment, called when
// an experiment is stopped and its assignments become irrelevant
func (c *AssignmentCache) Invalidate(ctx context.Context, experimentID uuid.UUID) error {
	pattern := fmt.Sprintf("expflow:assign:%s:*", experimentID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan assignment keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete assignment keys: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (c *AssignmentCache) Close() error {
	return c.client.Close()
}
