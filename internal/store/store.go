// Package store implements the durable persistence layer: a PostgreSQL
// write-behind store for experiment definitions, assignments, and metric
// events, and a Redis cache for hot assignment lookups. Writes run behind a
// circuit breaker so a struggling database degrades the engine to
// in-memory-only operation instead of failing requests.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// Circuit breaker settings for database writes
const (
	dbMinRequests   = 10
	dbFailureRatio  = 0.6
	dbOpenTimeout   = 15 * time.Second
	dbCountInterval = 10 * time.Second
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store persists experiment state to PostgreSQL
type Store struct {
	pool    Pool
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// New connects to PostgreSQL and returns a ready store
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Database connection pool created successfully")
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool; tests pass a pgxmock pool
func NewWithPool(pool Pool) *Store {
	logger := log.With().Str("component", "store").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "postgres",
		Interval: dbCountInterval,
		Timeout:  dbOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= dbMinRequests && ratio >= dbFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
	return &Store{pool: pool, breaker: breaker, log: logger}
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
	s.log.Info().Msg("Database connection pool closed")
}

// Health checks database connectivity
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// exec runs a write statement through the circuit breaker
func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return s.pool.Exec(ctx, sql, args...)
	})
	return err
}

// SaveExperiment upserts an experiment definition and its mutable lifecycle
// fields
func (s *Store) SaveExperiment(ctx context.Context, exp *experiment.Experiment) error {
	definition, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to marshal experiment: %w", err)
	}

	query := `
		INSERT INTO experiments (id, name, status, definition, created_at, ended_at, stop_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			definition = EXCLUDED.definition,
			ended_at = EXCLUDED.ended_at,
			stop_reason = EXCLUDED.stop_reason
	`
	if err := s.exec(ctx, query,
		exp.ID, exp.Name, string(exp.Status), definition,
		exp.CreatedAt, exp.EndedAt, nullable(exp.StopReason),
	); err != nil {
		return fmt.Errorf("failed to save experiment %s: %w", exp.ID, err)
	}
	return nil
}

// SaveAssignment records one sticky user-to-variant assignment. The
// assignment is immutable, so a conflicting insert is a no-op.
func (s *Store) SaveAssignment(ctx context.Context, userID string, experimentID uuid.UUID, variant string) error {
	query := `
		INSERT INTO assignments (user_id, experiment_id, variant, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, experiment_id) DO NOTHING
	`
	if err := s.exec(ctx, query, userID, experimentID, variant, time.Now()); err != nil {
		return fmt.Errorf("failed to save assignment for %s: %w", userID, err)
	}
	return nil
}

// AppendMetricEvent appends one metric observation
func (s *Store) AppendMetricEvent(ctx context.Context, ev *experiment.MetricEvent, variant string) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO metric_events (id, experiment_id, user_id, variant, metric, value, predicted, actual, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if err := s.exec(ctx, query,
		ev.ID, ev.ExperimentID, ev.UserID, variant, ev.Metric,
		ev.Value, ev.Predicted, ev.Actual, metadata, ev.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to append metric event %s: %w", ev.ID, err)
	}
	return nil
}

// LoadExperiments reads back every stored experiment definition, used to
// warm the registry at startup
func (s *Store) LoadExperiments(ctx context.Context) ([]*experiment.Experiment, error) {
	rows, err := s.pool.Query(ctx, `SELECT definition FROM experiments ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiments: %w", err)
	}
	defer rows.Close()

	var out []*experiment.Experiment
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan experiment row: %w", err)
		}
		var exp experiment.Experiment
		if err := json.Unmarshal(definition, &exp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal experiment: %w", err)
		}
		out = append(out, &exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate experiment rows: %w", err)
	}
	return out, nil
}

// LoadAssignments reads back the sticky assignments for one experiment
func (s *Store) LoadAssignments(ctx context.Context, experimentID uuid.UUID) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, variant FROM assignments WHERE experiment_id = $1`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var userID, variant string
		if err := rows.Scan(&userID, &variant); err != nil {
			return nil, fmt.Errorf("failed to scan assignment row: %w", err)
		}
		out[userID] = variant
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignment rows: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
