package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

func testExperiment() *experiment.Experiment {
	return &experiment.Experiment{
		ID:     uuid.New(),
		Name:   "pricing-page",
		Status: experiment.StatusActive,
		Variants: []experiment.Variant{
			{Name: "control", Weight: 1, Normalized: 0.5},
			{Name: "treatment", Weight: 1, Normalized: 0.5},
		},
		PrimaryMetric:     "conversion",
		PrimaryMetricType: experiment.MetricBinary,
		Strategy:          experiment.StrategyDeterministic,
		CreatedAt:         time.Now(),
		StartedAt:         time.Now(),
	}
}

func TestSaveExperiment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock)
	exp := testExperiment()

	mock.ExpectExec("INSERT INTO experiments").
		WithArgs(exp.ID, exp.Name, "active", pgxmock.AnyArg(), exp.CreatedAt, exp.EndedAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveExperiment(context.Background(), exp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAssignment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock)
	expID := uuid.New()

	mock.ExpectExec("INSERT INTO assignments").
		WithArgs("user-1", expID, "control", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveAssignment(context.Background(), "user-1", expID, "control"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMetricEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock)
	ev := &experiment.MetricEvent{
		ID:           uuid.New(),
		UserID:       "user-1",
		ExperimentID: uuid.New(),
		Metric:       "conversion",
		Value:        1,
		Timestamp:    time.Now(),
	}

	mock.ExpectExec("INSERT INTO metric_events").
		WithArgs(ev.ID, ev.ExperimentID, ev.UserID, "control", ev.Metric,
			ev.Value, ev.Predicted, ev.Actual, pgxmock.AnyArg(), ev.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AppendMetricEvent(context.Background(), ev, "control"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadExperiments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock)
	exp := testExperiment()

	definition := `{"id":"` + exp.ID.String() + `","name":"pricing-page","status":"active"}`
	rows := pgxmock.NewRows([]string{"definition"}).AddRow([]byte(definition))
	mock.ExpectQuery("SELECT definition FROM experiments").WillReturnRows(rows)

	loaded, err := s.LoadExperiments(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, exp.ID, loaded[0].ID)
	assert.Equal(t, "pricing-page", loaded[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAssignments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock)
	expID := uuid.New()

	rows := pgxmock.NewRows([]string{"user_id", "variant"}).
		AddRow("user-1", "control").
		AddRow("user-2", "treatment")
	mock.ExpectQuery("SELECT user_id, variant FROM assignments").
		WithArgs(expID).
		WillReturnRows(rows)

	assignments, err := s.LoadAssignments(context.Background(), expID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user-1": "control", "user-2": "treatment"}, assignments)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newTestCache(t *testing.T) *AssignmentCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAssignmentCacheWithClient(client)
}

func TestAssignmentCache(t *testing.T) {
	cache := newTestCache(t)
	expID := uuid.New()
	ctx := context.Background()

	_, ok := cache.Get(ctx, "user-1", expID)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "user-1", expID, "treatment"))
	variant, ok := cache.Get(ctx, "user-1", expID)
	require.True(t, ok)
	assert.Equal(t, "treatment", variant)
}

func TestAssignmentCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)
	expID := uuid.New()
	otherID := uuid.New()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "user-1", expID, "control"))
	require.NoError(t, cache.Set(ctx, "user-2", expID, "treatment"))
	require.NoError(t, cache.Set(ctx, "user-1", otherID, "control"))

	require.NoError(t, cache.Invalidate(ctx, expID))

	_, ok := cache.Get(ctx, "user-1", expID)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "user-2", expID)
	assert.False(t, ok)
	// Other experiment untouched
	variant, ok := cache.Get(ctx, "user-1", otherID)
	require.True(t, ok)
	assert.Equal(t, "control", variant)
}
