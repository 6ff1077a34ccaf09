// Package engine implements the experimentation framework orchestrator: the
// experiment registry, the assignment and metric ingestion pipeline, and the
// analysis entry points that tie the strategies, collectors, and statistical
// engines together.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/expflow/internal/assignment"
	"github.com/ajitpratap0/expflow/internal/collectors"
	"github.com/ajitpratap0/expflow/internal/events"
	"github.com/ajitpratap0/expflow/internal/experiment"
	"github.com/ajitpratap0/expflow/internal/shadow"
	"github.com/ajitpratap0/expflow/internal/stats"
	"github.com/ajitpratap0/expflow/internal/telemetry"
)

// Persister is the optional write-behind persistence collaborator. All
// calls are best-effort: a persistence failure is logged and counted but
// never blocks assignment or tracking.
type Persister interface {
	SaveExperiment(ctx context.Context, exp *experiment.Experiment) error
	SaveAssignment(ctx context.Context, userID string, experimentID uuid.UUID, variant string) error
	AppendMetricEvent(ctx context.Context, ev *experiment.MetricEvent, variant string) error
}

// Options configures a Framework
type Options struct {
	Sink      events.Sink // destination for lifecycle events; defaults to a MemorySink
	Persister Persister   // optional shared store
	Rand      *rand.Rand  // seed source for per-strategy generators; seeded in tests
	Alpha     float64     // significance level, default 0.05
	Draws     int         // Bayesian Monte Carlo draws, default 10000
	BayesSeed uint64      // fixed seed for reproducible posterior simulation
	Stages    int         // sequential interim looks, default 5
}

// Framework is the experimentation engine. All public methods are safe for
// concurrent use.
type Framework struct {
	registry    *experiment.Registry
	assignments *experiment.AssignmentTable
	metrics     *experiment.MetricStore
	collectors  *collectors.Set
	shadow      *shadow.Controller

	strategyMu sync.RWMutex
	strategies map[uuid.UUID]assignment.Strategy

	contextMu sync.RWMutex
	contexts  map[contextKey]experiment.UserContext

	resultMu sync.RWMutex
	results  map[uuid.UUID]*AnalysisResult

	sf        singleflight.Group
	randMu    sync.Mutex
	opts      Options
	sink      events.Sink
	log       zerolog.Logger
	startedAt time.Time
}

// newStrategyRand derives an independent generator for one strategy
// instance. Strategies guard their own generator with their own mutex, so
// sharing one *rand.Rand across experiments would race; with a seeded
// Options.Rand the derived seeds, and therefore assignment sequences, stay
// reproducible.
func (f *Framework) newStrategyRand() *rand.Rand {
	f.randMu.Lock()
	defer f.randMu.Unlock()
	if f.opts.Rand != nil {
		return rand.New(rand.NewSource(f.opts.Rand.Int63()))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

type contextKey struct {
	userID       string
	experimentID uuid.UUID
}

// New creates a Framework
func New(opts Options) *Framework {
	if opts.Sink == nil {
		opts.Sink = events.NewMemorySink()
	}
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		opts.Alpha = 0.05
	}
	return &Framework{
		registry:    experiment.NewRegistry(),
		assignments: experiment.NewAssignmentTable(),
		metrics:     experiment.NewMetricStore(),
		collectors:  collectors.NewSet(),
		shadow:      shadow.NewController(),
		strategies:  make(map[uuid.UUID]assignment.Strategy),
		contexts:    make(map[contextKey]experiment.UserContext),
		results:     make(map[uuid.UUID]*AnalysisResult),
		opts:        opts,
		sink:        opts.Sink,
		log:         log.With().Str("component", "engine").Logger(),
		startedAt:   time.Now(),
	}
}

// CreateExperiment validates the config, normalizes variant weights, runs
// power analysis, and registers the experiment in active status. A
// validation failure blocks creation entirely; no partial experiment is
// stored.
func (f *Framework) CreateExperiment(ctx context.Context, cfg experiment.Config) (*experiment.Experiment, error) {
	if err := experiment.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.Strategy == "" {
		cfg.Strategy = experiment.StrategyDeterministic
	}
	if cfg.Correction == "" {
		cfg.Correction = experiment.CorrectionHolm
	}
	if cfg.PrimaryMetricType == "" {
		cfg.PrimaryMetricType = experiment.MetricBinary
	}
	if cfg.BaselineRate == 0 {
		cfg.BaselineRate = 0.1
	}
	if cfg.MinDetectableEffect == 0 {
		cfg.MinDetectableEffect = 0.1
	}

	power, err := stats.ComputePower(stats.PowerRequest{
		Binary:              cfg.PrimaryMetricType == experiment.MetricBinary,
		BaselineRate:        cfg.BaselineRate,
		MinDetectableEffect: cfg.MinDetectableEffect,
		StdDev:              cfg.StdDev,
		Confidence:          cfg.Confidence,
		Power:               cfg.Power,
		Variants:            len(cfg.Variants),
		TrafficPerDay:       cfg.TrafficPerDay,
	})
	if err != nil {
		return nil, &experiment.ValidationError{Field: "power", Reason: err.Error()}
	}

	strategy, err := assignment.New(cfg.Strategy, f.newStrategyRand())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	exp := &experiment.Experiment{
		ID:                 uuid.New(),
		Name:               cfg.Name,
		Description:        cfg.Description,
		Status:             experiment.StatusActive,
		Variants:           experiment.NormalizeVariants(cfg.Variants),
		PrimaryMetric:      cfg.PrimaryMetric,
		PrimaryMetricType:  cfg.PrimaryMetricType,
		SecondaryMetrics:   cfg.SecondaryMetrics,
		Strategy:           cfg.Strategy,
		Targeting:          cfg.Targeting,
		Correction:         cfg.Correction,
		RequiredSampleSize: power.Total,
		PerVariantSamples:  power.PerVariant,
		MinRuntime:         power.MinRuntime,
		MaxDuration:        cfg.MaxDuration,
		EnableBayesian:     cfg.EnableBayesian,
		EnableSequential:   cfg.EnableSequential,
		ShadowMode:         cfg.ShadowMode,
		CreatedAt:          now,
		StartedAt:          now,
	}

	if err := f.registry.Register(exp); err != nil {
		return nil, err
	}
	f.strategyMu.Lock()
	f.strategies[exp.ID] = strategy
	f.strategyMu.Unlock()

	f.persistExperiment(ctx, exp)
	telemetry.ExperimentsCreated.Inc()
	telemetry.ExperimentsActive.Inc()
	f.emit(ctx, events.TypeExperimentCreated, exp.ID, exp)

	f.log.Info().
		Str("experiment_id", exp.ID.String()).
		Str("name", exp.Name).
		Str("strategy", string(exp.Strategy)).
		Int("required_sample_size", exp.RequiredSampleSize).
		Msg("Experiment created")
	return exp, nil
}

// AssignUser resolves the sticky variant for a user in an experiment. It
// returns ("", nil) when no assignment applies: unknown experiment, stopped
// experiment, or failed targeting. Assignment is a non-throwing hot path;
// errors surface only for strategy faults.
func (f *Framework) AssignUser(ctx context.Context, userID string, experimentID uuid.UUID, uctx experiment.UserContext) (string, error) {
	exp, err := f.registry.Get(experimentID)
	if err != nil {
		return "", nil
	}
	if exp.Status != experiment.StatusActive {
		return "", nil
	}
	if !exp.MatchesTargeting(uctx) {
		return "", nil
	}

	f.strategyMu.RLock()
	strategy := f.strategies[experimentID]
	f.strategyMu.RUnlock()
	if strategy == nil {
		return "", experiment.ErrUnknownStrategy
	}

	variant, fresh, err := f.assignments.GetOrAssign(userID, experimentID, func() (string, error) {
		return strategy.Assign(userID, exp, uctx)
	})
	if err != nil {
		return "", err
	}

	if fresh {
		// Bandit reward updates need the assignment-time features
		if _, ok := strategy.(assignment.RewardUpdater); ok {
			f.contextMu.Lock()
			f.contexts[contextKey{userID, experimentID}] = uctx
			f.contextMu.Unlock()
		}
		telemetry.Assignments.WithLabelValues(string(exp.Strategy)).Inc()
		f.persistAssignment(ctx, userID, experimentID, variant)
		f.log.Debug().
			Str("experiment_id", experimentID.String()).
			Str("user_id", userID).
			Str("variant", variant).
			Msg("User assigned")
	} else {
		telemetry.AssignmentHits.Inc()
	}
	return variant, nil
}

// TrackMetric ingests one metric event. Events from users without an
// assignment are dropped without creating any stored data. Shadow-tagged
// events go only to the isolated shadow store. When the experiment uses a
// bandit strategy and the event carries the primary metric, the reward is
// applied synchronously here; when sequential testing is enabled, the
// boundary check runs and may auto-stop the experiment.
func (f *Framework) TrackMetric(ctx context.Context, ev *experiment.MetricEvent) {
	exp, err := f.registry.Get(ev.ExperimentID)
	if err != nil {
		telemetry.MetricEvents.WithLabelValues(telemetry.TrackNotTracked).Inc()
		return
	}

	variant, ok := f.assignments.Get(ev.UserID, ev.ExperimentID)
	if !ok {
		telemetry.MetricEvents.WithLabelValues(telemetry.TrackNoAssign).Inc()
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	if ev.Shadow {
		f.shadow.Record(variant, ev)
		telemetry.MetricEvents.WithLabelValues(telemetry.TrackShadow).Inc()
		return
	}

	f.metrics.Append(ev.ExperimentID, variant, ev.Metric, experiment.Sample{
		UserID:    ev.UserID,
		Value:     ev.Value,
		Predicted: ev.Predicted,
		Actual:    ev.Actual,
		Timestamp: ev.Timestamp,
	})
	f.collectors.Collect(variant, ev)
	if exp.ShadowMode {
		f.shadow.Record(variant, ev)
	}
	telemetry.MetricEvents.WithLabelValues(telemetry.TrackRecorded).Inc()
	f.persistEvent(ctx, ev, variant)

	if ev.Metric == exp.PrimaryMetric {
		f.updateReward(ev, variant)
		if exp.EnableSequential && exp.PrimaryMetricType == experiment.MetricBinary {
			f.checkSequential(ctx, exp)
		}
	}
}

// IngestEvent translates one external observation (a model confidence
// update, a user action) into metric tracking. The event carries no
// experiment id; it fans out to every active experiment that declares the
// metric among its primary or secondary metrics. Per-experiment assignment
// gating still applies: an experiment the user is not enrolled in records
// nothing. Returns the number of experiments the event was routed to.
func (f *Framework) IngestEvent(ctx context.Context, ev *experiment.MetricEvent) int {
	routed := 0
	for _, exp := range f.registry.Active() {
		if !exp.TracksMetric(ev.Metric) {
			continue
		}
		scoped := *ev
		scoped.ID = uuid.Nil
		scoped.ExperimentID = exp.ID
		f.TrackMetric(ctx, &scoped)
		routed++
	}
	return routed
}

// updateReward feeds the primary-metric value back into a bandit strategy.
// The update is monotonic: it shifts future assignments only.
func (f *Framework) updateReward(ev *experiment.MetricEvent, variant string) {
	f.strategyMu.RLock()
	strategy := f.strategies[ev.ExperimentID]
	f.strategyMu.RUnlock()
	updater, ok := strategy.(assignment.RewardUpdater)
	if !ok {
		return
	}
	f.contextMu.RLock()
	uctx := f.contexts[contextKey{ev.UserID, ev.ExperimentID}]
	f.contextMu.RUnlock()
	updater.UpdateReward(variant, ev.Value, uctx)
}

// checkSequential runs the O'Brien-Fleming boundary check and force-stops
// the experiment when the boundary is crossed
func (f *Framework) checkSequential(ctx context.Context, exp *experiment.Experiment) {
	if len(exp.Variants) < 2 {
		return
	}
	control := exp.Variants[0].Name
	treatment := exp.Variants[1].Name
	cSum, cN := f.metrics.SumCount(exp.ID, control, exp.PrimaryMetric)
	tSum, tN := f.metrics.SumCount(exp.ID, treatment, exp.PrimaryMetric)
	if cN == 0 || tN == 0 {
		return
	}

	result, err := stats.AnalyzeSequential(
		control, int(cSum), cN,
		treatment, int(tSum), tN,
		exp.RequiredSampleSize,
		stats.SequentialOptions{Alpha: f.opts.Alpha, Stages: f.opts.Stages},
	)
	if err != nil || result.Decision == nil {
		return
	}

	f.log.Info().
		Str("experiment_id", exp.ID.String()).
		Int("stage", result.Stage).
		Float64("z", result.ZStatistic).
		Float64("boundary", result.Boundary).
		Str("winner", result.Decision.Winner).
		Msg("Sequential boundary crossed, stopping experiment")

	if _, err := f.StopExperiment(ctx, exp.ID, StopOptions{Reason: telemetry.StopReasonSequential}); err != nil {
		// A concurrent stop already won the race; nothing to do
		f.log.Debug().Err(err).Str("experiment_id", exp.ID.String()).Msg("Sequential stop skipped")
	}
}

// StopOptions configures StopExperiment
type StopOptions struct {
	Reason string
}

// StopResult pairs the stopped experiment with its final analysis
type StopResult struct {
	Experiment *experiment.Experiment `json:"experiment"`
	Results    *AnalysisResult        `json:"results"`
}

// StopExperiment transitions the experiment to stopped exactly once, runs a
// final analysis, and returns both. Stopping an already-stopped experiment
// returns experiment.ErrNotActive.
func (f *Framework) StopExperiment(ctx context.Context, experimentID uuid.UUID, opts StopOptions) (*StopResult, error) {
	if opts.Reason == "" {
		opts.Reason = telemetry.StopReasonManual
	}
	exp, err := f.registry.Stop(experimentID, opts.Reason)
	if err != nil {
		return nil, err
	}

	telemetry.ExperimentsActive.Dec()
	telemetry.ExperimentsStopped.WithLabelValues(stopReasonLabel(opts.Reason)).Inc()

	result, err := f.AnalyzeExperiment(ctx, experimentID)
	if err != nil {
		f.log.Error().Err(err).Str("experiment_id", experimentID.String()).Msg("Final analysis failed")
	}

	f.persistExperiment(ctx, exp)
	f.emit(ctx, events.TypeExperimentStopped, experimentID, &StopResult{Experiment: exp, Results: result})

	f.log.Info().
		Str("experiment_id", experimentID.String()).
		Str("reason", opts.Reason).
		Msg("Experiment stopped")
	return &StopResult{Experiment: exp, Results: result}, nil
}

// stopReasonLabel keeps the stop-reason label bounded
func stopReasonLabel(reason string) string {
	switch reason {
	case telemetry.StopReasonSequential, telemetry.StopReasonDuration, telemetry.StopReasonManual:
		return reason
	default:
		return telemetry.StopReasonManual
	}
}

// Experiment returns a registered experiment
func (f *Framework) Experiment(experimentID uuid.UUID) (*experiment.Experiment, error) {
	return f.registry.Get(experimentID)
}

// ListExperiments returns all experiments, active and stopped
func (f *Framework) ListExperiments() []*experiment.Experiment {
	return f.registry.List()
}

// ActiveExperiments returns all experiments in active status
func (f *Framework) ActiveExperiments() []*experiment.Experiment {
	return f.registry.Active()
}

// AssignmentCounts returns the per-variant assignment counts for an
// experiment
func (f *Framework) AssignmentCounts(experimentID uuid.UUID) map[string]int {
	return f.assignments.Counts(experimentID)
}

// SampleProgress returns the accumulated primary-metric sample count and
// the required total from power analysis
func (f *Framework) SampleProgress(experimentID uuid.UUID) (int, int) {
	exp, err := f.registry.Get(experimentID)
	if err != nil {
		return 0, 0
	}
	return f.metrics.TotalForMetric(experimentID, exp.PrimaryMetric), exp.RequiredSampleSize
}

// ShadowSnapshot returns the isolated shadow-store aggregation for an
// experiment
func (f *Framework) ShadowSnapshot(experimentID uuid.UUID) map[string]map[string]*shadow.MetricSnapshot {
	return f.shadow.Snapshot(experimentID)
}

// FrameworkStatus is a point-in-time operational summary
type FrameworkStatus struct {
	Experiments       int           `json:"experiments"`
	ActiveExperiments int           `json:"active_experiments"`
	Uptime            time.Duration `json:"uptime"`
}

// Status reports the framework's operational state
func (f *Framework) Status() FrameworkStatus {
	return FrameworkStatus{
		Experiments:       f.registry.Len(),
		ActiveExperiments: len(f.registry.Active()),
		Uptime:            time.Since(f.startedAt),
	}
}

func (f *Framework) emit(ctx context.Context, eventType events.Type, experimentID uuid.UUID, payload any) {
	ev, err := events.New(eventType, experimentID, payload)
	if err != nil {
		f.log.Warn().Err(err).Str("type", string(eventType)).Msg("Failed to build event")
		return
	}
	if err := f.sink.Publish(ctx, ev); err != nil {
		f.log.Warn().Err(err).Str("type", string(eventType)).Msg("Failed to publish event")
	}
}

func (f *Framework) persistExperiment(ctx context.Context, exp *experiment.Experiment) {
	if f.opts.Persister == nil {
		return
	}
	if err := f.opts.Persister.SaveExperiment(ctx, exp); err != nil {
		telemetry.StoreErrors.WithLabelValues("save_experiment").Inc()
		f.log.Warn().Err(err).Str("experiment_id", exp.ID.String()).Msg("Failed to persist experiment")
	}
}

func (f *Framework) persistAssignment(ctx context.Context, userID string, experimentID uuid.UUID, variant string) {
	if f.opts.Persister == nil {
		return
	}
	if err := f.opts.Persister.SaveAssignment(ctx, userID, experimentID, variant); err != nil {
		telemetry.StoreErrors.WithLabelValues("save_assignment").Inc()
		f.log.Warn().Err(err).Str("experiment_id", experimentID.String()).Msg("Failed to persist assignment")
	}
}

func (f *Framework) persistEvent(ctx context.Context, ev *experiment.MetricEvent, variant string) {
	if f.opts.Persister == nil {
		return
	}
	if err := f.opts.Persister.AppendMetricEvent(ctx, ev, variant); err != nil {
		telemetry.StoreErrors.WithLabelValues("append_event").Inc()
		f.log.Warn().Err(err).Str("experiment_id", ev.ExperimentID.String()).Msg("Failed to persist metric event")
	}
}
