// Package monitor runs the periodic health checks over active experiments:
// sample-ratio-mismatch detection, sample-size attainment, and max-duration
// enforcement. Alerts go to the framework's event sink; alert volume is
// rate limited so a persistent condition does not flood downstream
// consumers.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/expflow/internal/engine"
	"github.com/ajitpratap0/expflow/internal/events"
	"github.com/ajitpratap0/expflow/internal/experiment"
	"github.com/ajitpratap0/expflow/internal/telemetry"
)

const (
	defaultInterval   = 30 * time.Second
	defaultAlertRate  = rate.Limit(1.0 / 60) // one alert per minute per kind
	defaultAlertBurst = 3

	// srmMinAssignments gates the SRM check; chi-square on tiny counts is
	// noise
	srmMinAssignments = 100
)

// Alert is the payload published with experiment.alert events
type Alert struct {
	Kind         string    `json:"kind"`
	ExperimentID uuid.UUID `json:"experiment_id"`
	Message      string    `json:"message"`
	PValue       float64   `json:"p_value,omitempty"`
	SampleSize   int       `json:"sample_size,omitempty"`
	RequiredSize int       `json:"required_size,omitempty"`
}

// Options configures a Monitor
type Options struct {
	Interval time.Duration
	Sink     events.Sink
}

// Monitor watches active experiments on a fixed interval
type Monitor struct {
	framework *engine.Framework
	sink      events.Sink
	interval  time.Duration

	limiterMu sync.Mutex
	limiters  map[alertKey]*rate.Limiter

	stopCh chan struct{}
	doneCh chan struct{}
	log    zerolog.Logger
}

type alertKey struct {
	experimentID uuid.UUID
	kind         string
}

// New creates a Monitor over a framework
func New(framework *engine.Framework, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Sink == nil {
		opts.Sink = events.NewMemorySink()
	}
	return &Monitor{
		framework: framework,
		sink:      opts.Sink,
		interval:  opts.Interval,
		limiters:  make(map[alertKey]*rate.Limiter),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       log.With().Str("component", "monitor").Logger(),
	}
}

// Start launches the check loop in the background
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop shuts the loop down and waits for it to exit
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.interval).Msg("Monitor started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs every health check over every active experiment. It is
// exported so callers and tests can force a pass outside the ticker.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, exp := range m.framework.ActiveExperiments() {
		m.checkSRM(ctx, exp)
		m.checkSampleSize(ctx, exp)
		m.checkMaxDuration(ctx, exp)
	}
}

func (m *Monitor) checkSRM(ctx context.Context, exp *experiment.Experiment) {
	counts := m.framework.AssignmentCounts(exp.ID)
	total := 0
	for _, n := range counts {
		total += n
	}
	if total < srmMinAssignments {
		return
	}

	srm, err := m.framework.SRMCheck(exp.ID)
	if err != nil || !srm.Mismatch {
		return
	}
	m.alert(ctx, exp.ID, &Alert{
		Kind:         telemetry.AlertSRM,
		ExperimentID: exp.ID,
		Message:      "observed assignment ratio deviates from configured weights",
		PValue:       srm.PValue,
	})
}

func (m *Monitor) checkSampleSize(ctx context.Context, exp *experiment.Experiment) {
	collected, required := m.framework.SampleProgress(exp.ID)
	if required <= 0 || collected < required {
		return
	}
	m.alert(ctx, exp.ID, &Alert{
		Kind:         telemetry.AlertSampleSize,
		ExperimentID: exp.ID,
		Message:      "required sample size reached",
		SampleSize:   collected,
		RequiredSize: required,
	})
}

func (m *Monitor) checkMaxDuration(ctx context.Context, exp *experiment.Experiment) {
	if exp.MaxDuration <= 0 {
		return
	}
	if time.Since(exp.StartedAt) < exp.MaxDuration {
		return
	}

	m.alert(ctx, exp.ID, &Alert{
		Kind:         telemetry.AlertDuration,
		ExperimentID: exp.ID,
		Message:      "max duration exceeded, stopping experiment",
	})
	if _, err := m.framework.StopExperiment(ctx, exp.ID, engine.StopOptions{Reason: telemetry.StopReasonDuration}); err != nil {
		m.log.Debug().Err(err).Str("experiment_id", exp.ID.String()).Msg("Duration stop skipped")
	}
}

func (m *Monitor) alert(ctx context.Context, experimentID uuid.UUID, alert *Alert) {
	key := alertKey{experimentID, alert.Kind}
	m.limiterMu.Lock()
	limiter, ok := m.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(defaultAlertRate, defaultAlertBurst)
		m.limiters[key] = limiter
	}
	m.limiterMu.Unlock()
	if !limiter.Allow() {
		return
	}

	telemetry.MonitorAlerts.WithLabelValues(alert.Kind).Inc()
	m.log.Warn().
		Str("experiment_id", experimentID.String()).
		Str("kind", alert.Kind).
		Str("message", alert.Message).
		Msg("Experiment alert")

	ev, err := events.New(events.TypeExperimentAlert, experimentID, alert)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to build alert event")
		return
	}
	if err := m.sink.Publish(ctx, ev); err != nil {
		m.log.Warn().Err(err).Msg("Failed to publish alert event")
	}
}
