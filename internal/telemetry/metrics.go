// Package telemetry exposes the engine's operational Prometheus metrics and
// the HTTP server that serves them.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels. Label values must come
// from these sets so series counts stay bounded.
const (
	// Track results
	TrackRecorded   = "recorded"
	TrackNoAssign   = "no_assignment"
	TrackNotTracked = "not_tracked"
	TrackShadow     = "shadow"

	// Stop reasons
	StopReasonManual     = "manual"
	StopReasonSequential = "sequential_boundary"
	StopReasonDuration   = "max_duration"

	// Alert kinds
	AlertSRM        = "sample_ratio_mismatch"
	AlertSampleSize = "sample_size_reached"
	AlertDuration   = "max_duration_exceeded"
)

var (
	// ExperimentsActive is the number of experiments in active status
	ExperimentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "expflow_experiments_active",
		Help: "Number of currently active experiments",
	})

	// ExperimentsCreated counts experiment creations
	ExperimentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expflow_experiments_created_total",
		Help: "Total number of experiments created",
	})

	// ExperimentsStopped counts stops by reason
	ExperimentsStopped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expflow_experiments_stopped_total",
		Help: "Total number of experiments stopped, by reason",
	}, []string{"reason"})

	// Assignments counts variant assignments by strategy
	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expflow_assignments_total",
		Help: "Total number of new variant assignments, by strategy",
	}, []string{"strategy"})

	// AssignmentHits counts idempotent assignment cache hits
	AssignmentHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expflow_assignment_cache_hits_total",
		Help: "Total number of assignment requests served from the sticky table",
	})

	// MetricEvents counts tracked metric events by result
	MetricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expflow_metric_events_total",
		Help: "Total number of metric events received, by result",
	}, []string{"result"})

	// Analyses counts analysis runs
	Analyses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expflow_analyses_total",
		Help: "Total number of analysis runs",
	})

	// AnalysisDuration observes analysis latency
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "expflow_analysis_duration_seconds",
		Help:    "Duration of analysis runs in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// MonitorAlerts counts monitor alerts by kind
	MonitorAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expflow_monitor_alerts_total",
		Help: "Total number of monitor alerts emitted, by kind",
	}, []string{"kind"})

	// StoreErrors counts persistence failures by operation
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expflow_store_errors_total",
		Help: "Total number of persistence errors, by operation",
	}, []string{"operation"})
)
