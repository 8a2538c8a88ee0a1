package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for the executions counter
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeTimeout   = "timeout"
	OutcomeKilled    = "killed"
	OutcomeRejected  = "rejected"
	OutcomeCached    = "cached"
	OutcomeLaunchErr = "launch_error"
)

// Metrics groups the sandbox's Prometheus collectors
type Metrics struct {
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	CacheRequests     *prometheus.CounterVec
	SafetyViolations  *prometheus.CounterVec
	ActiveExecutions  prometheus.Gauge
	RelayDropped      prometheus.Counter
	CleanupFailures   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_executions_total",
			Help: "Executions by language and outcome",
		}, []string{"language", "outcome"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandbox_execution_duration_seconds",
			Help:    "Wall time of non-cached executions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"language"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_cache_requests_total",
			Help: "Result cache lookups by result",
		}, []string{"result"}),
		SafetyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_safety_violations_total",
			Help: "Executions rejected by the safety gate, by rule",
		}, []string{"rule"}),
		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_active_executions",
			Help: "Executions currently holding a workspace",
		}),
		RelayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_relay_dropped_chunks_total",
			Help: "Output chunks dropped because a subscriber or sink was full",
		}),
		CleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_cleanup_failures_total",
			Help: "Teardown steps that failed, by resource",
		}, []string{"resource"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Executions,
			m.ExecutionDuration,
			m.CacheRequests,
			m.SafetyViolations,
			m.ActiveExecutions,
			m.RelayDropped,
			m.CleanupFailures,
		)
	}
	return m
}
