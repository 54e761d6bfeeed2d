// Package middleware provides cross-cutting concerns for the harness,
// currently the Prometheus-backed metrics collector.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
)

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It tracks stage latency, trial outcomes, rate-limit
// pauses, and judge spend for the running experiment.
type PrometheusMetrics struct {
	stageLatency   *prometheus.HistogramVec
	trialOutcomes  *prometheus.CounterVec
	rateLimitPause *prometheus.CounterVec
	judgeTokens    *prometheus.CounterVec
	judgeCost      *prometheus.CounterVec
}

// NewPrometheusMetrics registers the harness metrics in reg, or the
// default registry when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &PrometheusMetrics{
		stageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gauntlet_stage_duration_seconds",
				Help:    "Execution time of trial pipeline stages.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"stage"},
		),
		trialOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gauntlet_trials_total",
				Help: "Finished trials by outcome.",
			},
			[]string{"outcome"},
		),
		rateLimitPause: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gauntlet_rate_limit_pauses_total",
				Help: "Pool-wide rate-limit pause cycles by source.",
			},
			[]string{"source"},
		),
		judgeTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gauntlet_judge_tokens_total",
				Help: "Judge token consumption by model and direction.",
			},
			[]string{"model", "direction"},
		),
		judgeCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gauntlet_judge_cost_usd_total",
				Help: "Estimated judge spend in dollars by model.",
			},
			[]string{"model"},
		),
	}
}

// RecordStageLatency records the execution time of one pipeline stage.
func (pm *PrometheusMetrics) RecordStageLatency(state domain.RunState, d time.Duration) {
	pm.stageLatency.WithLabelValues(state.String()).Observe(d.Seconds())
}

// RecordTrialOutcome counts a finished trial by pass/fail outcome.
func (pm *PrometheusMetrics) RecordTrialOutcome(passed bool) {
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	pm.trialOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRateLimitPause counts one pool-wide pause cycle.
func (pm *PrometheusMetrics) RecordRateLimitPause(source domain.RateLimitSource) {
	pm.rateLimitPause.WithLabelValues(string(source)).Inc()
}

// RecordJudgeUsage accumulates judge token and dollar spend.
func (pm *PrometheusMetrics) RecordJudgeUsage(model string, tokens domain.TokenStats, costUSD float64) {
	pm.judgeTokens.WithLabelValues(model, "input").Add(float64(tokens.Input))
	pm.judgeTokens.WithLabelValues(model, "output").Add(float64(tokens.Output))
	pm.judgeCost.WithLabelValues(model).Add(costUSD)
}
