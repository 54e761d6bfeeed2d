package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.RecordStageLatency(domain.StateAgentComplete, 2*time.Second)
	pm.RecordTrialOutcome(true)
	pm.RecordTrialOutcome(true)
	pm.RecordTrialOutcome(false)
	pm.RecordRateLimitPause(domain.SourceAgent)
	pm.RecordJudgeUsage("judge-a", domain.TokenStats{Input: 1000, Output: 200}, 0.05)
	pm.RecordJudgeUsage("judge-a", domain.TokenStats{Input: 500, Output: 100}, 0.02)

	assert.Equal(t, float64(2), testutil.ToFloat64(pm.trialOutcomes.WithLabelValues("passed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.trialOutcomes.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.rateLimitPause.WithLabelValues("agent")))
	assert.Equal(t, float64(1500), testutil.ToFloat64(pm.judgeTokens.WithLabelValues("judge-a", "input")))
	assert.Equal(t, float64(300), testutil.ToFloat64(pm.judgeTokens.WithLabelValues("judge-a", "output")))
	assert.InDelta(t, 0.07, testutil.ToFloat64(pm.judgeCost.WithLabelValues("judge-a")), 1e-9)

	count, err := testutil.GatherAndCount(reg, "gauntlet_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
