package ports

import (
	"time"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// MetricsCollector records operational metrics for the harness.
// Implementations integrate with observability platforms like Prometheus;
// a no-op implementation is acceptable for tests and one-shot tooling.
type MetricsCollector interface {
	// RecordStageLatency records the execution time of one pipeline stage.
	RecordStageLatency(state domain.RunState, d time.Duration)

	// RecordTrialOutcome counts a finished trial by pass/fail outcome.
	RecordTrialOutcome(passed bool)

	// RecordRateLimitPause counts one pool-wide pause/resume cycle.
	RecordRateLimitPause(source domain.RateLimitSource)

	// RecordJudgeUsage accumulates judge token and dollar spend.
	RecordJudgeUsage(model string, tokens domain.TokenStats, costUSD float64)
}

// CheckpointStore is the durable record of which trials have completed.
// All mutations are serialized through a single store instance owned by
// the driver; workers never write the checkpoint file directly.
type CheckpointStore interface {
	// MarkCompleted records a finished trial with its pass/fail status
	// and persists the checkpoint atomically.
	MarkCompleted(id domain.TrialID, passed bool) error

	// Unmark removes a trial's completion record, used when a completed
	// trial is explicitly invalidated for retry.
	Unmark(id domain.TrialID) error

	// IsCompleted reports whether the trial already finished, and with
	// which outcome.
	IsCompleted(id domain.TrialID) (done bool, passed bool)

	// SetLifecycle updates the experiment lifecycle status
	// (running, paused_rate_limit, interrupted, completed).
	SetLifecycle(status string) error

	// RecordPause notes an active rate-limit pause: status flips to
	// paused_rate_limit and the pause counter increments.
	RecordPause(info domain.RateLimitInfo) error

	// RecordResume reverts the lifecycle to running after a pause.
	RecordResume() error
}
