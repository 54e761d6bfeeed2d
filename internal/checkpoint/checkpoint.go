// Package checkpoint persists the durable record of which trials have
// completed, so an experiment can resume out of process without losing
// work. The file is written atomically (write-temp, rename) and carries
// a configuration fingerprint; resuming with a drifted configuration
// fails loudly instead of silently running a mismatched trial count.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// Lifecycle values recorded in the checkpoint's status field.
const (
	StatusRunning         = "running"
	StatusPausedRateLimit = "paused_rate_limit"
	StatusInterrupted     = "interrupted"
	StatusCompleted       = "completed"
)

// Run outcome values recorded per completed trial.
const (
	OutcomePassed = "passed"
	OutcomeFailed = "failed"
)

// Checkpoint is the process-wide persisted resume structure.
// CompletedRuns is append-only except for explicit invalidation via
// Unmark on a forced retry.
type Checkpoint struct {
	// Version guards the on-disk schema.
	Version int `json:"version"`

	// ExperimentID identifies the experiment this checkpoint belongs to.
	ExperimentID string `json:"experiment_id"`

	// ConfigFingerprint hashes the parameters that determine trial count
	// and shape. A differing fingerprint invalidates resume.
	ConfigFingerprint string `json:"config_fingerprint"`

	// CompletedRuns maps tier -> subtest -> run number -> outcome.
	CompletedRuns map[string]map[string]map[string]string `json:"completed_runs"`

	// Status is the experiment lifecycle
	// (running, paused_rate_limit, interrupted, completed).
	Status string `json:"status"`

	// RateLimit holds the active pause's metadata while paused.
	RateLimit *domain.RateLimitInfo `json:"rate_limit,omitempty"`

	// PauseCount counts completed pause/resume cycles plus any active one.
	PauseCount int `json:"pause_count"`

	// PID is the process that owns this checkpoint.
	PID int `json:"pid"`

	// UpdatedAt is the time of the last save.
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty checkpoint for a fresh experiment.
func New(experimentID, fingerprint string, pid int) *Checkpoint {
	return &Checkpoint{
		Version:           1,
		ExperimentID:      experimentID,
		ConfigFingerprint: fingerprint,
		CompletedRuns:     make(map[string]map[string]map[string]string),
		Status:            StatusRunning,
		PID:               pid,
	}
}

// Mark records a trial outcome.
func (c *Checkpoint) Mark(id domain.TrialID, outcome string) {
	if c.CompletedRuns == nil {
		c.CompletedRuns = make(map[string]map[string]map[string]string)
	}
	tier := c.CompletedRuns[id.Tier]
	if tier == nil {
		tier = make(map[string]map[string]string)
		c.CompletedRuns[id.Tier] = tier
	}
	subtest := tier[id.Subtest]
	if subtest == nil {
		subtest = make(map[string]string)
		tier[id.Subtest] = subtest
	}
	subtest[strconv.Itoa(id.Run)] = outcome
}

// Unmark removes a trial's completion record.
func (c *Checkpoint) Unmark(id domain.TrialID) {
	if subtest := c.CompletedRuns[id.Tier][id.Subtest]; subtest != nil {
		delete(subtest, strconv.Itoa(id.Run))
	}
}

// Outcome reports whether the trial completed and with which outcome.
func (c *Checkpoint) Outcome(id domain.TrialID) (string, bool) {
	outcome, ok := c.CompletedRuns[id.Tier][id.Subtest][strconv.Itoa(id.Run)]
	return outcome, ok
}

// CompletedCount returns the number of recorded trial completions.
// Value receiver so it can be called directly on Store.Snapshot().
func (c Checkpoint) CompletedCount() int {
	n := 0
	for _, tier := range c.CompletedRuns {
		for _, subtest := range tier {
			n += len(subtest)
		}
	}
	return n
}

// ValidateConfig checks fingerprint equality between the checkpoint and
// the supplied configuration fingerprint.
func (c *Checkpoint) ValidateConfig(fingerprint string) error {
	if c.ConfigFingerprint != fingerprint {
		return &domain.ConfigMismatchError{
			CheckpointFingerprint: c.ConfigFingerprint,
			ConfigFingerprint:     fingerprint,
		}
	}
	return nil
}

// Fingerprint hashes an arbitrary JSON-encodable shape into the hex
// fingerprint stored in checkpoints. Callers pass the subset of
// configuration that determines trial count and shape.
func Fingerprint(shape any) (string, error) {
	data, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("encoding fingerprint shape: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
