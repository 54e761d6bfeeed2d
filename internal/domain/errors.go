package domain

import (
	"errors"
	"fmt"
)

// Common errors returned by the harness engine.
var (
	// ErrCheckpointNotFound indicates that no checkpoint exists at the
	// requested path.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCheckpointCorrupt indicates that the checkpoint file exists but
	// cannot be decoded. Fatal and loud; never silently recreated.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrShutdownRequested indicates cooperative shutdown was signalled
	// between trials or stages.
	ErrShutdownRequested = errors.New("shutdown requested")

	// ErrInvalidConfiguration indicates that experiment configuration is
	// invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAgentTimeout indicates the agent subprocess exceeded its
	// wall-clock budget.
	ErrAgentTimeout = errors.New("agent timed out")
)

// RateLimitError is the distinguished error for upstream rate limiting.
// It is recoverable: the pool pauses, waits, and retries without
// discarding completed work. Every layer distinguishes it from ordinary
// trial failures via errors.As.
type RateLimitError struct {
	// Info describes the detected condition.
	Info RateLimitInfo
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %ds: %s",
		e.Info.Source, e.Info.RetryAfterSeconds, e.Info.ErrorMessage)
}

// NewRateLimitError wraps detected rate-limit evidence as an error.
func NewRateLimitError(info RateLimitInfo) *RateLimitError {
	return &RateLimitError{Info: info}
}

// AsRateLimit extracts a RateLimitError from an error chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	ok := errors.As(err, &rle)
	return rle, ok
}

// ConfigMismatchError indicates that a resumed experiment's configuration
// fingerprint differs from the checkpoint's. Fatal at resume: the
// operator must choose a fresh run or fix the config.
type ConfigMismatchError struct {
	// CheckpointFingerprint is the hash recorded at experiment start.
	CheckpointFingerprint string

	// ConfigFingerprint is the hash of the configuration now supplied.
	ConfigFingerprint string
}

// Error implements the error interface.
func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("config fingerprint mismatch: checkpoint=%s config=%s",
		e.CheckpointFingerprint, e.ConfigFingerprint)
}

// StageError wraps a failure inside a named pipeline stage, preserving
// which trial and state were active.
type StageError struct {
	// Trial identifies the failing trial.
	Trial TrialID

	// State is the state the stage was trying to reach.
	State RunState

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("trial %s: stage %s: %v", e.Trial, e.State, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *StageError) Unwrap() error { return e.Err }
