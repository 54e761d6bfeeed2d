package domain

import "time"

// RateLimitSource identifies which external call surfaced the rate limit.
type RateLimitSource string

const (
	// SourceAgent marks a rate limit detected in agent output.
	SourceAgent RateLimitSource = "agent"

	// SourceJudge marks a rate limit detected in judge output.
	SourceJudge RateLimitSource = "judge"
)

// RateLimitInfo is the value passed from detector to coordinator to the
// sleeping caller. It carries no ownership.
type RateLimitInfo struct {
	// Source is the call surface that hit the limit.
	Source RateLimitSource `json:"source"`

	// RetryAfterSeconds is the upstream-declared wait, before the safety
	// buffer is applied.
	RetryAfterSeconds int `json:"retry_after_seconds"`

	// ErrorMessage is the raw evidence that triggered detection.
	ErrorMessage string `json:"error_message"`

	// DetectedAt records when the evidence was seen.
	DetectedAt time.Time `json:"detected_at"`
}

// rateLimitBufferPercent is the safety margin added to every computed
// wait so workers resume slightly after the upstream window reopens.
const rateLimitBufferPercent = 10

// BufferedWait returns the retry-after duration with the safety buffer
// applied: 60 declared seconds yields a 66 second sleep.
func (info RateLimitInfo) BufferedWait() time.Duration {
	secs := info.RetryAfterSeconds * (100 + rateLimitBufferPercent) / 100
	return time.Duration(secs) * time.Second
}
