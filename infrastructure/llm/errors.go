package llm

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared across providers.
var (
	// ErrEmptyAPIKey indicates a provider was configured without credentials.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")

	// ErrEmptyResponse indicates the API returned no usable content.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// ProviderError wraps a vendor SDK failure with the classification the
// middleware chain and callers act on.
type ProviderError struct {
	// Provider names the backend that failed.
	Provider string

	// StatusCode is the HTTP status when known, zero otherwise.
	StatusCode int

	// Message is the vendor's error description.
	Message string

	// Err is the underlying SDK error.
	Err error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimited reports whether the failure was an upstream rate limit.
func (e *ProviderError) RateLimited() bool { return e.StatusCode == 429 }

// Retryable reports whether a retry has a chance of succeeding:
// rate limits and server-side errors are retryable, authentication and
// request-shape errors are not.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// newProviderError classifies one SDK failure. Context errors pass
// through unwrapped so callers can match them with errors.Is.
func newProviderError(provider string, statusCode int, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if message == "" {
		message = "unknown error"
	}
	return &ProviderError{Provider: provider, StatusCode: statusCode, Message: message, Err: err}
}

// AsProviderError unwraps err to a ProviderError if one is present.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

// retryable reports whether err is worth retrying at all.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Retryable()
	}
	// Network-level failures without classification are retryable.
	return true
}
