package llm

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// rateLimitedLLM paces requests with a token bucket so the harness never
// initiates more judge calls than the configured sustained rate.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware enforces a client-side requests-per-second limit
// with burst capacity. This is proactive pacing; reactive upstream
// rate-limit handling lives in the coordinator.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{next: next, limiter: limiter}
	}
}

func (r *rateLimitedLLM) Complete(ctx context.Context, prompt string, opts RequestOptions) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Complete(ctx, prompt, opts)
}

func (r *rateLimitedLLM) Model() string { return r.next.Model() }

// retryLLM retries transient failures with exponential backoff and
// jitter. Non-retryable errors (auth, bad request, cancellation) fail
// immediately.
type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware retries failed requests up to maxRetries times with
// exponential backoff between baseDelay and maxDelay.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{next: next, maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
	}
}

func (r *retryLLM) Complete(ctx context.Context, prompt string, opts RequestOptions) (Completion, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		completion, err := r.next.Complete(ctx, prompt, opts)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil || attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		case <-time.After(r.backoff(attempt)):
		}
	}
	return Completion{}, fmt.Errorf("request failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

// backoff computes the exponential delay with ±25% jitter.
func (r *retryLLM) backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(float64(r.baseDelay) * float64(int64(1)<<uint(attempt)))

	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - delay/4

	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

func (r *retryLLM) Model() string { return r.next.Model() }

// timeoutLLM bounds each request with a deadline independent of the
// caller's context.
type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware caps the wall-clock time of each request.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{next: next, timeout: timeout}
	}
}

func (t *timeoutLLM) Complete(ctx context.Context, prompt string, opts RequestOptions) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, prompt, opts)
}

func (t *timeoutLLM) Model() string { return t.next.Model() }

// tracedLLM records each request as an OpenTelemetry span with model and
// token attributes.
type tracedLLM struct {
	next   CoreLLM
	tracer trace.Tracer
}

// TracingMiddleware wraps requests in trace spans for observability.
func TracingMiddleware(serviceName string) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{next: next, tracer: otel.Tracer(serviceName)}
	}
}

func (t *tracedLLM) Complete(ctx context.Context, prompt string, opts RequestOptions) (Completion, error) {
	ctx, span := t.tracer.Start(ctx, "llm.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", t.next.Model()),
		attribute.Int("llm.prompt.length", len(prompt)),
	)

	completion, err := t.next.Complete(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return completion, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", completion.TokensIn),
		attribute.Int("llm.tokens.output", completion.TokensOut),
	)
	return completion, nil
}

func (t *tracedLLM) Model() string { return t.next.Model() }
