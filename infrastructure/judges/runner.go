// Package judges implements the judge port over the unified LLM client.
// Each configured judge model gets its own middleware-wrapped client;
// the runner parses structured verdicts out of free-form model output
// and converts upstream rate limits into the domain's typed error.
package judges

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-gauntlet/infrastructure/llm"
	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
	"github.com/ahrav/go-gauntlet/internal/ratelimit"
)

var _ ports.JudgeRunner = (*Runner)(nil)

// ModelConfig binds one judge model to its provider and credentials.
type ModelConfig struct {
	// Provider selects the backend (anthropic, openai, google).
	Provider string

	// Model is the model identifier, also the lookup key at judge time.
	Model string

	// APIKey authenticates requests.
	APIKey string
}

// Options tunes the shared middleware chain of every judge client.
type Options struct {
	// RequestsPerSecond paces outgoing judge calls. Zero disables the
	// client-side limiter.
	RequestsPerSecond float64

	// MaxRetries bounds transient-failure retries per call.
	MaxRetries int

	// Timeout caps each judge call's wall-clock time.
	Timeout time.Duration
}

// DefaultOptions returns the middleware tuning used in production.
func DefaultOptions() Options {
	return Options{
		RequestsPerSecond: 2,
		MaxRetries:        3,
		Timeout:           5 * time.Minute,
	}
}

// Runner evaluates trials with the configured judge models.
type Runner struct {
	clients map[string]llm.CoreLLM
}

// NewRunner builds one middleware-wrapped client per judge model.
func NewRunner(models []ModelConfig, opts Options) (*Runner, error) {
	clients := make(map[string]llm.CoreLLM, len(models))
	for _, m := range models {
		if _, dup := clients[m.Model]; dup {
			continue
		}

		var chain []llm.Middleware
		chain = append(chain, llm.TracingMiddleware("gauntlet-judge"))
		if opts.RequestsPerSecond > 0 {
			chain = append(chain, llm.RateLimitMiddleware(rate.Limit(opts.RequestsPerSecond), 2))
		}
		if opts.MaxRetries > 0 {
			chain = append(chain, llm.RetryMiddleware(opts.MaxRetries, time.Second, 30*time.Second))
		}
		if opts.Timeout > 0 {
			chain = append(chain, llm.TimeoutMiddleware(opts.Timeout))
		}

		client, err := llm.NewClient(m.Provider, llm.ClientConfig{
			APIKey:     m.APIKey,
			Model:      m.Model,
			Middleware: chain,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring judge %s/%s: %w", m.Provider, m.Model, err)
		}
		clients[m.Model] = client
	}
	return &Runner{clients: clients}, nil
}

// Judge sends the prompt to the named model and parses the verdict.
// Upstream rate limits surface as domain.RateLimitError so the driver
// pauses the pool instead of marking the judge slot invalid.
func (r *Runner) Judge(ctx context.Context, _ string, prompt, model string) (ports.Judgment, error) {
	client, ok := r.clients[model]
	if !ok {
		return ports.Judgment{}, fmt.Errorf("no client configured for judge model %q", model)
	}

	zero := 0.0
	completion, err := client.Complete(ctx, prompt, llm.RequestOptions{Temperature: &zero})
	if err != nil {
		if pe, ok := llm.AsProviderError(err); ok && pe.RateLimited() {
			return ports.Judgment{}, domain.NewRateLimitError(domain.RateLimitInfo{
				Source:            domain.SourceJudge,
				RetryAfterSeconds: ratelimit.DefaultRetrySeconds,
				ErrorMessage:      pe.Message,
				DetectedAt:        time.Now(),
			})
		}
		return ports.Judgment{}, err
	}

	judgment := ParseJudgment(completion.Text)
	judgment.RawResponse = completion.Text
	judgment.Tokens = domain.TokenStats{Input: completion.TokensIn, Output: completion.TokensOut}
	judgment.CostUSD = EstimateCost(model, completion.TokensIn, completion.TokensOut)
	return judgment, nil
}

// modelPricing is dollars per million tokens, keyed by model name prefix.
type modelPricing struct {
	prefix  string
	inPerM  float64
	outPerM float64
}

// Pricing is approximate and only feeds cost accounting in reports;
// it never gates execution.
var pricingTable = []modelPricing{
	{"claude-opus", 15.0, 75.0},
	{"claude-sonnet", 3.0, 15.0},
	{"claude-haiku", 0.8, 4.0},
	{"gpt-4o-mini", 0.15, 0.6},
	{"gpt-4o", 2.5, 10.0},
	{"gemini-2.0-flash", 0.1, 0.4},
	{"gemini", 1.25, 5.0},
}

// EstimateCost converts token usage into approximate dollars for the
// given model. Unknown models cost zero rather than guessing.
func EstimateCost(model string, tokensIn, tokensOut int) float64 {
	for _, p := range pricingTable {
		if strings.HasPrefix(model, p.prefix) {
			return float64(tokensIn)/1e6*p.inPerM + float64(tokensOut)/1e6*p.outPerM
		}
	}
	return 0
}
