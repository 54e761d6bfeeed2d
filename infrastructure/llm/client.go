// Package llm provides a unified client for the LLM providers used as
// judges, with cross-cutting concerns (rate limiting, retries, timeouts,
// tracing) composed through a middleware chain.
//
// Provider implementations are abstracted behind the CoreLLM interface
// and registered in a factory map, so callers select a provider by name
// and never touch vendor SDKs directly:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-sonnet-4-20250514",
//	    Middleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(2, 4),
//	        llm.RetryMiddleware(3, time.Second, 30*time.Second),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
)

// RequestOptions carries the per-request generation parameters shared by
// every provider. Zero values mean "use the provider default".
type RequestOptions struct {
	// MaxTokens bounds the response length.
	MaxTokens int

	// Temperature controls sampling randomness. Nil leaves the provider
	// default in place; judges typically pin it to zero.
	Temperature *float64

	// System is an optional system prompt.
	System string
}

// Completion is the provider-neutral result of one request.
type Completion struct {
	// Text is the generated response.
	Text string

	// TokensIn and TokensOut are the usage counts reported by the API,
	// falling back to estimation when the API omits them.
	TokensIn  int
	TokensOut int
}

// CoreLLM is the minimal surface a provider must implement. Middleware
// wraps any conforming implementation.
type CoreLLM interface {
	// Complete sends one prompt and returns the parsed completion.
	Complete(ctx context.Context, prompt string, opts RequestOptions) (Completion, error)

	// Model returns the configured model name.
	Model() string
}

// Middleware wraps a CoreLLM to add cross-cutting behavior without
// modifying provider logic.
type Middleware func(CoreLLM) CoreLLM

// ClientConfig holds everything needed to assemble a provider client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model selects the model; empty uses the provider default.
	Model string

	// BaseURL overrides the provider's default endpoint when set.
	BaseURL string

	// Middleware is applied in order; the first entry is outermost.
	Middleware []Middleware
}

// ProviderFactory builds a CoreLLM from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a provider under a name. Providers
// self-register from init so importing the package is enough.
func RegisterProviderFactory(name string, factory ProviderFactory) {
	providerFactories[name] = factory
}

// NewClient assembles a provider with its middleware chain.
func NewClient(provider string, config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factory, ok := providerFactories[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", provider, err)
	}

	// Reverse order so the first configured middleware is outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}
	return core, nil
}

// estimateTokens approximates a token count at four characters per
// token, used when the API response omits usage metadata.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
