package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// GoogleDefaultModel is used when no model is configured.
const GoogleDefaultModel = "gemini-2.0-flash"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements CoreLLM for Google's Gemini API.
type googleProvider struct {
	client *genai.Client
	model  string
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Google client: %w", err)
	}

	return &googleProvider{client: client, model: model}, nil
}

func (p *googleProvider) Complete(ctx context.Context, prompt string, opts RequestOptions) (Completion, error) {
	// Gemini has no separate system role; the system prompt is prepended.
	finalPrompt := prompt
	if opts.System != "" {
		finalPrompt = fmt.Sprintf("System: %s\n\nUser: %s", opts.System, prompt)
	}

	config := &genai.GenerateContentConfig{}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		temp := float32(*opts.Temperature)
		config.Temperature = &temp
	}

	contents := []*genai.Content{genai.NewContentFromText(finalPrompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return Completion{}, p.wrapError(err)
	}

	content := resp.Text()
	if content == "" {
		return Completion{}, ErrEmptyResponse
	}

	completion := Completion{Text: content}
	if usage := resp.UsageMetadata; usage != nil {
		completion.TokensIn = tokenCount(int(usage.PromptTokenCount), finalPrompt)
		completion.TokensOut = tokenCount(int(usage.CandidatesTokenCount), content)
	} else {
		completion.TokensIn = estimateTokens(finalPrompt)
		completion.TokensOut = estimateTokens(content)
	}
	return completion, nil
}

func (p *googleProvider) wrapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return newProviderError("google", apiErr.Code, apiErr.Message, err)
	}
	return newProviderError("google", 0, err.Error(), err)
}

func (p *googleProvider) Model() string { return p.model }
