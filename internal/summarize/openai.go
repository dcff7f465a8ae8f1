package summarize

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAICompleter is a Completer backed by the OpenAI chat completions API
// or any compatible endpoint.
type OpenAICompleter struct {
	client      openai.Client
	model       string
	temperature float64
}

// OpenAIOption configures an OpenAICompleter.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model   string
	baseURL string
	timeout time.Duration
}

// WithModel sets the chat model.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = baseURL
	}
}

// WithRequestTimeout bounds each completion request.
func WithRequestTimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) {
		c.timeout = d
	}
}

// NewOpenAICompleter creates a completer authenticated with apiKey.
func NewOpenAICompleter(apiKey string, opts ...OpenAIOption) *OpenAICompleter {
	cfg := openAIConfig{model: DefaultModel, timeout: 2 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(cfg.timeout),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &OpenAICompleter{
		client:      openai.NewClient(reqOpts...),
		model:       cfg.model,
		temperature: 0.1,
	}
}

// Model returns the configured chat model.
func (c *OpenAICompleter) Model() string {
	return c.model
}

// Complete sends the prompt and corpus as separate user messages after the
// system prompt.
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
			openai.UserMessage(req.Corpus),
		},
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("completion returned no choices")
	}

	return &Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
