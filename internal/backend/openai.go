package backend

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAI-compatible chat backend.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	BaseURL           string // empty for api.openai.com
	MaxTokens         int
	RequestsPerMinute float64
}

// OpenAI generates code through langchaingo's OpenAI chat client. Any
// OpenAI-compatible server (vLLM, Ollama, LM Studio) works via BaseURL.
type OpenAI struct {
	llm       llms.Model
	model     string
	maxTokens int
	limiter   *rate.Limiter
}

// NewOpenAI creates the client.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai API key required", ErrInvalidConfig)
	}
	token := cfg.APIKey
	if token == "" {
		// local OpenAI-compatible servers ignore the token but langchaingo requires one
		token = "unused"
	}

	opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return newOpenAIWithModel(llm, cfg), nil
}

func newOpenAIWithModel(llm llms.Model, cfg OpenAIConfig) *OpenAI {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &OpenAI{
		llm:       llm,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		limiter:   newLimiter(cfg.RequestsPerMinute),
	}
}

// Generate runs one chat completion.
func (o *OpenAI) Generate(ctx context.Context, req Request) (Artifact, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return Artifact{}, fmt.Errorf("rate limiter: %w", err)
	}
	maxTokens := o.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	resp, err := o.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
			llms.TextParts(schema.ChatMessageTypeHuman, req.FullPrompt()),
		},
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return Artifact{}, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Artifact{}, ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	code := ExtractCode(choice.Content)
	if code == "" {
		return Artifact{}, ErrEmptyCompletion
	}
	art := Artifact{Code: code, Model: o.model}
	if n, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
		art.InputTokens = n
	}
	if n, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
		art.OutputTokens = n
	}
	return art, nil
}

var _ Generator = (*OpenAI)(nil)
