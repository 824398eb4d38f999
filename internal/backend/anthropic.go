package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	defaultAnthropicModel   = "claude-sonnet-4-5"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 4096
	defaultTimeout          = 120 * time.Second
	defaultMaxRetries       = 3
)

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	MaxTokens         int
	RequestsPerMinute float64
	Timeout           time.Duration

	// MaxRetries bounds transport-level retries for 429 and 5xx responses.
	MaxRetries uint
}

// Anthropic generates code through the Anthropic Messages API.
type Anthropic struct {
	cfg        AnthropicConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

// NewAnthropic creates a client. The API key is required.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Anthropic{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg.RequestsPerMinute),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

// newLimiter converts a per-minute budget into a token bucket. Zero or
// negative means unlimited.
func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perMinute / 10)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), burst)
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one Messages request, retrying 429 and 5xx responses.
func (a *Anthropic) Generate(ctx context.Context, req Request) (Artifact, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return Artifact{}, fmt.Errorf("rate limiter: %w", err)
	}

	maxTokens := a.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	body := anthropicRequest{
		Model:       a.cfg.Model,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: req.FullPrompt()}},
		Temperature: req.Temperature,
	}

	resp, err := backoff.Retry(ctx, func() (*anthropicResponse, error) {
		return a.do(ctx, body)
	},
		backoff.WithBackOff(a.newBackOff()),
		backoff.WithMaxTries(a.cfg.MaxRetries+1),
	)
	if err != nil {
		return Artifact{}, err
	}

	var text bytes.Buffer
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	code := ExtractCode(text.String())
	if code == "" {
		return Artifact{}, ErrEmptyCompletion
	}
	return Artifact{
		Code:         code,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func (a *Anthropic) do(ctx context.Context, body anthropicRequest) (*anthropicResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, errors.New("anthropic rate limited (429)")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("anthropic server error (%d): %s", resp.StatusCode, truncate(string(raw), 512))
	case resp.StatusCode != http.StatusOK:
		var apiErr anthropicError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, backoff.Permanent(fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, apiErr.Error.Message))
		}
		return nil, backoff.Permanent(fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, truncate(string(raw), 512)))
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parsing response: %w", err))
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Generator = (*Anthropic)(nil)
