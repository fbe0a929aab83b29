// Package llm wraps the hosted chat/completion API.
//
// It exposes the low-level ChatCompletion primitive that higher layers (the
// relevance analyzer, tag extraction) build structured prompts on top of.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Provider rate limit: 50 requests per minute with small bursts.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options override per-call chat parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int

	// ForceJSON requests a json_object response format from the provider.
	ForceJSON bool
}

// Usage reports token consumption and estimated cost for a chat call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Result is a chat completion with its usage.
type Result struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Recorder persists append-only AI interaction audit rows. A nil recorder
// disables auditing; audit failures never fail the chat call.
type Recorder interface {
	RecordInteraction(ctx context.Context, rec domain.AIInteraction) error
}

// Config holds chat client configuration.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint, without trailing /v1.
	BaseURL string

	// APIKey authenticates requests. Required.
	APIKey string

	// Model is the default chat model.
	Model string

	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", errs.ErrValidation)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", errs.ErrValidation)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", errs.ErrValidation)
	}
	return nil
}

// Client calls the hosted chat API. It performs no retries; retry policy
// belongs to the orchestrator.
type Client struct {
	config   Config
	client   *http.Client
	limiter  *rate.Limiter
	recorder Recorder
	logger   *zap.Logger
}

// NewClient creates a chat client. recorder may be nil.
func NewClient(cfg Config, recorder Recorder, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:   cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		recorder: recorder,
		logger:   logger,
	}, nil
}

// chatRequest is the provider request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the provider response body.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatError is the provider error envelope.
type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatCompletion sends the messages and returns the first choice.
//
// Validation failures (no messages) never reach the provider. Provider
// failures surface wrapped with the original message preserved.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts *Options) (*Result, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: messages cannot be empty", errs.ErrValidation)
	}

	model := c.config.Model
	req := chatRequest{Model: model, Messages: messages, Temperature: 0.7}
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
			req.Model = model
		}
		if opts.Temperature > 0 {
			req.Temperature = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			req.MaxTokens = opts.MaxTokens
		}
		if opts.ForceJSON {
			req.ResponseFormat = &responseFormat{Type: "json_object"}
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", errs.ErrProvider)
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		EstimatedCost:    EstimateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}
	content := resp.Choices[0].Message.Content
	c.record(ctx, model, messages, content, usage)

	return &Result{Content: content, Model: model, Usage: usage}, nil
}

// Healthy verifies the provider is reachable with the configured key.
func (c *Client) Healthy(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errs.ErrProvider, resp.StatusCode)
	}
	return nil
}

// doRequest performs the HTTP call against the chat completions endpoint.
func (c *Client) doRequest(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrProvider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp chatError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", errs.ErrProvider, resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d: %s", errs.ErrProvider, resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", errs.ErrProvider, err)
	}
	return &parsed, nil
}

// record writes an audit row for a completed call. Best-effort.
func (c *Client) record(ctx context.Context, model string, messages []Message, output string, usage Usage) {
	if c.recorder == nil {
		return
	}
	input := ""
	if len(messages) > 0 {
		input = messages[len(messages)-1].Content
	}
	err := c.recorder.RecordInteraction(ctx, domain.AIInteraction{
		Type:          "chat",
		Model:         model,
		Input:         input,
		Output:        output,
		PromptTokens:  usage.PromptTokens,
		OutputTokens:  usage.CompletionTokens,
		TotalTokens:   usage.TotalTokens,
		EstimatedCost: usage.EstimatedCost,
	})
	if err != nil {
		c.logger.Warn("recording chat interaction", zap.Error(err))
	}
}
