// Package embeddings wraps the hosted embedding API.
//
// The service converts text to fixed-width float32 vectors, truncates
// oversized input, and tracks token usage and estimated cost per call.
// It performs no retries; retry policy belongs to the orchestrator.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxInputChars caps input length before the provider call. Longer text is
// truncated, not rejected: a cost and latency bound, not an error.
const maxInputChars = 32000

// Provider rate limit: 50 requests per minute with small bursts.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Usage reports token consumption and estimated cost for one or more calls.
type Usage struct {
	TotalTokens   int     `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Result is a single embedding with its usage.
type Result struct {
	Vector []float32 `json:"vector"`
	Usage  Usage     `json:"usage"`
}

// BatchResult holds order-preserving batch embeddings and summed usage.
type BatchResult struct {
	Vectors [][]float32 `json:"vectors"`
	Usage   Usage       `json:"usage"`
}

// Options override the model and output dimensionality per call.
type Options struct {
	Model      string
	Dimensions int
}

// Recorder persists append-only AI interaction audit rows. A nil recorder
// disables auditing; audit failures never fail the embedding call.
type Recorder interface {
	RecordInteraction(ctx context.Context, rec domain.AIInteraction) error
}

// Config holds embedding service configuration.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint, without trailing /v1.
	BaseURL string

	// APIKey authenticates requests. Required.
	APIKey string

	// Model is the default embedding model.
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

// Service generates embeddings via the hosted provider.
type Service struct {
	config   Config
	client   *http.Client
	limiter  *rate.Limiter
	recorder Recorder
	logger   *zap.Logger
}

// NewService creates an embedding service. recorder may be nil.
func NewService(cfg Config, recorder Recorder, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		config:   cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		recorder: recorder,
		logger:   logger,
	}, nil
}

// embeddingRequest is the provider request body.
type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// embeddingResponse is the provider response body.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates an embedding for a single text.
//
// Empty or whitespace-only text fails validation. Text beyond the input cap
// is truncated before sending. Provider failures surface wrapped, untried.
func (s *Service) Embed(ctx context.Context, text string, opts *Options) (*Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", errs.ErrValidation)
	}
	if len(trimmed) > maxInputChars {
		s.logger.Debug("truncating embedding input",
			zap.Int("original_chars", len(trimmed)),
			zap.Int("cap", maxInputChars),
		)
		trimmed = trimmed[:maxInputChars]
	}

	model := s.config.Model
	req := embeddingRequest{Model: model, Input: trimmed}
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
			req.Model = model
		}
		if opts.Dimensions > 0 {
			req.Dimensions = opts.Dimensions
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := s.doRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("failed to generate embedding: %w: empty data", errs.ErrProvider)
	}

	usage := Usage{
		TotalTokens:   resp.Usage.TotalTokens,
		EstimatedCost: EstimateCost(model, resp.Usage.TotalTokens),
	}
	s.record(ctx, model, trimmed, usage)

	return &Result{Vector: resp.Data[0].Embedding, Usage: usage}, nil
}

// EmbedBatch generates embeddings for several texts, one provider call per
// text in input order, and sums usage across calls.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, opts *Options) (*BatchResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", errs.ErrValidation)
	}

	out := &BatchResult{Vectors: make([][]float32, 0, len(texts))}
	for i, text := range texts {
		res, err := s.Embed(ctx, text, opts)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		out.Vectors = append(out.Vectors, res.Vector)
		out.Usage.TotalTokens += res.Usage.TotalTokens
		out.Usage.EstimatedCost += res.Usage.EstimatedCost
	}
	return out, nil
}

// Healthy verifies the provider is reachable with the configured key.
func (s *Service) Healthy(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.BaseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errs.ErrProvider, resp.StatusCode)
	}
	return nil
}

// doRequest performs the HTTP call against the embeddings endpoint.
func (s *Service) doRequest(ctx context.Context, req embeddingRequest) (*embeddingResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", errs.ErrProvider, resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", errs.ErrProvider, err)
	}
	return &parsed, nil
}

// record writes an audit row for a completed call. Best-effort.
func (s *Service) record(ctx context.Context, model, input string, usage Usage) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.RecordInteraction(ctx, domain.AIInteraction{
		Type:          "embedding",
		Model:         model,
		Input:         input,
		TotalTokens:   usage.TotalTokens,
		EstimatedCost: usage.EstimatedCost,
	})
	if err != nil {
		s.logger.Warn("recording embedding interaction", zap.Error(err))
	}
}
