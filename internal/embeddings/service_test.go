package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
)

// fakeProvider is an OpenAI-compatible embeddings endpoint for tests. It
// captures every request body and answers with a fixed-width vector.
type fakeProvider struct {
	mu       sync.Mutex
	requests []embeddingRequest
	status   int
	tokens   int
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		if f.status != 0 && f.status != http.StatusOK {
			http.Error(w, `{"error":{"message":"boom"}}`, f.status)
			return
		}
		tokens := f.tokens
		if tokens == 0 {
			tokens = 7
		}
		fmt.Fprintf(w, `{"data":[{"embedding":[0.1,0.2,0.3]}],"usage":{"prompt_tokens":%d,"total_tokens":%d}}`, tokens, tokens)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	})
	return mux
}

type captureRecorder struct {
	mu   sync.Mutex
	rows []domain.AIInteraction
}

func (c *captureRecorder) RecordInteraction(ctx context.Context, rec domain.AIInteraction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rec)
	return nil
}

func newTestService(t *testing.T, provider *fakeProvider, recorder Recorder) *Service {
	t.Helper()
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	svc, err := NewService(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "text-embedding-3-small",
	}, recorder, nil)
	require.NoError(t, err)
	return svc
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{BaseURL: "https://api.openai.com", APIKey: "k", Model: "m"}, false},
		{"missing base url", Config{APIKey: "k", Model: "m"}, true},
		{"missing api key", Config{BaseURL: "u", Model: "m"}, true},
		{"missing model", Config{BaseURL: "u", APIKey: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrValidation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEmbed(t *testing.T) {
	provider := &fakeProvider{}
	recorder := &captureRecorder{}
	svc := newTestService(t, provider, recorder)

	result, err := svc.Embed(context.Background(), "climate resilience grant", nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, result.Vector)
	assert.Equal(t, 7, result.Usage.TotalTokens)
	assert.InDelta(t, 7*0.02/1_000_000, result.Usage.EstimatedCost, 1e-12)

	require.Len(t, provider.requests, 1)
	assert.Equal(t, "text-embedding-3-small", provider.requests[0].Model)
	assert.Equal(t, "climate resilience grant", provider.requests[0].Input)

	require.Len(t, recorder.rows, 1)
	assert.Equal(t, "embedding", recorder.rows[0].Type)
	assert.Equal(t, 7, recorder.rows[0].TotalTokens)
}

func TestEmbedEmptyText(t *testing.T) {
	svc := newTestService(t, &fakeProvider{}, nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Embed(context.Background(), text, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrValidation)
		assert.Contains(t, err.Error(), "text cannot be empty")
	}
}

func TestEmbedTruncatesLongInput(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(t, provider, nil)

	_, err := svc.Embed(context.Background(), strings.Repeat("a", maxInputChars+500), nil)
	require.NoError(t, err)
	require.Len(t, provider.requests, 1)
	assert.Len(t, provider.requests[0].Input, maxInputChars)
}

func TestEmbedOptionsOverride(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(t, provider, nil)

	_, err := svc.Embed(context.Background(), "text", &Options{Model: "text-embedding-3-large", Dimensions: 256})
	require.NoError(t, err)
	require.Len(t, provider.requests, 1)
	assert.Equal(t, "text-embedding-3-large", provider.requests[0].Model)
	assert.Equal(t, 256, provider.requests[0].Dimensions)
}

func TestEmbedProviderError(t *testing.T) {
	provider := &fakeProvider{status: http.StatusInternalServerError}
	svc := newTestService(t, provider, nil)

	_, err := svc.Embed(context.Background(), "text", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProvider)
	assert.Contains(t, err.Error(), "failed to generate embedding")
}

func TestEmbedBatch(t *testing.T) {
	provider := &fakeProvider{tokens: 5}
	svc := newTestService(t, provider, nil)

	result, err := svc.EmbedBatch(context.Background(), []string{"first", "second", "third"}, nil)
	require.NoError(t, err)
	require.Len(t, result.Vectors, 3)
	assert.Equal(t, 15, result.Usage.TotalTokens)

	// One provider call per input, in order.
	require.Len(t, provider.requests, 3)
	assert.Equal(t, "first", provider.requests[0].Input)
	assert.Equal(t, "second", provider.requests[1].Input)
	assert.Equal(t, "third", provider.requests[2].Input)
}

func TestEmbedBatchEmpty(t *testing.T) {
	svc := newTestService(t, &fakeProvider{}, nil)

	_, err := svc.EmbedBatch(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestHealthy(t *testing.T) {
	svc := newTestService(t, &fakeProvider{}, nil)
	require.NoError(t, svc.Healthy(context.Background()))
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		model  string
		tokens int
		want   float64
	}{
		{"text-embedding-3-small", 1_000_000, 0.02},
		{"text-embedding-3-large", 1_000_000, 0.13},
		{"text-embedding-ada-002", 500_000, 0.05},
		{"unknown-model", 1_000_000, 0},
		{"text-embedding-3-small", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateCost(tt.model, tt.tokens), 1e-9)
		})
	}
}
