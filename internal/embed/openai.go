package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/docindex/internal/errors"
)

const (
	// DefaultOpenAIBaseURL is the public OpenAI API.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "text-embedding-3-small"
)

// Known output sizes, so no probe request is needed for them.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	// BaseURL points at any /embeddings-compatible API (default: api.openai.com).
	BaseURL string
	APIKey  string
	Model   string

	// Dimensions shortens text-embedding-3 output, or overrides detection
	// for other models. 0 = model default.
	Dimensions int

	BatchSize  int
	Timeout    time.Duration
	MaxRetries int

	// SkipHealthCheck skips the probe request (for testing)
	SkipHealthCheck bool
}

type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAIEmbedder generates embeddings through POST {base}/embeddings.
type OpenAIEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OpenAIConfig
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder. Unless SkipHealthCheck is set, one
// probe request checks the key and, for unknown models, the dimension.
func NewOpenAIEmbedder(ctx context.Context, cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.ConfigError("openai embeddings need an API key", nil).
			WithSuggestion("Set embeddings.api_key or OPENAI_API_KEY.")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		IdleConnTimeout:     30 * time.Second,
	}
	e := &OpenAIEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}
	if e.dims == 0 {
		e.dims = openAIModelDimensions[cfg.Model]
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		vecs, err := e.doEmbed(checkCtx, []string{"dimension detection"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, errors.New(errors.ErrCodeNetworkUnavailable, "failed to reach the embeddings API", err).
				WithDetail("base_url", cfg.BaseURL).
				WithSuggestion("Check the base URL and API key.")
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			transport.CloseIdleConnections()
			return nil, errors.New(errors.ErrCodeEmbeddingFailed, "empty embedding returned", nil)
		}
		e.dims = len(vecs[0])
	}

	if e.dims == 0 {
		e.dims = DefaultDimensions
	}
	return e, nil
}

// Embed generates embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs. Blank
// texts get zero vectors without a request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := pending[start:min(start+e.config.BatchSize, len(pending))]
		input := make([]string, len(batch))
		for i, idx := range batch {
			input[i] = texts[idx]
		}

		vecs, err := e.doEmbedWithRetry(ctx, input)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(vecs)), nil)
		}
		for i, idx := range batch {
			results[idx] = vecs[i]
		}
	}
	return results, nil
}

func (e *OpenAIEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := errors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		OnRetry: func(attempt int, err error) {
			slog.Debug("embedding_attempt_failed",
				slog.String("provider", string(ProviderOpenAI)),
				slog.Int("attempt", attempt),
				slog.Int("texts_count", len(texts)),
				slog.String("error", err.Error()))
		},
	}

	vecs, err := errors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
		return e.doEmbed(callCtx, texts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "openai embedding failed", err).
			WithDetail("model", e.config.Model)
	}
	return vecs, nil
}

// doEmbed performs one request and returns the vectors in input order.
func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := openAIEmbeddingRequest{Model: e.config.Model, Input: texts}
	if e.config.Dimensions > 0 && strings.HasPrefix(e.config.Model, "text-embedding-3") {
		reqBody.Dimensions = e.config.Dimensions
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var result openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		vecs[d.Index] = normalizeVector(v)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

// Available lists models, which checks reachability and the key without
// running inference.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.BaseURL+"/models", http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close is idempotent.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.transport.CloseIdleConnections()
	}
	return nil
}

func (e *OpenAIEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}
