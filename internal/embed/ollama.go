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

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder.
// Unless SkipHealthCheck is set, it verifies the model is installed and
// detects the embedding dimension with a probe request.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
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
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = OllamaConnectTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}

	// No client-level timeout: deadlines come from the per-request context.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout+cfg.Timeout)
		defer cancel()

		modelName, err := e.findModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, errors.New(errors.ErrCodeNetworkUnavailable,
				"failed to connect to Ollama or find model", err).
				WithDetail("host", cfg.Host).
				WithSuggestion(fmt.Sprintf("Start Ollama and run: ollama pull %s", cfg.Model))
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			vecs, err := e.doEmbed(checkCtx, []string{"dimension detection"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, errors.New(errors.ErrCodeEmbeddingFailed, "failed to detect embedding dimensions", err)
			}
			if len(vecs) == 0 || len(vecs[0]) == 0 {
				transport.CloseIdleConnections()
				return nil, errors.New(errors.ErrCodeEmbeddingFailed, "empty embedding returned", nil)
			}
			e.dims = len(vecs[0])
		}
	}

	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	return e, nil
}

// listModels gets available models from Ollama
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// findModel resolves the configured model against the installed ones,
// matching either the full name or the name without its tag.
func (e *OllamaEmbedder) findModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return m.Name, nil
		}
	}
	return "", fmt.Errorf("model %s is not installed", e.config.Model)
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "no embedding returned", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts using Ollama's batch API.
// Blank texts get zero vectors without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+e.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(embeddings) != len(batch) {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(embeddings)), nil)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

// doEmbedWithRetry performs embedding with exponential backoff between attempts.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := errors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		OnRetry: func(attempt int, err error) {
			slog.Debug("embedding_attempt_failed",
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
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "ollama embedding failed", err).
			WithDetail("model", e.modelName)
	}
	return vecs, nil
}

// doEmbed performs a single batch embedding request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResult OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = normalizeVector(embedding)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available checks if Ollama is running and model is available
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	_, err := e.findModel(ctx)
	return err == nil
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}
