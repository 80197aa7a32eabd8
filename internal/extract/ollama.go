package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/docindex/internal/errors"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultVisionModel = "llama3.2-vision"
)

// OllamaVisionConfig configures OllamaVision.
type OllamaVisionConfig struct {
	Host  string
	Model string

	// JSONFormat asks Ollama to constrain the reply to JSON.
	JSONFormat bool
}

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// OllamaVision calls a local multimodal model through /api/chat.
type OllamaVision struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaVisionConfig

	mu     sync.RWMutex
	closed bool
}

var _ Vision = (*OllamaVision)(nil)

// NewOllamaVision creates a client. No request is made until Infer.
func NewOllamaVision(cfg OllamaVisionConfig) *OllamaVision {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultVisionModel
	}

	// Deadlines come from the caller's context.
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OllamaVision{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

// Infer posts one user message carrying the image.
func (v *OllamaVision) Infer(ctx context.Context, instructions string, image []byte, _ string) (string, error) {
	v.mu.RLock()
	closed := v.closed
	v.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("vision client is closed")
	}

	reqBody := ollamaChatRequest{
		Model: v.config.Model,
		Messages: []ollamaChatMessage{{
			Role:    "user",
			Content: instructions,
			Images:  []string{base64.StdEncoding.EncodeToString(image)},
		}},
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	if v.config.JSONFormat {
		reqBody.Format = "json"
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", errors.New(errors.ErrCodeNetworkUnavailable, "ollama vision request failed", err).
			WithDetail("host", v.config.Host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vision request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Message.Content, nil
}

func (v *OllamaVision) ModelName() string { return v.config.Model }

// Close is idempotent.
func (v *OllamaVision) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		v.transport.CloseIdleConnections()
	}
	return nil
}
