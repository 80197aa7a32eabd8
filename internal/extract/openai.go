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
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenAIVisionModel = "gpt-4o-mini"
)

// OpenAIVisionConfig configures OpenAIVision.
type OpenAIVisionConfig struct {
	// BaseURL points at any chat-completions-compatible API.
	BaseURL string
	APIKey  string
	Model   string

	// JSONFormat requests response_format json_object.
	JSONFormat bool
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAIVision sends the page as a base64 data URL to POST
// {base}/chat/completions.
type OpenAIVision struct {
	client    *http.Client
	transport *http.Transport
	config    OpenAIVisionConfig

	mu     sync.RWMutex
	closed bool
}

var _ Vision = (*OpenAIVision)(nil)

// NewOpenAIVision creates a client. No request is made until Infer.
func NewOpenAIVision(cfg OpenAIVisionConfig) (*OpenAIVision, error) {
	if cfg.APIKey == "" {
		return nil, errors.ConfigError("openai vision needs an API key", nil).
			WithSuggestion("Set vision.api_key or OPENAI_API_KEY.")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIVisionModel
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OpenAIVision{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}, nil
}

// dataURL encodes image as data:image/<format>;base64,...
func dataURL(image []byte, format string) string {
	mime := strings.ToLower(format)
	switch mime {
	case "", "png":
		mime = "png"
	case "jpg":
		mime = "jpeg"
	}
	return "data:image/" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// Infer posts one user message holding the instructions and the image.
func (v *OpenAIVision) Infer(ctx context.Context, instructions string, image []byte, format string) (string, error) {
	v.mu.RLock()
	closed := v.closed
	v.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("vision client is closed")
	}

	reqBody := openAIChatRequest{
		Model: v.config.Model,
		Messages: []openAIChatMessage{{
			Role: "user",
			Content: []openAIContentPart{
				{Type: "text", Text: instructions},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL(image, format)}},
			},
		}},
	}
	if v.config.JSONFormat {
		reqBody.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.config.APIKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", errors.New(errors.ErrCodeNetworkUnavailable, "openai vision request failed", err).
			WithDetail("base_url", v.config.BaseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var failed openAIChatResponse
		if json.Unmarshal(respBody, &failed) == nil && failed.Error != nil {
			return "", fmt.Errorf("vision request failed with status %d: %s", resp.StatusCode, failed.Error.Message)
		}
		return "", fmt.Errorf("vision request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result openAIChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("vision response has no choices")
	}
	return result.Choices[0].Message.Content, nil
}

func (v *OpenAIVision) ModelName() string { return v.config.Model }

// Close is idempotent.
func (v *OpenAIVision) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		v.transport.CloseIdleConnections()
	}
	return nil
}
