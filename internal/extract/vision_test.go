package extract

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/errors"
)

// =============================================================================
// OllamaVision
// =============================================================================

func TestOllamaVision_Infer(t *testing.T) {
	// Given: a fake /api/chat that records the request
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   got.Model,
			Message: ollamaChatMessage{Role: "assistant", Content: `{"tables": []}`},
			Done:    true,
		})
	}))
	defer srv.Close()

	v := NewOllamaVision(OllamaVisionConfig{Host: srv.URL + "/", Model: "llava", JSONFormat: true})
	defer func() { _ = v.Close() }()

	// When: inferring
	reply, err := v.Infer(t.Context(), "describe", []byte{0x89, 'P', 'N', 'G'}, "png")

	// Then: the image travels base64-encoded in a single user message
	require.NoError(t, err)
	assert.Equal(t, `{"tables": []}`, reply)
	assert.Equal(t, "llava", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "describe", got.Messages[0].Content)
	assert.Equal(t, []string{base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})}, got.Messages[0].Images)
}

func TestOllamaVision_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	v := NewOllamaVision(OllamaVisionConfig{Host: srv.URL})
	_, err := v.Infer(t.Context(), "x", nil, "png")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaVision_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllamaVision(OllamaVisionConfig{Host: url}).Infer(t.Context(), "x", nil, "png")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNetworkUnavailable, errors.GetCode(err))
}

func TestOllamaVision_Closed(t *testing.T) {
	v := NewOllamaVision(OllamaVisionConfig{})
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	_, err := v.Infer(t.Context(), "x", nil, "png")

	assert.Error(t, err)
	assert.Equal(t, DefaultVisionModel, v.ModelName())
}

// =============================================================================
// OpenAIVision
// =============================================================================

func TestOpenAIVision_Infer(t *testing.T) {
	// Given: a fake /chat/completions that records the request
	var got openAIChatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"labels\": []}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	v, err := NewOpenAIVision(OpenAIVisionConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o", JSONFormat: true})
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	// When: inferring on a jpeg page
	reply, err := v.Infer(t.Context(), "describe", []byte{0xFF, 0xD8, 0xFF}, "jpeg")

	// Then: text and image travel as two content parts of one user message
	require.NoError(t, err)
	assert.Equal(t, `{"labels": []}`, reply)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, openAIContentPart{Type: "text", Text: "describe"}, got.Messages[0].Content[0])
	part := got.Messages[0].Content[1]
	assert.Equal(t, "image_url", part.Type)
	require.NotNil(t, part.ImageURL)
	assert.Equal(t, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF}), part.ImageURL.URL)
}

func TestOpenAIVision_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer srv.Close()

	v, err := NewOpenAIVision(OpenAIVisionConfig{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = v.Infer(t.Context(), "x", nil, "png")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "Rate limit reached")
}

func TestOpenAIVision_ServerErrorIsNotRetried(t *testing.T) {
	// Given: a server that always fails
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	v, err := NewOpenAIVision(OpenAIVisionConfig{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	// When: inferring once
	_, err = v.Infer(t.Context(), "x", nil, "png")

	// Then: exactly one request was made; attempts are the extractor's job
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIVision_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	v, err := NewOpenAIVision(OpenAIVisionConfig{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = v.Infer(t.Context(), "x", nil, "png")

	assert.ErrorContains(t, err, "no choices")
}

func TestOpenAIVision_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	v, err := NewOpenAIVision(OpenAIVisionConfig{BaseURL: url, APIKey: "k"})
	require.NoError(t, err)

	_, err = v.Infer(t.Context(), "x", nil, "png")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNetworkUnavailable, errors.GetCode(err))
}

func TestOpenAIVision_Closed(t *testing.T) {
	v, err := NewOpenAIVision(OpenAIVisionConfig{APIKey: "k"})
	require.NoError(t, err)
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	_, err = v.Infer(t.Context(), "x", nil, "png")

	assert.Error(t, err)
	assert.Equal(t, DefaultOpenAIVisionModel, v.ModelName())
}

func TestDataURL(t *testing.T) {
	tests := []struct {
		format string
		prefix string
	}{
		{"png", "data:image/png;base64,"},
		{"", "data:image/png;base64,"},
		{"JPG", "data:image/jpeg;base64,"},
		{"jpeg", "data:image/jpeg;base64,"},
		{"webp", "data:image/webp;base64,"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.prefix+"AQI=", dataURL([]byte{1, 2}, tt.format))
		})
	}
}

// =============================================================================
// Factory
// =============================================================================

func TestNewVision_Ollama(t *testing.T) {
	v, err := NewVision(t.Context(), config.VisionConfig{Provider: "ollama", Model: "llava:13b"})

	require.NoError(t, err)
	ov, ok := v.(*OllamaVision)
	require.True(t, ok)
	assert.True(t, ov.config.JSONFormat)
	assert.Equal(t, "llava:13b", v.ModelName())
}

func TestNewVision_VertexNeedsProject(t *testing.T) {
	_, err := NewVision(t.Context(), config.VisionConfig{Provider: "vertex", Region: "us-central1"})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestNewVision_OpenAI(t *testing.T) {
	v, err := NewVision(t.Context(), config.VisionConfig{
		Provider: "openai", Model: "gpt-4.1-mini", BaseURL: "http://gateway.local/v1/", APIKey: "sk-x",
	})

	require.NoError(t, err)
	ov, ok := v.(*OpenAIVision)
	require.True(t, ok)
	assert.True(t, ov.config.JSONFormat)
	assert.Equal(t, "http://gateway.local/v1", ov.config.BaseURL)
	assert.Equal(t, "gpt-4.1-mini", v.ModelName())
}

func TestNewVision_OpenAINeedsKey(t *testing.T) {
	_, err := NewVision(t.Context(), config.VisionConfig{Provider: "openai"})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestNewVision_UnknownProvider(t *testing.T) {
	_, err := NewVision(t.Context(), config.VisionConfig{Provider: "anthropic"})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestResponseText_Empty(t *testing.T) {
	assert.Equal(t, "", responseText(nil))
}
