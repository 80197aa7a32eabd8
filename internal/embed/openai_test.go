package embed

import (
	"context"
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

// fakeOpenAI serves /embeddings and /models for one API key. Data items are
// returned in reverse order, so callers must sort by index.
type fakeOpenAI struct {
	key       string
	dims      int
	failFirst int32

	calls    atomic.Int32
	lastReq  openAIEmbeddingRequest
	lastAuth string
}

func (f *fakeOpenAI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.key {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	mux.HandleFunc("POST /embeddings", func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		f.lastAuth = r.Header.Get("Authorization")
		if f.lastAuth != "Bearer "+f.key {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
			return
		}
		if n <= f.failFirst {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		var req openAIEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.lastReq = req

		type item struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float64, f.dims)
			vec[i%f.dims] = 2
			data = append(data, item{Embedding: vec, Index: i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	})
	return mux
}

func newFakeOpenAI(t *testing.T, f *fakeOpenAI) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv
}

// ============================================================================
// OpenAIEmbedder
// ============================================================================

func TestNewOpenAIEmbedder_ProbesDimensions(t *testing.T) {
	// Given: an OpenAI-compatible server returning 5-dim vectors for an unknown model
	fake := &fakeOpenAI{key: "sk-test", dims: 5}
	srv := newFakeOpenAI(t, fake)

	// When: creating an embedder
	e, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "local-embed"})

	// Then: the probe sets the dimension and the key is sent as a bearer token
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, 5, e.Dimensions())
	assert.Equal(t, "local-embed", e.ModelName())
	assert.Equal(t, "Bearer sk-test", fake.lastAuth)
	assert.True(t, e.Available(t.Context()))
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{SkipHealthCheck: true})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestNewOpenAIEmbedder_WrongKeyFails(t *testing.T) {
	srv := newFakeOpenAI(t, &fakeOpenAI{key: "sk-right", dims: 4})

	_, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-wrong"})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNetworkUnavailable, errors.GetCode(err))
	assert.Contains(t, err.Error(), "embeddings API")
}

func TestNewOpenAIEmbedder_KnownModelSkipsDetection(t *testing.T) {
	e, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{APIKey: "k", Model: "text-embedding-3-large", SkipHealthCheck: true})

	require.NoError(t, err)
	assert.Equal(t, 3072, e.Dimensions())
}

func TestOpenAIEmbedder_EmbedBatch_OrdersByIndexAndSkipsBlanks(t *testing.T) {
	// Given: batch size 2 and a server that answers in reverse order
	fake := &fakeOpenAI{key: "k", dims: 4}
	srv := newFakeOpenAI(t, fake)
	e, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{
		BaseURL: srv.URL, APIKey: "k", Model: "local-embed", Dimensions: 4, BatchSize: 2, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	// When: embedding three texts and one blank
	vecs, err := e.EmbedBatch(t.Context(), []string{"a", "", "b", "c"})

	// Then: two requests, vectors in input order, unit length, blank is zero
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Equal(t, int32(2), fake.calls.Load())
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 0, 0, 0}, vecs[1])
	assert.Equal(t, []float32{0, 1, 0, 0}, vecs[2])
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[3])
	assert.Equal(t, []string{"c"}, fake.lastReq.Input)
}

func TestOpenAIEmbedder_SendsDimensionsOnlyForV3Models(t *testing.T) {
	fake := &fakeOpenAI{key: "k", dims: 8}
	srv := newFakeOpenAI(t, fake)

	v3, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Dimensions: 8, SkipHealthCheck: true})
	require.NoError(t, err)
	_, err = v3.Embed(t.Context(), "x")
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIModel, fake.lastReq.Model)
	assert.Equal(t, 8, fake.lastReq.Dimensions)

	ada, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "text-embedding-ada-002", Dimensions: 8, SkipHealthCheck: true})
	require.NoError(t, err)
	_, err = ada.Embed(t.Context(), "x")
	require.NoError(t, err)
	assert.Zero(t, fake.lastReq.Dimensions)
}

func TestOpenAIEmbedder_Embed_RetriesTransientFailures(t *testing.T) {
	fake := &fakeOpenAI{key: "k", dims: 4, failFirst: 1}
	srv := newFakeOpenAI(t, fake)
	e, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{
		BaseURL: srv.URL, APIKey: "k", Dimensions: 4, MaxRetries: 1, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	vec, err := e.Embed(t.Context(), "hello")

	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestOpenAIEmbedder_APIErrorIsEmbeddingError(t *testing.T) {
	srv := newFakeOpenAI(t, &fakeOpenAI{key: "k", dims: 4})
	e, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{BaseURL: srv.URL, APIKey: "revoked", SkipHealthCheck: true})
	require.NoError(t, err)

	_, err = e.Embed(t.Context(), "hello")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingFailed, errors.GetCode(err))
	assert.False(t, e.Available(t.Context()))
}

func TestOpenAIEmbedder_ClosedRejectsCalls(t *testing.T) {
	e, err := NewOpenAIEmbedder(t.Context(), OpenAIConfig{APIKey: "k", SkipHealthCheck: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Embed(t.Context(), "x")

	assert.Error(t, err)
	assert.False(t, e.Available(t.Context()))
}

func TestNewEmbedder_OpenAIFromConfig(t *testing.T) {
	srv := newFakeOpenAI(t, &fakeOpenAI{key: "sk-cfg", dims: 6})

	e, err := NewEmbedder(context.Background(), config.EmbeddingsConfig{
		Provider: "openai", Model: "local-embed", BaseURL: srv.URL, APIKey: "sk-cfg", CacheSize: 8,
	})

	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, 6, e.Dimensions())
	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.IsType(t, &OpenAIEmbedder{}, cached.Inner())
}
