package embed

import (
	"context"
	"math"
	"sync/atomic"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// mockEmbedder is a test double that counts calls
type mockEmbedder struct {
	embedCalls     atomic.Int64
	batchCalls     atomic.Int64
	batchTexts     atomic.Int64
	dimensions     int
	modelName      string
	returnedVector []float32
}

func newMockEmbedder(dims int) *mockEmbedder {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(i) * 0.001
	}
	return &mockEmbedder{
		dimensions:     dims,
		modelName:      "mock-model",
		returnedVector: vec,
	}
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.returnedVector, nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchTexts.Add(int64(len(texts)))
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = m.returnedVector
	}
	return result, nil
}

func (m *mockEmbedder) Dimensions() int                { return m.dimensions }
func (m *mockEmbedder) ModelName() string              { return m.modelName }
func (m *mockEmbedder) Available(context.Context) bool { return true }
func (m *mockEmbedder) Close() error                   { return nil }
