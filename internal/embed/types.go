package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MaxBatchSize is the maximum number of texts sent in one request.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retries after the first attempt.
	DefaultMaxRetries = 2

	// DefaultDimensions is used when the provider cannot report its own.
	DefaultDimensions = 768

	// StaticDimensions is the embedding dimension for static embedder
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
// Knowledge stores use it to vectorise element content on write and the
// query on search.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
