package embed

import "time"

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general text embedding model suited to prose and tables.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout for initial health check
	OllamaConnectTimeout = 10 * time.Second

	// OllamaPoolSize for connection pool
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	// Model is the embedding model to use (default: nomic-embed-text)
	Model string

	// Dimensions can be set to override auto-detection (0 = auto-detect)
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	// Timeout for each API request (default: 30s)
	Timeout time.Duration

	// ConnectTimeout for initial health check (default: 10s)
	ConnectTimeout time.Duration

	// MaxRetries for transient failures, not counting the first attempt.
	MaxRetries int

	// PoolSize for HTTP connection pool (default: 4)
	PoolSize int

	// SkipHealthCheck skips initial Ollama availability check (for testing)
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// OllamaEmbedResponse is the Ollama /api/embed response
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the Ollama /api/tags response
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes an installed model
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
