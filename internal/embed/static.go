package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by hashing tokens and character
// trigrams into a fixed-size vector. It needs no network or model, is
// deterministic, and trades semantic quality for speed. Tests and offline
// ingestion use it.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// stopWords are frequent English words that carry no retrieval signal.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "to": true, "for": true,
	"is": true, "are": true, "was": true, "be": true, "by": true,
	"with": true, "as": true, "at": true, "it": true, "this": true,
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches alphanumeric sequences
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// generateVector creates a hash-based vector from text.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	ngrams := extractNgrams(normalized, ngramSize)
	for _, ngram := range ngrams {
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}

	return vector
}

// tokenize lowercases text and splits it into words, also breaking
// CamelCase labels such as "RevenueTable" apart.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCamelCase(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitCamelCase splits camelCase identifiers.
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// filterStopWords removes stop words.
func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !stopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams prepares text for n-gram extraction.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available checks if the embedder is ready (always true for static).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
