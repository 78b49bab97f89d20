// Package embed turns text into fixed-dimension vectors using a registry
// of selectable embedding models.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory
	// exhaustion).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient failures against remote providers.
	DefaultMaxRetries = 3

	// charsPerToken approximates the token length of text from its
	// character length. Must match the chunking engine's approximation so
	// truncation and sizing decisions agree.
	charsPerToken = 4
)

// Static embedder constants.
const (
	// StaticDimensions is the embedding dimension for the static embedder.
	StaticDimensions = 256

	// StaticMaxInputTokens is generous; the static embedder has no real
	// context window.
	StaticMaxInputTokens = 8192
)

// Embedder generates vector embeddings for text.
//
// Embeddings for identical (text, model) pairs are stable within a process
// lifetime, so re-indexing the same content is idempotent at the vector
// level.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, one vector per
	// input in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// MaxInputTokens returns the model's maximum input length in tokens.
	MaxInputTokens() int

	// Available checks if the embedder's runtime dependency is present.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// truncateToTokens trims text to approximately maxTokens using the
// character-based token approximation. Inputs exceeding the model limit are
// truncated rather than rejected.
func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
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
