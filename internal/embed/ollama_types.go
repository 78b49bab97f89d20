package embed

import "time"

// Default Ollama settings.
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the initial health check.
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize is the HTTP connection pool size.
	OllamaPoolSize = 4

	// DefaultOllamaRequestsPerSecond is the rate-limit ceiling applied to
	// embedding batches against a local Ollama instance.
	DefaultOllamaRequestsPerSecond = 10
)

// OllamaConfig configures the Ollama HTTP embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// Model is the embedding model name.
	Model string

	// Dimensions is the embedding dimension. Zero means auto-detect from
	// the first embedding.
	Dimensions int

	// MaxInputTokens is the model's context window in tokens. Inputs
	// beyond it are truncated (character-approximated).
	MaxInputTokens int

	// BatchSize is the number of texts per request.
	BatchSize int

	// RequestsPerSecond is the provider rate-limit ceiling. Zero means
	// DefaultOllamaRequestsPerSecond.
	RequestsPerSecond float64

	// Timeout bounds a single embedding request.
	Timeout time.Duration

	// MaxRetries is the retry budget for transient failures.
	MaxRetries int

	// RetryDelay is the initial backoff delay between retries. Zero means
	// the default retry configuration's delay.
	RetryDelay time.Duration

	// SkipHealthCheck skips the startup connectivity check (tests only).
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns the default Ollama configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:              DefaultOllamaHost,
		Model:             DefaultOllamaModel,
		MaxInputTokens:    2048,
		BatchSize:         DefaultBatchSize,
		RequestsPerSecond: DefaultOllamaRequestsPerSecond,
		Timeout:           DefaultTimeout,
		MaxRetries:        DefaultMaxRetries,
	}
}

// OllamaEmbedRequest is the request body for POST /api/embed.
type OllamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OllamaEmbedResponse is the response body from POST /api/embed.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaModelInfo describes one installed model from GET /api/tags.
type OllamaModelInfo struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
}

// OllamaModelListResponse is the response body from GET /api/tags.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}
