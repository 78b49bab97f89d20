package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
)

// OllamaEmbedder generates embeddings through Ollama's HTTP API.
// Requests are batched at the configured batch size and paced by a rate
// limiter set to the provider's rate-limit ceiling.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	limiter   *rate.Limiter
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set, it verifies connectivity, resolves the model name against the
// installed models, and auto-detects dimensions when unset.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultOllamaRequestsPerSecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	// Per-request context timeouts are used instead of http.Client.Timeout
	// so retry attempts each get a fresh budget.
	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		MaxConnsPerHost:     OllamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, odraserrors.New(odraserrors.ErrCodeNoEmbeddingModel,
				fmt.Sprintf("failed to connect to Ollama or find model: %v", err), err).
				WithSuggestion("start Ollama with 'ollama serve' or select the static model")
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, odraserrors.Wrap(odraserrors.ErrCodeEmbeddingFailed, err)
			}
			e.dims = dims
		}
	}

	return e, nil
}

// listModels gets installed models from Ollama.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel resolves the configured model name against installed
// models, matching with and without the tag suffix.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string) // normalized -> actual
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	want := strings.ToLower(e.config.Model)
	if actual, ok := available[want]; ok {
		return actual, nil
	}
	if actual, ok := available[strings.Split(want, ":")[0]]; ok {
		return actual, nil
	}
	return "", fmt.Errorf("model %q not installed", e.config.Model)
}

// detectDimensions embeds a probe text to learn the vector dimension.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vectors, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(vectors[0]), nil
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// batches of the configured size and pacing batches with the rate limiter.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// Truncate rather than fail on over-length inputs.
	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = truncateToTokens(t, e.config.MaxInputTokens)
	}

	results := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(prepared) {
			end = len(prepared)
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vectors, err := e.embedWithRetry(ctx, prepared[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}

	if len(results) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(results), len(texts))
	}
	return results, nil
}

// embedWithRetry retries a batch with backoff on transient failures.
// Config-class failures (unknown model, rejected input) surface on the
// first attempt; RetryWithResult stops on non-retryable errors.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	cfg := odraserrors.DefaultRetryConfig()
	cfg.MaxRetries = e.config.MaxRetries
	if e.config.RetryDelay > 0 {
		cfg.InitialDelay = e.config.RetryDelay
	}

	return odraserrors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vectors, err := e.doEmbed(reqCtx, batch)
		if err != nil {
			slog.Debug("ollama_embed_attempt_failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
		}
		return vectors, err
	})
}

// doEmbed issues one POST /api/embed request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(OllamaEmbedRequest{Model: e.modelName, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, odraserrors.TransientError("embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, odraserrors.TransientError(msg, nil)
		}
		// 4xx means the request itself is wrong (unknown model, bad input);
		// retrying cannot fix it.
		return nil, odraserrors.New(odraserrors.ErrCodeNoEmbeddingModel, msg, nil).
			WithSuggestion("check the configured model name with 'ollama list'")
	}

	var result OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Embeddings) != len(batch) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(result.Embeddings))
	}
	for i, v := range result.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		result.Embeddings[i] = normalizeVector(v)
	}
	return result.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// MaxInputTokens returns the model's context window.
func (e *OllamaEmbedder) MaxInputTokens() int {
	return e.config.MaxInputTokens
}

// Available checks if Ollama is reachable and the model installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
	defer cancel()

	_, err := e.findAvailableModel(checkCtx)
	return err == nil
}

// Close releases HTTP resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
