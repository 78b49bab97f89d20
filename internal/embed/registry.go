package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
)

// ProviderType identifies the runtime backing a model.
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API (remote/API-backed).
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses deterministic hash-based embeddings.
	ProviderStatic ProviderType = "static"
)

// ModelSpec declares a known embedding model.
type ModelSpec struct {
	// Name is the model identifier used by callers.
	Name string

	// Provider selects the runtime.
	Provider ProviderType

	// Dimensions is the vector dimensionality. Zero means auto-detect at
	// load time (Ollama only).
	Dimensions int

	// MaxInputTokens is the model's maximum input length.
	MaxInputTokens int

	// BatchSize is the per-request batch ceiling for this model.
	BatchSize int

	// RequestsPerSecond is the provider rate-limit ceiling for
	// API-backed models. Ignored for local providers.
	RequestsPerSecond float64
}

// Registry maintains the set of known embedding models and lazily loads
// them on first use. Loaded embedders are cached for the process lifetime
// and wrapped with an LRU embedding cache.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	specs   map[string]ModelSpec
	loaded  map[string]Embedder
	loading map[string]*pendingLoad

	ollamaHost string
	cacheSize  int
	logger     *slog.Logger
}

// pendingLoad tracks an in-flight model load so concurrent Gets for the
// same model wait for it instead of loading twice, while Gets for other
// models proceed unblocked.
type pendingLoad struct {
	done     chan struct{}
	embedder Embedder
	err      error
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// OllamaHost overrides the Ollama endpoint for all Ollama models.
	OllamaHost string

	// CacheSize is the LRU embedding cache size per model.
	CacheSize int
}

// NewRegistry creates a registry pre-populated with the built-in models.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		specs:      make(map[string]ModelSpec),
		loaded:     make(map[string]Embedder),
		loading:    make(map[string]*pendingLoad),
		ollamaHost: cfg.OllamaHost,
		cacheSize:  cfg.CacheSize,
		logger:     logger,
	}

	for _, spec := range builtinModels() {
		r.Register(spec)
	}
	return r
}

// builtinModels declares the models known out of the box.
func builtinModels() []ModelSpec {
	return []ModelSpec{
		{
			Name:              "nomic-embed-text",
			Provider:          ProviderOllama,
			Dimensions:        768,
			MaxInputTokens:    2048,
			BatchSize:         DefaultBatchSize,
			RequestsPerSecond: DefaultOllamaRequestsPerSecond,
		},
		{
			Name:              "all-minilm",
			Provider:          ProviderOllama,
			Dimensions:        384,
			MaxInputTokens:    512,
			BatchSize:         64,
			RequestsPerSecond: DefaultOllamaRequestsPerSecond,
		},
		{
			Name:           "static",
			Provider:       ProviderStatic,
			Dimensions:     StaticDimensions,
			MaxInputTokens: StaticMaxInputTokens,
			BatchSize:      MaxBatchSize,
		},
	}
}

// Register adds or replaces a model spec. Registering a spec does not load
// the model; loading happens on first Get.
func (r *Registry) Register(spec ModelSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Specs returns all registered model specs, sorted by name.
func (r *Registry) Specs() []ModelSpec {
	r.mu.Lock()
	defer r.mu.Unlock()

	specs := make([]ModelSpec, 0, len(r.specs))
	for _, s := range r.specs {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Get returns the embedder for the named model, loading and caching it on
// first use. Unknown or unavailable models produce a configuration error;
// callers must not proceed with zero vectors.
//
// The load itself (which may perform a network health check) runs outside
// the registry lock, so a slow load of one model never blocks Gets for
// other models. Concurrent Gets for the same model share one load; a
// failed load is not cached and the next Get retries it.
func (r *Registry) Get(ctx context.Context, name string) (Embedder, error) {
	r.mu.Lock()
	if e, ok := r.loaded[name]; ok {
		r.mu.Unlock()
		return e, nil
	}
	if p, ok := r.loading[name]; ok {
		r.mu.Unlock()
		select {
		case <-p.done:
			return p.embedder, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	spec, ok := r.specs[name]
	if !ok {
		r.mu.Unlock()
		return nil, odraserrors.New(odraserrors.ErrCodeNoEmbeddingModel,
			fmt.Sprintf("unknown embedding model %q", name), nil).
			WithDetail("model", name).
			WithSuggestion("register the model or pick one of the built-in models")
	}

	p := &pendingLoad{done: make(chan struct{})}
	r.loading[name] = p
	r.mu.Unlock()

	inner, err := r.load(ctx, spec)

	r.mu.Lock()
	delete(r.loading, name)
	if err != nil {
		r.mu.Unlock()
		p.err = err
		close(p.done)
		return nil, err
	}

	e := NewCachedEmbedder(inner, r.cacheSize)
	r.loaded[name] = e
	r.mu.Unlock()

	p.embedder = e
	close(p.done)

	r.logger.Debug("embedding_model_loaded",
		slog.String("model", name),
		slog.String("provider", string(spec.Provider)),
		slog.Int("dimensions", e.Dimensions()))
	return e, nil
}

// load constructs the provider-specific embedder for a spec.
func (r *Registry) load(ctx context.Context, spec ModelSpec) (Embedder, error) {
	switch spec.Provider {
	case ProviderStatic:
		return NewStaticEmbedder(), nil

	case ProviderOllama:
		cfg := DefaultOllamaConfig()
		cfg.Model = spec.Name
		cfg.Dimensions = spec.Dimensions
		cfg.MaxInputTokens = spec.MaxInputTokens
		cfg.BatchSize = spec.BatchSize
		cfg.RequestsPerSecond = spec.RequestsPerSecond
		if r.ollamaHost != "" {
			cfg.Host = r.ollamaHost
		}
		return NewOllamaEmbedder(ctx, cfg)

	default:
		return nil, odraserrors.New(odraserrors.ErrCodeNoEmbeddingModel,
			fmt.Sprintf("unsupported embedding provider %q", spec.Provider), nil)
	}
}

// Close closes all loaded embedders.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, e := range r.loaded {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close embedder %q: %w", name, err)
		}
		delete(r.loaded, name)
	}
	return firstErr
}
