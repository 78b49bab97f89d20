package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
)

func TestRegistry_BuiltinSpecs(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	defer func() { _ = r.Close() }()

	specs := r.Specs()
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"all-minilm", "nomic-embed-text", "static"}, names)
}

func TestRegistry_GetUnknownModel(t *testing.T) {
	// Given a registry without the requested model
	r := NewRegistry(RegistryConfig{}, nil)
	defer func() { _ = r.Close() }()

	// When looking up an unregistered model
	_, err := r.Get(context.Background(), "no-such-model")

	// Then a configuration error is returned
	require.Error(t, err)
	assert.Equal(t, odraserrors.ErrCodeNoEmbeddingModel, odraserrors.GetCode(err))
	assert.False(t, odraserrors.IsRetryable(err))
}

func TestRegistry_GetStaticLazyAndCached(t *testing.T) {
	r := NewRegistry(RegistryConfig{CacheSize: 16}, nil)
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	first, err := r.Get(ctx, "static")
	require.NoError(t, err)
	second, err := r.Get(ctx, "static")
	require.NoError(t, err)

	// The loaded embedder is cached per process.
	assert.Same(t, first, second)
	assert.Equal(t, StaticDimensions, first.Dimensions())

	// The loaded embedder carries the embedding cache wrapper.
	_, ok := first.(*CachedEmbedder)
	assert.True(t, ok)
}

func TestRegistry_RegisterCustomSpec(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	defer func() { _ = r.Close() }()

	r.Register(ModelSpec{
		Name:           "offline-test",
		Provider:       ProviderStatic,
		Dimensions:     StaticDimensions,
		MaxInputTokens: StaticMaxInputTokens,
	})

	e, err := r.Get(context.Background(), "offline-test")
	require.NoError(t, err)
	assert.Equal(t, "static", e.ModelName())
}

func TestRegistry_SlowLoadDoesNotBlockOtherModels(t *testing.T) {
	// Given a registered Ollama model whose health check hangs
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		http.NotFound(w, r)
	}))
	defer server.Close()
	defer close(release)

	r := NewRegistry(RegistryConfig{OllamaHost: server.URL}, nil)
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = r.Get(ctx, "nomic-embed-text")
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	// When getting an unrelated model while the slow load is in flight
	done := make(chan error, 1)
	go func() {
		_, err := r.Get(ctx, "static")
		done <- err
	}()

	// Then it completes without waiting on the hung health check
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("static model load blocked behind an unrelated slow load")
	}
}

func TestRegistry_ConcurrentGetsShareOneLoad(t *testing.T) {
	var tagRequests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			tagRequests.Add(1)
			time.Sleep(20 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(OllamaModelListResponse{
				Models: []OllamaModelInfo{{Name: "nomic-embed-text:latest"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	r := NewRegistry(RegistryConfig{OllamaHost: server.URL}, nil)
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	embedders := make([]Embedder, 4)
	for i := range embedders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.Get(ctx, "nomic-embed-text")
			require.NoError(t, err)
			embedders[i] = e
		}(i)
	}
	wg.Wait()

	// One health check, one shared instance.
	assert.Equal(t, int64(1), tagRequests.Load())
	for _, e := range embedders[1:] {
		assert.Same(t, embedders[0], e)
	}
}

func TestRegistry_FailedLoadRetriesOnNextGet(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "starting up", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(OllamaModelListResponse{
			Models: []OllamaModelInfo{{Name: "nomic-embed-text:latest"}},
		})
	}))
	defer server.Close()

	r := NewRegistry(RegistryConfig{OllamaHost: server.URL}, nil)
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	_, err := r.Get(ctx, "nomic-embed-text")
	require.Error(t, err)

	e, err := r.Get(ctx, "nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
}

func TestRegistry_UnsupportedProvider(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	defer func() { _ = r.Close() }()

	r.Register(ModelSpec{Name: "weird", Provider: ProviderType("quantum")})

	_, err := r.Get(context.Background(), "weird")
	require.Error(t, err)
	assert.Equal(t, odraserrors.ErrCodeNoEmbeddingModel, odraserrors.GetCode(err))
}
