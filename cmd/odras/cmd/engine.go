package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofrs/flock"

	"github.com/laserpointlabs/ODRAS-sub000/internal/chunk"
	"github.com/laserpointlabs/ODRAS-sub000/internal/config"
	"github.com/laserpointlabs/ODRAS-sub000/internal/embed"
	"github.com/laserpointlabs/ODRAS-sub000/internal/event"
	"github.com/laserpointlabs/ODRAS-sub000/internal/index"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

// engine bundles the opened stores and services for one CLI invocation. The
// data directory is flock-guarded so two processes never share the SQLite
// writer or clobber the vector index file.
type engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	lock     *flock.Flock
	entries  store.EntryStore
	vectors  store.VectorStore
	index    *store.IndexStore
	registry *embed.Registry
	embedder embed.Embedder
	indexer  *index.Indexer
	events   *event.Log
}

// openEngine opens the stores under cfg.DataDir and wires the indexing
// pipeline. The caller must Close.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data directory %s is in use by another odras process", cfg.DataDir)
	}

	eng := &engine{cfg: cfg, logger: logger, lock: lock}
	if err := eng.open(ctx); err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}

func (e *engine) open(ctx context.Context) error {
	entries, err := store.NewSQLiteEntryStore(e.cfg.IndexDBPath())
	if err != nil {
		return err
	}
	e.entries = entries

	e.registry = embed.NewRegistry(embed.RegistryConfig{
		OllamaHost: e.cfg.Embedding.OllamaHost,
		CacheSize:  e.cfg.Embedding.CacheSize,
	}, e.logger)

	embedder, err := e.registry.Get(ctx, e.cfg.Embedding.Model)
	if err != nil {
		return err
	}
	e.embedder = embedder

	// A persisted vector index fixes the dimensionality; a fresh one takes
	// it from the embedder.
	dims, err := store.ReadStoredDimensions(e.cfg.VectorIndexPath())
	if err != nil {
		return err
	}
	if dims == 0 {
		dims = embedder.Dimensions()
	}
	vectors, err := store.NewHNSWVectorStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return err
	}
	e.vectors = vectors
	if _, err := os.Stat(e.cfg.VectorIndexPath()); err == nil {
		if err := vectors.Load(e.cfg.VectorIndexPath()); err != nil {
			return fmt.Errorf("load vector index: %w", err)
		}
	}

	e.index = store.NewIndexStore(e.entries, e.vectors, "", e.logger)

	chunker := chunk.New(chunk.Config{
		Strategy:      chunk.Strategy(e.cfg.Chunking.Strategy),
		MaxTokens:     e.cfg.Chunking.TokenBudget,
		OverlapTokens: e.cfg.Chunking.OverlapTokens,
		MinTokens:     e.cfg.Chunking.MinTokens,
	}, e.logger)
	e.indexer = index.New(e.index, chunker, embedder, e.logger)

	events, err := event.NewLog(e.cfg.EventLogPath())
	if err != nil {
		return err
	}
	e.events = events
	return nil
}

// saveVectors persists the vector index. Called after every write command;
// the relational store remains authoritative, so a missed save costs a
// rebuild, never data.
func (e *engine) saveVectors() error {
	if err := e.vectors.Save(e.cfg.VectorIndexPath()); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	return nil
}

// Close releases stores and the data-directory lock.
func (e *engine) Close() {
	if e.events != nil {
		_ = e.events.Close()
	}
	if e.registry != nil {
		_ = e.registry.Close()
	}
	if e.vectors != nil {
		_ = e.vectors.Close()
	}
	if e.entries != nil {
		_ = e.entries.Close()
	}
	if e.lock != nil {
		_ = e.lock.Unlock()
	}
}
