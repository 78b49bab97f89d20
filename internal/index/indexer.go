// Package index provides the entity indexing façade: the upsert/delete/query
// surface producers use to register an entity's textual summary for
// retrieval. Internally it drives chunking, embedding, and the dual-write
// index store.
package index

import (
	"context"
	"log/slog"
	"strings"

	"github.com/laserpointlabs/ODRAS-sub000/internal/chunk"
	"github.com/laserpointlabs/ODRAS-sub000/internal/embed"
	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

// Indexer is the public indexing surface. All dependencies are injected at
// construction; there are no process-global service handles.
type Indexer struct {
	store    *store.IndexStore
	chunker  *chunk.Chunker
	embedder embed.Embedder
	locks    *keyedMutex
	logger   *slog.Logger
}

// New creates an Indexer.
func New(indexStore *store.IndexStore, chunker *chunk.Chunker, embedder embed.Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    indexStore,
		chunker:  chunker,
		embedder: embedder,
		locks:    newKeyedMutex(),
		logger:   logger,
	}
}

// IndexRequest carries the arguments of an IndexEntity call.
type IndexRequest struct {
	EntityType     store.EntityType
	EntityID       string
	ContentSummary string
	ProjectID      string
	EntityURI      string
	Domain         string
	Metadata       map[string]string
	Tags           []string
}

// UpdateRequest carries the optional arguments of an UpdateIndex call. A nil
// ContentSummary keeps the existing content; nil Tags keep the existing set;
// Metadata is shallow-merged with new keys winning.
type UpdateRequest struct {
	ContentSummary *string
	Metadata       map[string]string
	Tags           []string
}

func entityKey(entityType store.EntityType, entityID string) string {
	return string(entityType) + "/" + entityID
}

// IndexEntity registers an entity's content summary for retrieval and
// returns the entry's index id. Indexing an already-indexed entity collapses
// to an update rather than inserting a duplicate, so replayed calls are
// idempotent.
//
// Empty or whitespace content succeeds with zero chunks: the entry is
// retained for bookkeeping. An embedding failure also leaves the entry with
// zero chunks; callers should treat that as a retry-worthy degraded state.
func (ix *Indexer) IndexEntity(ctx context.Context, req IndexRequest) (string, error) {
	if req.EntityType == "" || req.EntityID == "" {
		return "", odraserrors.ValidationError("entity_type and entity_id are required", nil)
	}

	unlock := ix.locks.lock(entityKey(req.EntityType, req.EntityID))
	defer unlock()

	existing, err := ix.store.Entries().GetEntryByEntity(ctx, req.EntityType, req.EntityID)
	if err != nil && !store.IsNotFound(err) {
		return "", err
	}
	if existing != nil {
		content := req.ContentSummary
		if err := ix.applyUpdate(ctx, existing, UpdateRequest{
			ContentSummary: &content,
			Metadata:       req.Metadata,
			Tags:           req.Tags,
		}); err != nil {
			return "", err
		}
		return existing.IndexID, nil
	}

	entry := &store.IndexEntry{
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		EntityURI:      req.EntityURI,
		ContentSummary: req.ContentSummary,
		ProjectID:      req.ProjectID,
		Domain:         req.Domain,
		Tags:           req.Tags,
		Metadata:       req.Metadata,
	}
	if err := ix.store.Entries().CreateEntry(ctx, entry); err != nil {
		return "", err
	}

	if err := ix.writeContent(ctx, entry); err != nil {
		return "", err
	}

	ix.logger.Info("entity_indexed",
		slog.String("entity_type", string(req.EntityType)),
		slog.String("entity_id", req.EntityID),
		slog.String("index_id", entry.IndexID))
	return entry.IndexID, nil
}

// UpdateIndex mutates an existing entry. Metadata is merged, tags replace
// when given, and a changed content summary deletes and regenerates all
// chunks and vectors for the entry.
func (ix *Indexer) UpdateIndex(ctx context.Context, indexID string, req UpdateRequest) error {
	entry, err := ix.store.Entries().GetEntry(ctx, indexID)
	if err != nil {
		return err
	}

	unlock := ix.locks.lock(entityKey(entry.EntityType, entry.EntityID))
	defer unlock()

	// Re-read under the lock; a concurrent update may have changed the row.
	entry, err = ix.store.Entries().GetEntry(ctx, indexID)
	if err != nil {
		return err
	}
	return ix.applyUpdate(ctx, entry, req)
}

// applyUpdate performs update semantics on an entry already held under its
// entity lock.
func (ix *Indexer) applyUpdate(ctx context.Context, entry *store.IndexEntry, req UpdateRequest) error {
	contentChanged := req.ContentSummary != nil && *req.ContentSummary != entry.ContentSummary
	if contentChanged {
		entry.ContentSummary = *req.ContentSummary
	}
	if req.Metadata != nil {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]string, len(req.Metadata))
		}
		for k, v := range req.Metadata {
			entry.Metadata[k] = v
		}
	}
	if req.Tags != nil {
		entry.Tags = req.Tags
	}

	if err := ix.store.Entries().UpdateEntry(ctx, entry); err != nil {
		return err
	}

	if !contentChanged {
		return nil
	}

	// Content changed: delete-then-recreate all chunks and vectors.
	if err := ix.store.RemoveChunks(ctx, entry.IndexID); err != nil {
		return err
	}
	if err := ix.writeContent(ctx, entry); err != nil {
		return err
	}

	ix.logger.Info("entity_reindexed",
		slog.String("index_id", entry.IndexID),
		slog.String("entity_type", string(entry.EntityType)),
		slog.String("entity_id", entry.EntityID))
	return nil
}

// writeContent chunks the entry's content summary and runs the dual-write.
// Blank content produces zero chunks and is not an error.
func (ix *Indexer) writeContent(ctx context.Context, entry *store.IndexEntry) error {
	if strings.TrimSpace(entry.ContentSummary) == "" {
		return nil
	}

	segments, err := ix.chunker.Chunk(ctx, entry.ContentSummary)
	if err != nil {
		return odraserrors.Wrap(odraserrors.ErrCodeChunkingFailed, err)
	}

	_, err = ix.store.WriteChunks(ctx, entry, segments, ix.embedder)
	return err
}

// DeleteIndex removes an entity's entry, chunks, and vectors. It is a no-op,
// not an error, when the entity was never indexed; callers commonly call it
// defensively.
func (ix *Indexer) DeleteIndex(ctx context.Context, entityType store.EntityType, entityID string) error {
	unlock := ix.locks.lock(entityKey(entityType, entityID))
	defer unlock()

	entry, err := ix.store.Entries().GetEntryByEntity(ctx, entityType, entityID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}

	if err := ix.store.RemoveEntry(ctx, entry.IndexID); err != nil {
		return err
	}

	ix.logger.Info("entity_unindexed",
		slog.String("entity_type", string(entityType)),
		slog.String("entity_id", entityID),
		slog.String("index_id", entry.IndexID))
	return nil
}

// ListIndexed returns indexed entries matching the filter. Tag filtering is
// conjunctive.
func (ix *Indexer) ListIndexed(ctx context.Context, filter store.EntryFilter) ([]*store.IndexEntry, error) {
	return ix.store.Entries().ListEntries(ctx, filter)
}

// ChunkCount returns the number of chunks stored for an entry.
func (ix *Indexer) ChunkCount(ctx context.Context, indexID string) (int, error) {
	return ix.store.Entries().CountChunks(ctx, indexID)
}
