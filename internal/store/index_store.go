package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/laserpointlabs/ODRAS-sub000/internal/chunk"
	"github.com/laserpointlabs/ODRAS-sub000/internal/embed"
	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
)

// rebuildBatchSize bounds memory during a vector collection rebuild.
const rebuildBatchSize = 64

// IndexStore coordinates the dual-write between the relational store (source
// of truth) and the vector store (derived projection).
//
// Write order for a batch of chunks: chunk rows first in one transaction,
// then embeddings, then vector points keyed by vector_id, then the
// vector_point_id back-fill. The back-filled id equals the vector_id by
// construction, so a vector hit resolves to its SQL row by primary key.
type IndexStore struct {
	entries    EntryStore
	vectors    VectorStore
	collection string
	logger     *slog.Logger
}

// NewIndexStore creates the dual-write coordinator.
func NewIndexStore(entries EntryStore, vectors VectorStore, collection string, logger *slog.Logger) *IndexStore {
	if collection == "" {
		collection = DefaultVectorCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexStore{
		entries:    entries,
		vectors:    vectors,
		collection: collection,
		logger:     logger,
	}
}

// Entries exposes the relational store.
func (s *IndexStore) Entries() EntryStore {
	return s.entries
}

// Vectors exposes the vector store.
func (s *IndexStore) Vectors() VectorStore {
	return s.vectors
}

// Collection returns the logical vector collection name.
func (s *IndexStore) Collection() string {
	return s.collection
}

// WriteChunks persists segments for one entry through both stores and
// returns the number of chunks written.
//
// An embedding or vector failure removes the just-inserted chunk rows so no
// half-written chunks remain; the entry itself stays, with zero chunks, as a
// retry-worthy degraded state.
func (s *IndexStore) WriteChunks(ctx context.Context, entry *IndexEntry, segments []chunk.Segment, embedder embed.Embedder) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}

	if err := s.ensureModelState(ctx, embedder); err != nil {
		return 0, err
	}

	records := make([]*ChunkRecord, len(segments))
	contents := make([]string, len(segments))
	ids := make([]string, len(segments))
	for i, seg := range segments {
		id := uuid.NewString()
		records[i] = &ChunkRecord{
			VectorID:       id,
			IndexID:        entry.IndexID,
			SequenceNumber: seg.Sequence,
			Content:        seg.Content,
			TokenCount:     seg.TokenCount,
			EmbeddingModel: embedder.ModelName(),
			Metadata: map[string]string{
				"chunk_type":   string(seg.Type),
				"confidence":   strconv.FormatFloat(seg.Confidence, 'f', 2, 64),
				"start_offset": strconv.Itoa(seg.StartOffset),
				"end_offset":   strconv.Itoa(seg.EndOffset),
			},
			VectorCollection: s.collection,
		}
		contents[i] = seg.Content
		ids[i] = id
	}

	if err := s.entries.InsertChunks(ctx, records); err != nil {
		return 0, odraserrors.Wrap(odraserrors.ErrCodeIndexFailed, err)
	}

	vectors, err := embedder.EmbedBatch(ctx, contents)
	if err != nil {
		s.cleanupChunks(ctx, entry.IndexID, ids)
		return 0, err
	}

	points := make([]VectorPoint, len(records))
	for i, rec := range records {
		points[i] = VectorPoint{
			ID:     rec.VectorID,
			Vector: vectors[i],
			Payload: VectorPayload{
				ChunkID:    rec.VectorID,
				IndexID:    entry.IndexID,
				EntityType: string(entry.EntityType),
				Domain:     entry.Domain,
				ProjectID:  entry.ProjectID,
				Sequence:   rec.SequenceNumber,
			},
		}
	}
	if err := s.vectors.Add(ctx, points); err != nil {
		s.cleanupChunks(ctx, entry.IndexID, ids)
		return 0, odraserrors.Wrap(odraserrors.ErrCodeIndexFailed, err)
	}

	if err := s.entries.SetChunkVectorPointIDs(ctx, ids); err != nil {
		return 0, odraserrors.Wrap(odraserrors.ErrCodeIndexFailed, err)
	}
	return len(records), nil
}

// cleanupChunks removes chunk rows after a failed dual-write leg.
func (s *IndexStore) cleanupChunks(ctx context.Context, indexID string, ids []string) {
	if err := s.entries.DeleteChunks(ctx, ids); err != nil {
		s.logger.Warn("chunk_cleanup_failed",
			slog.String("index_id", indexID),
			slog.Int("chunks", len(ids)),
			slog.String("error", err.Error()))
	}
}

// RemoveChunks deletes all chunk rows for an entry and their vector points.
func (s *IndexStore) RemoveChunks(ctx context.Context, indexID string) error {
	ids, err := s.entries.DeleteChunksByEntry(ctx, indexID)
	if err != nil {
		return err
	}
	return s.vectors.Delete(ctx, ids)
}

// RemoveEntry deletes an entry, its chunk rows, and its vector points.
func (s *IndexStore) RemoveEntry(ctx context.Context, indexID string) error {
	if err := s.RemoveChunks(ctx, indexID); err != nil {
		return err
	}
	return s.entries.DeleteEntry(ctx, indexID)
}

// ensureModelState records the index embedding model on first write and
// rejects writes with a different model afterwards, since vector spaces are
// not comparable across models.
func (s *IndexStore) ensureModelState(ctx context.Context, embedder embed.Embedder) error {
	recorded, err := s.entries.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return err
	}
	if recorded == "" {
		if err := s.entries.SetState(ctx, StateKeyIndexModel, embedder.ModelName()); err != nil {
			return err
		}
		return s.entries.SetState(ctx, StateKeyIndexDimension, strconv.Itoa(embedder.Dimensions()))
	}
	if recorded != embedder.ModelName() {
		return odraserrors.New(odraserrors.ErrCodeModelMismatch,
			fmt.Sprintf("index was built with model %q, cannot write with %q", recorded, embedder.ModelName()), nil).
			WithSuggestion("rebuild the index with the new model or switch back")
	}
	return nil
}

// IndexModel returns the embedding model recorded for this index, or empty
// if nothing has been indexed yet.
func (s *IndexStore) IndexModel(ctx context.Context) (string, error) {
	return s.entries.GetState(ctx, StateKeyIndexModel)
}

// Rebuild drops the vector collection and regenerates every point from the
// chunk rows. Content lives only relationally, so this loses nothing; it is
// the remedy for any detected consistency violation.
func (s *IndexStore) Rebuild(ctx context.Context, embedder embed.Embedder) (int, error) {
	recorded, err := s.entries.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return 0, err
	}
	if recorded != "" && recorded != embedder.ModelName() {
		// Rebuilding with a new model re-keys the whole space; record it.
		if err := s.entries.SetState(ctx, StateKeyIndexModel, embedder.ModelName()); err != nil {
			return 0, err
		}
		if err := s.entries.SetState(ctx, StateKeyIndexDimension, strconv.Itoa(embedder.Dimensions())); err != nil {
			return 0, err
		}
		s.logger.Info("rebuild_model_changed",
			slog.String("old_model", recorded),
			slog.String("new_model", embedder.ModelName()))
	}

	if err := s.vectors.Drop(); err != nil {
		return 0, err
	}

	var (
		batch []*ChunkRecord
		total int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		contents := make([]string, len(batch))
		for i, c := range batch {
			contents[i] = c.Content
		}
		vectors, err := embedder.EmbedBatch(ctx, contents)
		if err != nil {
			return err
		}

		points := make([]VectorPoint, len(batch))
		ids := make([]string, len(batch))
		for i, c := range batch {
			entry, err := s.entries.GetEntry(ctx, c.IndexID)
			if err != nil {
				return err
			}
			points[i] = VectorPoint{
				ID:     c.VectorID,
				Vector: vectors[i],
				Payload: VectorPayload{
					ChunkID:    c.VectorID,
					IndexID:    c.IndexID,
					EntityType: string(entry.EntityType),
					Domain:     entry.Domain,
					ProjectID:  entry.ProjectID,
					Sequence:   c.SequenceNumber,
				},
			}
			ids[i] = c.VectorID
		}
		if err := s.vectors.Add(ctx, points); err != nil {
			return err
		}
		if err := s.entries.SetChunkVectorPointIDs(ctx, ids); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	err = s.entries.ForEachChunk(ctx, func(c *ChunkRecord) error {
		batch = append(batch, c)
		if len(batch) >= rebuildBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}

	s.logger.Info("vector_collection_rebuilt",
		slog.String("collection", s.collection),
		slog.Int("points", total))
	return total, nil
}

// ConsistencyReport summarizes the relationship between chunk rows and
// vector points.
type ConsistencyReport struct {
	ChunkRows      int
	VectorPoints   int
	MissingVectors []string // chunk rows with no vector point
	OrphanVectors  []string // vector points with no chunk row
}

// Consistent reports whether the two stores agree.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.MissingVectors) == 0 && len(r.OrphanVectors) == 0
}

// VerifyConsistency cross-checks chunk rows against vector points. Orphan
// vectors must never be produced by correct code paths; the remedy for any
// divergence is Rebuild, never in-place repair of the vector side.
func (s *IndexStore) VerifyConsistency(ctx context.Context) (*ConsistencyReport, error) {
	chunkIDs := make(map[string]struct{})
	err := s.entries.ForEachChunk(ctx, func(c *ChunkRecord) error {
		chunkIDs[c.VectorID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{ChunkRows: len(chunkIDs)}
	vectorIDs := s.vectors.AllIDs()
	report.VectorPoints = len(vectorIDs)

	vectorSet := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = struct{}{}
		if _, ok := chunkIDs[id]; !ok {
			report.OrphanVectors = append(report.OrphanVectors, id)
		}
	}
	for id := range chunkIDs {
		if _, ok := vectorSet[id]; !ok {
			report.MissingVectors = append(report.MissingVectors, id)
		}
	}

	if !report.Consistent() {
		s.logger.Warn("consistency_violation_detected",
			slog.Int("missing_vectors", len(report.MissingVectors)),
			slog.Int("orphan_vectors", len(report.OrphanVectors)))
	}
	return report, nil
}
