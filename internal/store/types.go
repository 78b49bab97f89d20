// Package store is the persistence layer for indexed knowledge: a relational
// store holding entries and chunk content (the source of truth) and a derived
// vector store holding embeddings for similarity search.
package store

import (
	"context"
	"fmt"
	"time"
)

// EntityType classifies the producer-defined object behind an index entry.
type EntityType string

const (
	EntityTypeFile           EntityType = "file"
	EntityTypeEvent          EntityType = "event"
	EntityTypeOntology       EntityType = "ontology"
	EntityTypeKnowledgeAsset EntityType = "knowledge_asset"
	EntityTypeConversation   EntityType = "conversation"
)

// State keys persisted in the relational store. The index model and dimension
// are recorded at first write so queries against a mismatched model can be
// rejected as a configuration error.
const (
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"

	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
)

// DefaultVectorCollection is the logical vector namespace for knowledge chunks.
const DefaultVectorCollection = "knowledge_chunks"

// IndexEntry is the system-of-record row for one indexed entity.
type IndexEntry struct {
	IndexID        string            // generated identifier, primary key
	EntityType     EntityType        // producer-defined entity class
	EntityID       string            // producer-supplied identifier, unique with EntityType
	EntityURI      string            // optional canonical reference
	ContentSummary string            // the text that was/will be chunked
	ProjectID      string            // optional scoping key
	Domain         string            // optional topical tag
	Tags           []string          // set of strings
	Metadata       map[string]string // open key/value map
	IndexedAt      time.Time
	UpdatedAt      time.Time
}

// ChunkRecord is one content-bearing segment of an IndexEntry. Content lives
// only here; the vector store carries identifiers and filterable metadata.
type ChunkRecord struct {
	VectorID         string // generated identifier; doubles as the vector point id
	IndexID          string // owning IndexEntry, cascades on delete
	SequenceNumber   int    // 0-based order within the entity
	Content          string
	TokenCount       int
	EmbeddingModel   string
	Metadata         map[string]string
	VectorCollection string
	VectorPointID    string // back-reference, equals VectorID once the vector is written
}

// VectorPayload is the filterable metadata attached to a vector point.
// It must never contain chunk content.
type VectorPayload struct {
	ChunkID    string
	IndexID    string
	EntityType string
	Domain     string
	ProjectID  string
	Sequence   int
}

// VectorPoint is one derived point in the similarity store, keyed by the
// owning ChunkRecord's VectorID.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload VectorPayload
}

// VectorFilter restricts a similarity search to matching payloads. Empty
// fields match everything.
type VectorFilter struct {
	EntityType string
	Domain     string
	ProjectID  string
}

// matches reports whether a payload satisfies the filter.
func (f VectorFilter) matches(p VectorPayload) bool {
	if f.EntityType != "" && f.EntityType != p.EntityType {
		return false
	}
	if f.Domain != "" && f.Domain != p.Domain {
		return false
	}
	if f.ProjectID != "" && f.ProjectID != p.ProjectID {
		return false
	}
	return true
}

// VectorResult is a single similarity search hit.
type VectorResult struct {
	ID       string  // ChunkRecord.VectorID
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
	Payload  VectorPayload
}

// EntryFilter selects index entries in ListEntries. Tag filtering is
// conjunctive: an entry must carry every requested tag.
type EntryFilter struct {
	EntityType EntityType
	ProjectID  string
	Domain     string
	Tags       []string
	Limit      int
}

// DefaultListLimit bounds ListEntries when no limit is given.
const DefaultListLimit = 100

// EntryStore persists index entries and chunk records relationally.
type EntryStore interface {
	// Entry operations
	CreateEntry(ctx context.Context, entry *IndexEntry) error
	GetEntry(ctx context.Context, indexID string) (*IndexEntry, error)
	GetEntryByEntity(ctx context.Context, entityType EntityType, entityID string) (*IndexEntry, error)
	UpdateEntry(ctx context.Context, entry *IndexEntry) error
	DeleteEntry(ctx context.Context, indexID string) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]*IndexEntry, error)

	// Chunk operations
	InsertChunks(ctx context.Context, chunks []*ChunkRecord) error
	SetChunkVectorPointIDs(ctx context.Context, vectorIDs []string) error
	GetChunk(ctx context.Context, vectorID string) (*ChunkRecord, error)
	GetChunks(ctx context.Context, vectorIDs []string) ([]*ChunkRecord, error)
	GetChunksByEntry(ctx context.Context, indexID string) ([]*ChunkRecord, error)
	DeleteChunks(ctx context.Context, vectorIDs []string) error
	DeleteChunksByEntry(ctx context.Context, indexID string) ([]string, error)
	CountChunks(ctx context.Context, indexID string) (int, error)
	ForEachChunk(ctx context.Context, fn func(*ChunkRecord) error) error

	// State operations (key-value store for index-level state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// VectorStore provides similarity search over derived vector points.
type VectorStore interface {
	// Add inserts points. An existing ID is replaced.
	Add(ctx context.Context, points []VectorPoint) error

	// Search finds up to k nearest neighbors matching the filter.
	Search(ctx context.Context, query []float32, k int, filter VectorFilter) ([]*VectorResult, error)

	// Delete removes points by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Drop removes all points, leaving an empty collection.
	Drop() error

	// AllIDs returns all point IDs (for consistency checks).
	AllIDs() []string

	// Contains checks if an ID exists.
	Contains(id string) bool

	// Count returns the number of points.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
