package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// searchOverfetch is how many extra candidates a filtered search pulls from
// the graph before payload filtering, since the graph itself cannot filter.
const searchOverfetch = 4

// HNSWVectorStore implements VectorStore on a pure Go HNSW graph (no CGO).
// Points carry an identifiers-only payload; chunk content never enters this
// store, so the whole collection is rebuildable from the relational store.
type HNSWVectorStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// ID mapping (string point id <-> internal graph key)
	idMap    map[string]uint64
	keyMap   map[uint64]string
	payloads map[string]VectorPayload
	nextKey  uint64

	closed bool
}

var _ VectorStore = (*HNSWVectorStore)(nil)

// hnswMetadata is the gob-persisted sidecar holding ID mappings and payloads.
type hnswMetadata struct {
	IDMap    map[string]uint64
	Payloads map[string]VectorPayload
	NextKey  uint64
	Config   VectorStoreConfig
}

// NewHNSWVectorStore creates an empty vector store.
func NewHNSWVectorStore(cfg VectorStoreConfig) (*HNSWVectorStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector store requires a positive dimension, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	s := &HNSWVectorStore{
		config:   cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]VectorPayload),
	}
	s.graph = newGraph(cfg)
	return s, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Add inserts points with their payloads. Existing IDs are replaced using
// lazy deletion: the old graph node is orphaned rather than removed, which
// avoids graph corruption when the last node is deleted.
func (s *HNSWVectorStore) Add(ctx context.Context, points []VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, p := range points {
		if len(p.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(p.Vector)}
		}
	}

	for _, p := range points {
		if existingKey, exists := s.idMap[p.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, p.ID)
			delete(s.payloads, p.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		if s.config.Metric == "cos" {
			normalizeInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[p.ID] = key
		s.keyMap[key] = p.ID
		s.payloads[p.ID] = p.Payload
	}
	return nil
}

// Search finds up to k nearest neighbors whose payloads match the filter.
// The graph cannot filter during traversal, so the search overfetches and
// filters afterwards; a heavily filtered collection may return fewer than k
// hits even when matches exist deeper in the graph.
func (s *HNSWVectorStore) Search(ctx context.Context, query []float32, k int, filter VectorFilter) ([]*VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if s.config.Metric == "cos" {
		normalizeInPlace(normalized)
	}

	fetchK := k * searchOverfetch
	if fetchK > s.graph.Len() {
		fetchK = s.graph.Len()
	}

	nodes := s.graph.Search(normalized, fetchK)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Lazily deleted node, skip.
			continue
		}
		payload := s.payloads[id]
		if !filter.matches(payload) {
			continue
		}

		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
			Payload:  payload,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Delete removes points by ID using lazy deletion.
func (s *HNSWVectorStore) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.payloads, id)
		}
	}
	return nil
}

// Drop removes all points, leaving an empty collection ready for rebuild.
func (s *HNSWVectorStore) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	s.graph = newGraph(s.config)
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.payloads = make(map[string]VectorPayload)
	s.nextKey = 0
	return nil
}

// AllIDs returns all point IDs.
func (s *HNSWVectorStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains checks if an ID exists.
func (s *HNSWVectorStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live points.
func (s *HNSWVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the graph and its ID/payload sidecar atomically (temp file
// plus rename).
func (s *HNSWVectorStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWVectorStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:    s.idMap,
		Payloads: s.payloads,
		NextKey:  s.nextKey,
		Config:   s.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and sidecar from disk.
func (s *HNSWVectorStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// bufio.Reader because hnsw Import requires io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (s *HNSWVectorStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.payloads = meta.Payloads
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	if s.payloads == nil {
		s.payloads = make(map[string]VectorPayload)
	}
	s.graph = newGraph(s.config)
	return nil
}

// ReadStoredDimensions reads the dimension recorded in a saved store's
// sidecar. Returns 0 if no store exists yet.
func ReadStoredDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open vector metadata: %w", err)
	}
	defer func() { _ = file.Close() }()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode vector metadata: %w", err)
	}
	return meta.Config.Dimensions, nil
}

// Close releases resources.
func (s *HNSWVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance to a similarity score in [0, 1].
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		// Cosine distance ranges 0 (identical) to 2 (opposite).
		return 1.0 - distance/2.0
	}
}
