package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 4

func newTestVectorStore(t *testing.T) *HNSWVectorStore {
	t.Helper()
	s, err := NewHNSWVectorStore(DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPoint(id string, vec []float32, payload VectorPayload) VectorPoint {
	payload.ChunkID = id
	return VectorPoint{ID: id, Vector: vec, Payload: payload}
}

func TestVectorStore_AddAndSearch(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []VectorPoint{
		testPoint("a", []float32{1, 0, 0, 0}, VectorPayload{IndexID: "e1", Sequence: 0}),
		testPoint("b", []float32{0, 1, 0, 0}, VectorPayload{IndexID: "e1", Sequence: 1}),
		testPoint("c", []float32{0.9, 0.1, 0, 0}, VectorPayload{IndexID: "e2", Sequence: 0}),
	}))
	assert.Equal(t, 3, s.Count())

	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 2, VectorFilter{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Nearest first, with payload carried through.
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, "e1", results[0].Payload.IndexID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorStore_SearchWithFilter(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []VectorPoint{
		testPoint("a", []float32{1, 0, 0, 0}, VectorPayload{EntityType: "file", Domain: "requirements", ProjectID: "p1"}),
		testPoint("b", []float32{0.9, 0.1, 0, 0}, VectorPayload{EntityType: "ontology", Domain: "ontology", ProjectID: "p1"}),
		testPoint("c", []float32{0.8, 0.2, 0, 0}, VectorPayload{EntityType: "file", Domain: "requirements", ProjectID: "p2"}),
	}))

	query := []float32{1, 0, 0, 0}

	byType, err := s.Search(ctx, query, 3, VectorFilter{EntityType: "ontology"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "b", byType[0].ID)

	byProject, err := s.Search(ctx, query, 3, VectorFilter{Domain: "requirements", ProjectID: "p2"})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, "c", byProject[0].ID)
}

func TestVectorStore_ReplaceExistingID(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []VectorPoint{
		testPoint("a", []float32{1, 0, 0, 0}, VectorPayload{IndexID: "old"}),
	}))
	require.NoError(t, s.Add(ctx, []VectorPoint{
		testPoint("a", []float32{0, 1, 0, 0}, VectorPayload{IndexID: "new"}),
	}))

	assert.Equal(t, 1, s.Count())

	results, err := s.Search(ctx, []float32{0, 1, 0, 0}, 1, VectorFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "new", results[0].Payload.IndexID)
}

func TestVectorStore_DeleteHidesPoints(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []VectorPoint{
		testPoint("a", []float32{1, 0, 0, 0}, VectorPayload{}),
		testPoint("b", []float32{0, 1, 0, 0}, VectorPayload{}),
	}))
	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))

	assert.Equal(t, 1, s.Count())
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))

	// Lazily deleted nodes never surface in results.
	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 2, VectorFilter{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestVectorStore_DimensionMismatch(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	err := s.Add(ctx, []VectorPoint{testPoint("a", []float32{1, 0}, VectorPayload{})})
	var mismatch ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, testDims, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Got)

	_, err = s.Search(ctx, []float32{1, 0}, 1, VectorFilter{})
	assert.ErrorAs(t, err, &mismatch)
}

func TestVectorStore_EmptySearch(t *testing.T) {
	s := newTestVectorStore(t)

	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5, VectorFilter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorStore_Drop(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []VectorPoint{
		testPoint("a", []float32{1, 0, 0, 0}, VectorPayload{}),
	}))
	require.NoError(t, s.Drop())

	assert.Zero(t, s.Count())

	// The collection stays usable after a drop.
	require.NoError(t, s.Add(ctx, []VectorPoint{
		testPoint("b", []float32{0, 1, 0, 0}, VectorPayload{}),
	}))
	assert.Equal(t, 1, s.Count())
}

func TestVectorStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	s := newTestVectorStore(t)
	require.NoError(t, s.Add(ctx, []VectorPoint{
		testPoint("a", []float32{1, 0, 0, 0}, VectorPayload{IndexID: "e1", Domain: "requirements"}),
		testPoint("b", []float32{0, 1, 0, 0}, VectorPayload{IndexID: "e2"}),
	}))
	require.NoError(t, s.Save(path))

	restored, err := NewHNSWVectorStore(DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	defer func() { _ = restored.Close() }()
	require.NoError(t, restored.Load(path))

	assert.Equal(t, 2, restored.Count())

	results, err := restored.Search(ctx, []float32{1, 0, 0, 0}, 1, VectorFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "requirements", results[0].Payload.Domain)

	dims, err := ReadStoredDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, testDims, dims)
}

func TestReadStoredDimensions_FreshStart(t *testing.T) {
	dims, err := ReadStoredDimensions(filepath.Join(t.TempDir(), "nothing.hnsw"))
	require.NoError(t, err)
	assert.Zero(t, dims)
}
