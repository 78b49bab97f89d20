package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laserpointlabs/ODRAS-sub000/internal/chunk"
	"github.com/laserpointlabs/ODRAS-sub000/internal/embed"
	"github.com/laserpointlabs/ODRAS-sub000/internal/event"
	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
	"github.com/laserpointlabs/ODRAS-sub000/internal/index"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

// fakeProvider serves entity content from an in-memory map. Injected
// failures take priority over stored content.
type fakeProvider struct {
	mu       sync.Mutex
	contents map[string]*Content
	errs     map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		contents: make(map[string]*Content),
		errs:     make(map[string]error),
	}
}

func (f *fakeProvider) put(entityType store.EntityType, entityID string, c *Content) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(entityType) + "/" + entityID
	f.contents[key] = c
	delete(f.errs, key)
}

func (f *fakeProvider) failWith(entityType store.EntityType, entityID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[string(entityType)+"/"+entityID] = err
}

func (f *fakeProvider) Fetch(_ context.Context, entityType store.EntityType, entityID string) (*Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(entityType) + "/" + entityID
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if c, ok := f.contents[key]; ok {
		return c, nil
	}
	return nil, odraserrors.New(odraserrors.ErrCodeEntityNotFound, "entity not found", nil)
}

type workerFixture struct {
	worker   *Worker
	log      *event.Log
	indexer  *index.Indexer
	provider *fakeProvider
}

func newWorkerFixture(t *testing.T, cfg Config) *workerFixture {
	t.Helper()

	entries, err := store.NewSQLiteEntryStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = entries.Close() })

	vectors, err := store.NewHNSWVectorStore(store.DefaultVectorStoreConfig(embed.StaticDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	log, err := event.NewLog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	indexStore := store.NewIndexStore(entries, vectors, "", nil)
	ix := index.New(indexStore, chunk.New(chunk.Config{}, nil), embed.NewStaticEmbedder(), nil)
	provider := newFakeProvider()

	w := New(log, ix, provider, cfg, nil)
	// Start from the epoch so test events are always past the watermark.
	w.SetWatermark(time.Time{})

	return &workerFixture{worker: w, log: log, indexer: ix, provider: provider}
}

func (f *workerFixture) appendEvent(t *testing.T, eventType, entityID string) *event.Record {
	t.Helper()
	r := &event.Record{
		EventType: eventType,
		ProjectID: "p1",
		EventData: map[string]string{"entity_id": entityID},
	}
	require.NoError(t, f.log.Append(context.Background(), r))
	return r
}

func TestWorker_CycleIndexesUploadedFiles(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()

	f.provider.put(store.EntityTypeFile, "f1", &Content{
		Summary: "Structural load analysis for the primary truss.",
		Domain:  "requirements",
	})
	f.appendEvent(t, event.TypeFileUploaded, "f1")

	n, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := f.indexer.ListIndexed(ctx, store.EntryFilter{EntityType: store.EntityTypeFile})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f1", entries[0].EntityID)
	assert.Equal(t, "p1", entries[0].ProjectID)
	assert.Equal(t, "requirements", entries[0].Domain)
}

func TestWorker_WatermarkAdvances(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()

	f.provider.put(store.EntityTypeFile, "f1", &Content{Summary: "content"})
	r := f.appendEvent(t, event.TypeFileUploaded, "f1")

	_, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.CreatedAt, f.worker.Watermark())

	// The same event is not refetched.
	n, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorker_BatchSizeBoundsCycle(t *testing.T) {
	f := newWorkerFixture(t, Config{BatchSize: 2})
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"f1", "f2", "f3"} {
		f.provider.put(store.EntityTypeFile, id, &Content{Summary: "content " + id})
		require.NoError(t, f.log.Append(ctx, &event.Record{
			EventType: event.TypeFileUploaded,
			EventData: map[string]string{"entity_id": id},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	n, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorker_MissingEntityIsSkippedNotFatal(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	// One event references a vanished entity, the next a live one.
	require.NoError(t, f.log.Append(ctx, &event.Record{
		EventType: event.TypeFileUploaded,
		EventData: map[string]string{"entity_id": "vanished"},
		CreatedAt: base,
	}))
	f.provider.put(store.EntityTypeFile, "f2", &Content{Summary: "live content"})
	require.NoError(t, f.log.Append(ctx, &event.Record{
		EventType: event.TypeFileUploaded,
		EventData: map[string]string{"entity_id": "f2"},
		CreatedAt: base.Add(time.Second),
	}))

	n, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := f.indexer.ListIndexed(ctx, store.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f2", entries[0].EntityID)
}

func TestWorker_TransientFailureAbortsCycleWithoutAdvancing(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()

	// Given a provider that is temporarily unreachable
	f.appendEvent(t, event.TypeFileUploaded, "f1")
	f.provider.failWith(store.EntityTypeFile, "f1",
		odraserrors.TransientError("content store unreachable", nil))

	// When the cycle runs
	_, err := f.worker.RunCycle(ctx)

	// Then it fails and the watermark does not move past the event
	require.Error(t, err)
	assert.True(t, f.worker.Watermark().IsZero())

	entries, err := f.indexer.ListIndexed(ctx, store.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	// And once the provider recovers, the replayed event is indexed
	f.provider.put(store.EntityTypeFile, "f1", &Content{Summary: "recovered content"})
	n, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err = f.indexer.ListIndexed(ctx, store.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f1", entries[0].EntityID)
}

func TestWorker_SharedTimestampAcrossBatchBoundary(t *testing.T) {
	f := newWorkerFixture(t, Config{BatchSize: 2})
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	// Three events share one created_at, forcing a batch boundary inside
	// the tie.
	for _, id := range []string{"f1", "f2", "f3"} {
		f.provider.put(store.EntityTypeFile, id, &Content{Summary: "content " + id})
		require.NoError(t, f.log.Append(ctx, &event.Record{
			EventID:   "evt-" + id,
			EventType: event.TypeFileUploaded,
			EventData: map[string]string{"entity_id": id},
			CreatedAt: at,
		}))
	}

	n, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := f.indexer.ListIndexed(ctx, store.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestWorker_SemanticSummaryFallback(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()

	// The conversation turn is gone from its store, but the event carries a
	// semantic summary.
	require.NoError(t, f.log.Append(ctx, &event.Record{
		EventType:       event.TypeConversationTurn,
		EventData:       map[string]string{"entity_id": "turn-9"},
		SemanticSummary: "User asked about valve redundancy requirements.",
	}))

	_, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)

	entries, err := f.indexer.ListIndexed(ctx, store.EntryFilter{EntityType: store.EntityTypeConversation})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "User asked about valve redundancy requirements.", entries[0].ContentSummary)
}

func TestWorker_DeleteEventRemovesEntity(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	f.provider.put(store.EntityTypeFile, "f1", &Content{Summary: "to be deleted"})
	require.NoError(t, f.log.Append(ctx, &event.Record{
		EventType: event.TypeFileUploaded,
		EventData: map[string]string{"entity_id": "f1"},
		CreatedAt: base,
	}))
	require.NoError(t, f.log.Append(ctx, &event.Record{
		EventType: event.TypeFileDeleted,
		EventData: map[string]string{"entity_id": "f1"},
		CreatedAt: base.Add(time.Second),
	}))

	_, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)

	entries, err := f.indexer.ListIndexed(ctx, store.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorker_UnknownEventTypeSkipped(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.log.Append(ctx, &event.Record{
		EventType: "workflow_step_completed",
		EventData: map[string]string{"entity_id": "x"},
	}))

	n, err := f.worker.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorker_RegisterHandlerIsAdditive(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()

	var handled []string
	f.worker.RegisterHandler("workflow_step_completed", func(_ context.Context, ev *event.Record) error {
		handled = append(handled, ev.EntityID())
		return nil
	})

	err := f.worker.ProcessEventImmediate(ctx, &event.Record{
		EventType: "workflow_step_completed",
		EventData: map[string]string{"entity_id": "step-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"step-3"}, handled)
}

func TestWorker_ProcessEventImmediate(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()

	f.provider.put(store.EntityTypeKnowledgeAsset, "ka-1", &Content{Summary: "inline asset"})

	err := f.worker.ProcessEventImmediate(ctx, &event.Record{
		EventType: event.TypeKnowledgeAssetCreated,
		EventData: map[string]string{"entity_id": "ka-1"},
	})
	require.NoError(t, err)

	entries, err := f.indexer.ListIndexed(ctx, store.EntryFilter{EntityType: store.EntityTypeKnowledgeAsset})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWorker_ProcessEventImmediateUnknownType(t *testing.T) {
	f := newWorkerFixture(t, Config{})

	err := f.worker.ProcessEventImmediate(context.Background(), &event.Record{
		EventType: "mystery",
	})
	assert.Error(t, err)
}

func TestWorker_ReplayedEventIsIdempotent(t *testing.T) {
	f := newWorkerFixture(t, Config{})
	ctx := context.Background()

	f.provider.put(store.EntityTypeFile, "f1", &Content{Summary: "replayed content"})
	ev := &event.Record{
		EventType: event.TypeFileUploaded,
		EventData: map[string]string{"entity_id": "f1"},
	}

	require.NoError(t, f.worker.ProcessEventImmediate(ctx, ev))
	require.NoError(t, f.worker.ProcessEventImmediate(ctx, ev))

	entries, err := f.indexer.ListIndexed(ctx, store.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	f := newWorkerFixture(t, Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
