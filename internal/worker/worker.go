// Package worker polls the system event log and drives the entity indexer
// asynchronously, so producers never block on indexing.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laserpointlabs/ODRAS-sub000/internal/event"
	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
	"github.com/laserpointlabs/ODRAS-sub000/internal/index"
)

// Worker defaults.
const (
	// DefaultPollInterval is the delay between poll cycles.
	DefaultPollInterval = 5 * time.Second

	// DefaultSafetyWindow is subtracted from "now" for the initial
	// watermark, so events emitted during worker startup are not lost.
	DefaultSafetyWindow = 30 * time.Second

	// DefaultBatchSize bounds events fetched per cycle, keeping memory flat
	// on a backlog.
	DefaultBatchSize = 50

	// DefaultConcurrency caps concurrent entity indexing within a cycle,
	// bounding pressure on the relational store's connection pool.
	DefaultConcurrency = 4
)

// Config configures a Worker. Zero fields take defaults.
type Config struct {
	PollInterval time.Duration
	SafetyWindow time.Duration
	BatchSize    int
	Concurrency  int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SafetyWindow <= 0 {
		c.SafetyWindow = DefaultSafetyWindow
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Worker is the background reindexing loop. One worker runs per process;
// poll cycles never overlap, but entities within a cycle are indexed
// concurrently up to the configured cap.
type Worker struct {
	log      *event.Log
	indexer  *index.Indexer
	provider ContentProvider
	config   Config
	logger   *slog.Logger

	mu          sync.Mutex
	handlers    map[string]Handler
	watermark   time.Time
	watermarkID string
	cycleMu     sync.Mutex
}

// New creates a Worker with the default handler table registered. The
// initial watermark is "now minus the safety window".
func New(log *event.Log, indexer *index.Indexer, provider ContentProvider, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		log:      log,
		indexer:  indexer,
		provider: provider,
		config:   cfg.withDefaults(),
		logger:   logger,
	}
	w.handlers = w.defaultHandlers()
	w.watermark = time.Now().UTC().Add(-w.config.SafetyWindow)
	return w
}

// RegisterHandler adds or replaces the routine for an event type.
func (w *Worker) RegisterHandler(eventType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[eventType] = h
}

// Watermark returns the current watermark timestamp.
func (w *Worker) Watermark() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watermark
}

// SetWatermark overrides the watermark (tests and replay tooling). The
// event-id tiebreak resets, so the next cycle fetches everything strictly
// after t.
func (w *Worker) SetWatermark(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watermark = t
	w.watermarkID = ""
}

// advanceWatermark moves the cursor past a processed event. Keeping the
// event id alongside the timestamp makes the cursor exact when several
// events share a created_at across a batch boundary.
func (w *Worker) advanceWatermark(ev *event.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watermark = ev.CreatedAt
	w.watermarkID = ev.EventID
}

func (w *Worker) cursor() (time.Time, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watermark, w.watermarkID
}

// Run executes poll cycles until the context is cancelled. Cancellation is
// observed between cycles; a cycle in flight finishes first.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("reindex_worker_started",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize),
		slog.Int("concurrency", w.config.Concurrency))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reindex_worker_stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunCycle(ctx); err != nil {
				if ctx.Err() != nil {
					w.logger.Info("reindex_worker_stopped")
					return ctx.Err()
				}
				w.logger.Error("poll_cycle_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunCycle executes one poll cycle: fetch events past the watermark, oldest
// first, dispatch each to its handler, then advance the watermark to the
// last fetched event. It returns the number of events processed.
//
// Content-class failures (bad payload, missing entity) are logged and
// skipped so one bad record can never wedge the loop. Retryable failures
// (store unreachable, embedder timeout) abort the cycle without advancing
// the watermark; the next cycle replays the batch, which is safe because
// indexing is an upsert.
func (w *Worker) RunCycle(ctx context.Context) (int, error) {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	wm, wmID := w.cursor()
	events, err := w.log.FetchAfter(ctx, wm, wmID, w.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, ev := range events {
		g.Go(func() error {
			if err := w.dispatch(gctx, ev); err != nil {
				if odraserrors.IsRetryable(err) {
					return fmt.Errorf("event %s: %w", ev.EventID, err)
				}
				w.logEventFailure(ev, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	w.advanceWatermark(events[len(events)-1])
	w.logger.Debug("poll_cycle_complete",
		slog.Int("events", len(events)),
		slog.Time("watermark", w.Watermark()))
	return len(events), nil
}

// ProcessEventImmediate dispatches one event inline, for producers where
// waiting for the next poll would be user-visible staleness.
func (w *Worker) ProcessEventImmediate(ctx context.Context, ev *event.Record) error {
	return w.dispatch(ctx, ev)
}

// dispatch routes an event to its registered handler.
func (w *Worker) dispatch(ctx context.Context, ev *event.Record) error {
	w.mu.Lock()
	handler, ok := w.handlers[ev.EventType]
	w.mu.Unlock()

	if !ok {
		return odraserrors.ContentError(
			fmt.Sprintf("no handler registered for event type %q", ev.EventType), nil).
			WithDetail("event_id", ev.EventID)
	}
	return handler(ctx, ev)
}

// logEventFailure records a skipped event at a severity matching its error
// category: content errors are expected operational noise, anything else is
// worth an operator's attention.
func (w *Worker) logEventFailure(ev *event.Record, err error) {
	attrs := []any{
		slog.String("event_id", ev.EventID),
		slog.String("event_type", ev.EventType),
		slog.String("entity_id", ev.EntityID()),
		slog.String("error", err.Error()),
	}
	if odraserrors.GetCategory(err) == odraserrors.CategoryContent {
		w.logger.Warn("event_skipped", attrs...)
		return
	}
	w.logger.Error("event_failed", attrs...)
}
