// Package watch bridges filesystem activity into the indexing pipeline: it
// observes a drop directory and appends file events to the event log, where
// the reindexing worker picks them up.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/laserpointlabs/ODRAS-sub000/internal/event"
)

// Watcher turns drop-directory changes into event log records. Entity ids
// are paths relative to the watched directory.
type Watcher struct {
	dir       string
	projectID string
	log       *event.Log
	fsw       *fsnotify.Watcher
	logger    *slog.Logger
}

// New creates a watcher over dir. The directory must exist.
func New(dir, projectID string, log *event.Log, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		dir:       dir,
		projectID: projectID,
		log:       log,
		fsw:       fsw,
		logger:    logger,
	}, nil
}

// Run forwards filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	w.logger.Info("drop_watcher_started", slog.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("drop_watcher_stopped")
			return ctx.Err()
		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsEvent)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("drop_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// handle maps one filesystem event to an event log record. Hidden files and
// directories are ignored.
func (w *Watcher) handle(ctx context.Context, fsEvent fsnotify.Event) {
	rel, err := filepath.Rel(w.dir, fsEvent.Name)
	if err != nil || strings.HasPrefix(filepath.Base(rel), ".") {
		return
	}

	var eventType string
	switch {
	case fsEvent.Op.Has(fsnotify.Create) || fsEvent.Op.Has(fsnotify.Write):
		if info, err := os.Stat(fsEvent.Name); err != nil || info.IsDir() {
			return
		}
		eventType = event.TypeFileUploaded
	case fsEvent.Op.Has(fsnotify.Remove) || fsEvent.Op.Has(fsnotify.Rename):
		eventType = event.TypeFileDeleted
	default:
		return
	}

	record := &event.Record{
		EventType: eventType,
		ProjectID: w.projectID,
		EventData: map[string]string{"entity_id": rel, "path": fsEvent.Name},
	}
	if err := w.log.Append(ctx, record); err != nil {
		w.logger.Warn("drop_event_append_failed",
			slog.String("path", rel),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("drop_event_recorded",
		slog.String("event_type", eventType),
		slog.String("entity_id", rel))
}
