package worker

import (
	"context"

	"github.com/laserpointlabs/ODRAS-sub000/internal/event"
	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
	"github.com/laserpointlabs/ODRAS-sub000/internal/index"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

// Content is what a collaborator store returns for an entity: the text to
// index plus minimal metadata.
type Content struct {
	Summary  string
	URI      string
	Domain   string
	Metadata map[string]string
	Tags     []string
}

// ContentProvider resolves an entity's raw content from its owning store
// (file metadata, ontology registry, knowledge-asset store, conversation
// log). A missing entity returns a not-found content error; decode failures
// are per-entity skips, never fatal to a poll cycle.
type ContentProvider interface {
	Fetch(ctx context.Context, entityType store.EntityType, entityID string) (*Content, error)
}

// Handler processes one event record.
type Handler func(ctx context.Context, ev *event.Record) error

// defaultHandlers builds the event-type → routine table. New producers
// register additional types via RegisterHandler without touching these.
func (w *Worker) defaultHandlers() map[string]Handler {
	return map[string]Handler{
		event.TypeFileUploaded:          w.upsertHandler(store.EntityTypeFile),
		event.TypeFileDeleted:           w.deleteHandler(store.EntityTypeFile),
		event.TypeOntologyModified:      w.upsertHandler(store.EntityTypeOntology),
		event.TypeKnowledgeAssetCreated: w.upsertHandler(store.EntityTypeKnowledgeAsset),
		event.TypeConversationTurn:      w.upsertHandler(store.EntityTypeConversation),
	}
}

// upsertHandler resolves the referenced entity and indexes its content. When
// the entity is gone from its owning store (deleted between event emission
// and processing) the event's semantic summary is indexed if present,
// otherwise the event is skipped as a content error.
func (w *Worker) upsertHandler(entityType store.EntityType) Handler {
	return func(ctx context.Context, ev *event.Record) error {
		entityID := ev.EntityID()
		if entityID == "" {
			return odraserrors.ContentError("event carries no entity_id", nil).
				WithDetail("event_id", ev.EventID).
				WithDetail("event_type", ev.EventType)
		}

		content, err := w.provider.Fetch(ctx, entityType, entityID)
		if err != nil {
			if store.IsNotFound(err) && ev.SemanticSummary != "" {
				content = &Content{Summary: ev.SemanticSummary}
			} else {
				return err
			}
		}

		_, err = w.indexer.IndexEntity(ctx, index.IndexRequest{
			EntityType:     entityType,
			EntityID:       entityID,
			ContentSummary: content.Summary,
			ProjectID:      ev.ProjectID,
			EntityURI:      content.URI,
			Domain:         content.Domain,
			Metadata:       content.Metadata,
			Tags:           content.Tags,
		})
		return err
	}
}

// deleteHandler removes the referenced entity from the index. DeleteIndex is
// a no-op for never-indexed entities, so replays are safe.
func (w *Worker) deleteHandler(entityType store.EntityType) Handler {
	return func(ctx context.Context, ev *event.Record) error {
		entityID := ev.EntityID()
		if entityID == "" {
			return odraserrors.ContentError("event carries no entity_id", nil).
				WithDetail("event_id", ev.EventID).
				WithDetail("event_type", ev.EventType)
		}
		return w.indexer.DeleteIndex(ctx, entityType, entityID)
	}
}
