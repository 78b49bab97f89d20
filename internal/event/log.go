// Package event provides the append-only system event log that drives
// asynchronous reindexing. Records are queryable by "created after T,
// ascending", which is the only access pattern the worker needs.
package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// Event types emitted by producers. The worker's handler table maps these to
// indexing routines; new producers add new types without touching existing
// handlers.
const (
	TypeFileUploaded          = "file_uploaded"
	TypeFileDeleted           = "file_deleted"
	TypeOntologyModified      = "ontology_modified"
	TypeKnowledgeAssetCreated = "knowledge_asset_created"
	TypeConversationTurn      = "conversation_turn"
)

// Record is one system event.
type Record struct {
	EventID         string
	ProjectID       string
	EventType       string
	EventData       map[string]string
	SemanticSummary string
	CreatedAt       time.Time
}

// EntityID returns the referenced entity id, if the producer supplied one.
func (r *Record) EntityID() string {
	return r.EventData["entity_id"]
}

// Log is an append-only SQLite-backed event log.
type Log struct {
	db *sql.DB
}

// NewLog opens (or creates) the event log at path. An empty path creates an
// in-memory log for testing.
func NewLog(path string) (*Log, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS event_log (
		event_id         TEXT PRIMARY KEY,
		project_id       TEXT NOT NULL DEFAULT '',
		event_type       TEXT NOT NULL,
		event_data       TEXT NOT NULL DEFAULT '{}',
		semantic_summary TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_created ON event_log(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}
	return &Log{db: db}, nil
}

// timeFormat keeps lexicographic order equal to chronological order so the
// created_at index serves the watermark query directly.
const timeFormat = time.RFC3339Nano

// Append writes a record. A missing EventID or CreatedAt is assigned.
func (l *Log) Append(ctx context.Context, r *Record) error {
	if r.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if r.EventID == "" {
		r.EventID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	data := r.EventData
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO event_log (event_id, project_id, event_type, event_data, semantic_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.EventID, r.ProjectID, r.EventType, string(dataJSON), r.SemanticSummary,
		r.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// FetchSince returns up to limit records created strictly after t, oldest
// first. Records sharing a created_at are ordered by event_id so pagination
// is deterministic.
func (l *Log) FetchSince(ctx context.Context, t time.Time, limit int) ([]*Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, project_id, event_type, event_data, semantic_summary, created_at
		FROM event_log
		WHERE created_at > ?
		ORDER BY created_at ASC, event_id ASC
		LIMIT ?`,
		t.UTC().Format(timeFormat), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return scanRecords(rows)
}

// FetchAfter returns up to limit records past the cursor (t, afterID),
// oldest first. The event_id tiebreak makes the cursor exact even when
// several records share a created_at across a batch boundary; an empty
// afterID behaves like FetchSince.
func (l *Log) FetchAfter(ctx context.Context, t time.Time, afterID string, limit int) ([]*Record, error) {
	ts := t.UTC().Format(timeFormat)
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, project_id, event_type, event_data, semantic_summary, created_at
		FROM event_log
		WHERE created_at > ? OR (created_at = ? AND event_id > ?)
		ORDER BY created_at ASC, event_id ASC
		LIMIT ?`,
		ts, ts, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		var (
			r         Record
			dataJSON  string
			createdAt string
		)
		if err := rows.Scan(&r.EventID, &r.ProjectID, &r.EventType, &dataJSON,
			&r.SemanticSummary, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dataJSON), &r.EventData); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
		parsed, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		r.CreatedAt = parsed
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Count returns the total number of records.
func (l *Log) Count(ctx context.Context) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`).Scan(&count)
	return count, err
}

// Close closes the log.
func (l *Log) Close() error {
	return l.db.Close()
}
