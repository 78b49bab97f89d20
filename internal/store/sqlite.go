package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
)

// SQLiteEntryStore implements EntryStore on SQLite with WAL mode.
type SQLiteEntryStore struct {
	db   *sql.DB
	path string
}

var _ EntryStore = (*SQLiteEntryStore)(nil)

// timeFormat is how timestamps are stored; RFC3339Nano keeps lexicographic
// order equal to chronological order.
const timeFormat = time.RFC3339Nano

// NewSQLiteEntryStore opens (or creates) the relational store at path.
// An empty path creates an in-memory store for testing.
func NewSQLiteEntryStore(path string) (*SQLiteEntryStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, odraserrors.New(odraserrors.ErrCodeStoreUnreachable,
			fmt.Sprintf("failed to open relational store: %v", err), err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteEntryStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates tables and indexes.
func (s *SQLiteEntryStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS index_entry (
		index_id        TEXT PRIMARY KEY,
		entity_type     TEXT NOT NULL,
		entity_id       TEXT NOT NULL,
		entity_uri      TEXT NOT NULL DEFAULT '',
		content_summary TEXT NOT NULL,
		project_id      TEXT NOT NULL DEFAULT '',
		domain          TEXT NOT NULL DEFAULT '',
		tags            TEXT NOT NULL DEFAULT '[]',
		metadata        TEXT NOT NULL DEFAULT '{}',
		indexed_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		UNIQUE(entity_type, entity_id)
	);

	CREATE TABLE IF NOT EXISTS chunk_record (
		vector_id         TEXT PRIMARY KEY,
		index_id          TEXT NOT NULL REFERENCES index_entry(index_id) ON DELETE CASCADE,
		sequence_number   INTEGER NOT NULL,
		content           TEXT NOT NULL,
		token_count       INTEGER NOT NULL,
		embedding_model   TEXT NOT NULL,
		metadata          TEXT NOT NULL DEFAULT '{}',
		vector_collection TEXT NOT NULL DEFAULT '',
		vector_point_id   TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entry_project ON index_entry(project_id);
	CREATE INDEX IF NOT EXISTS idx_entry_domain ON index_entry(domain);
	CREATE INDEX IF NOT EXISTS idx_chunk_entry ON chunk_record(index_id, sequence_number);

	CREATE TABLE IF NOT EXISTS engine_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// IsNotFound reports whether err is an entity-not-found error.
func IsNotFound(err error) bool {
	return odraserrors.GetCode(err) == odraserrors.ErrCodeEntityNotFound
}

func notFoundError(what, id string) error {
	return odraserrors.New(odraserrors.ErrCodeEntityNotFound,
		fmt.Sprintf("%s %q not found", what, id), nil)
}

// CreateEntry inserts a new index entry. An empty IndexID is assigned a
// generated identifier. A duplicate (entity_type, entity_id) fails on the
// unique constraint; callers upsert via GetEntryByEntity first.
func (s *SQLiteEntryStore) CreateEntry(ctx context.Context, entry *IndexEntry) error {
	if entry.IndexID == "" {
		entry.IndexID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.IndexedAt.IsZero() {
		entry.IndexedAt = now
	}
	entry.UpdatedAt = now

	tags, metadata, err := encodeTagsMetadata(entry.Tags, entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO index_entry (index_id, entity_type, entity_id, entity_uri,
			content_summary, project_id, domain, tags, metadata, indexed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.IndexID, string(entry.EntityType), entry.EntityID, entry.EntityURI,
		entry.ContentSummary, entry.ProjectID, entry.Domain, tags, metadata,
		entry.IndexedAt.Format(timeFormat), entry.UpdatedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to insert index entry: %w", err)
	}
	return nil
}

// GetEntry fetches an entry by its generated identifier.
func (s *SQLiteEntryStore) GetEntry(ctx context.Context, indexID string) (*IndexEntry, error) {
	row := s.db.QueryRowContext(ctx,
		selectEntryColumns+` FROM index_entry WHERE index_id = ?`, indexID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, notFoundError("index entry", indexID)
	}
	return entry, err
}

// GetEntryByEntity fetches an entry by its producer-supplied identity.
func (s *SQLiteEntryStore) GetEntryByEntity(ctx context.Context, entityType EntityType, entityID string) (*IndexEntry, error) {
	row := s.db.QueryRowContext(ctx,
		selectEntryColumns+` FROM index_entry WHERE entity_type = ? AND entity_id = ?`,
		string(entityType), entityID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, notFoundError("indexed entity", string(entityType)+"/"+entityID)
	}
	return entry, err
}

// UpdateEntry rewrites a full entry row and bumps updated_at.
func (s *SQLiteEntryStore) UpdateEntry(ctx context.Context, entry *IndexEntry) error {
	entry.UpdatedAt = time.Now().UTC()

	tags, metadata, err := encodeTagsMetadata(entry.Tags, entry.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE index_entry
		SET entity_uri = ?, content_summary = ?, project_id = ?, domain = ?,
			tags = ?, metadata = ?, updated_at = ?
		WHERE index_id = ?`,
		entry.EntityURI, entry.ContentSummary, entry.ProjectID, entry.Domain,
		tags, metadata, entry.UpdatedAt.Format(timeFormat), entry.IndexID)
	if err != nil {
		return fmt.Errorf("failed to update index entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFoundError("index entry", entry.IndexID)
	}
	return nil
}

// DeleteEntry removes an entry; chunk rows cascade. No-op if absent.
func (s *SQLiteEntryStore) DeleteEntry(ctx context.Context, indexID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM index_entry WHERE index_id = ?`, indexID)
	if err != nil {
		return fmt.Errorf("failed to delete index entry: %w", err)
	}
	return nil
}

// ListEntries returns entries matching the filter, newest first. Tag
// filtering is conjunctive and applied after the SQL narrowing because tags
// are stored as a JSON array.
func (s *SQLiteEntryStore) ListEntries(ctx context.Context, filter EntryFilter) ([]*IndexEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := selectEntryColumns + ` FROM index_entry WHERE 1=1`
	var args []any
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.EntityType))
	}
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list index entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*IndexEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if !hasAllTags(entry.Tags, filter.Tags) {
			continue
		}
		entries = append(entries, entry)
		if len(entries) >= limit {
			break
		}
	}
	return entries, rows.Err()
}

// hasAllTags reports whether got contains every tag in want.
func hasAllTags(got, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(got))
	for _, t := range got {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// InsertChunks inserts all chunk rows for one entry inside one transaction.
func (s *SQLiteEntryStore) InsertChunks(ctx context.Context, chunks []*ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_record (vector_id, index_id, sequence_number, content,
			token_count, embedding_model, metadata, vector_collection, vector_point_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if c.VectorID == "" {
			c.VectorID = uuid.NewString()
		}
		metadata, err := json.Marshal(orEmptyMap(c.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}

		var pointID any
		if c.VectorPointID != "" {
			pointID = c.VectorPointID
		}
		if _, err := stmt.ExecContext(ctx, c.VectorID, c.IndexID, c.SequenceNumber,
			c.Content, c.TokenCount, c.EmbeddingModel, string(metadata),
			c.VectorCollection, pointID); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.SequenceNumber, err)
		}
	}
	return tx.Commit()
}

// SetChunkVectorPointIDs back-fills vector_point_id = vector_id for the
// given chunks, marking their vectors as written.
func (s *SQLiteEntryStore) SetChunkVectorPointIDs(ctx context.Context, vectorIDs []string) error {
	if len(vectorIDs) == 0 {
		return nil
	}

	query := `UPDATE chunk_record SET vector_point_id = vector_id WHERE vector_id IN (` +
		placeholders(len(vectorIDs)) + `)`
	_, err := s.db.ExecContext(ctx, query, toAnySlice(vectorIDs)...)
	if err != nil {
		return fmt.Errorf("failed to set vector point ids: %w", err)
	}
	return nil
}

// GetChunk fetches a single chunk row by vector id.
func (s *SQLiteEntryStore) GetChunk(ctx context.Context, vectorID string) (*ChunkRecord, error) {
	row := s.db.QueryRowContext(ctx,
		selectChunkColumns+` FROM chunk_record WHERE vector_id = ?`, vectorID)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, notFoundError("chunk", vectorID)
	}
	return chunk, err
}

// GetChunks batch-fetches chunk rows by vector id. Missing ids are omitted.
func (s *SQLiteEntryStore) GetChunks(ctx context.Context, vectorIDs []string) ([]*ChunkRecord, error) {
	if len(vectorIDs) == 0 {
		return nil, nil
	}

	query := selectChunkColumns + ` FROM chunk_record WHERE vector_id IN (` +
		placeholders(len(vectorIDs)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(vectorIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectChunks(rows)
}

// GetChunksByEntry returns all chunk rows for an entry in sequence order.
func (s *SQLiteEntryStore) GetChunksByEntry(ctx context.Context, indexID string) ([]*ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectChunkColumns+` FROM chunk_record WHERE index_id = ? ORDER BY sequence_number`,
		indexID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entry chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectChunks(rows)
}

// DeleteChunks removes chunk rows by vector id.
func (s *SQLiteEntryStore) DeleteChunks(ctx context.Context, vectorIDs []string) error {
	if len(vectorIDs) == 0 {
		return nil
	}

	query := `DELETE FROM chunk_record WHERE vector_id IN (` + placeholders(len(vectorIDs)) + `)`
	_, err := s.db.ExecContext(ctx, query, toAnySlice(vectorIDs)...)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// DeleteChunksByEntry removes all chunk rows for an entry and returns the
// deleted vector ids so the caller can delete the matching vector points.
func (s *SQLiteEntryStore) DeleteChunksByEntry(ctx context.Context, indexID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vector_id FROM chunk_record WHERE index_id = ?`, indexID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry chunks: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chunk_record WHERE index_id = ?`, indexID); err != nil {
		return nil, fmt.Errorf("failed to delete entry chunks: %w", err)
	}
	return ids, nil
}

// CountChunks returns the number of chunk rows for an entry.
func (s *SQLiteEntryStore) CountChunks(ctx context.Context, indexID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_record WHERE index_id = ?`, indexID).Scan(&count)
	return count, err
}

// ForEachChunk streams every chunk row through fn, ordered by entry then
// sequence. Used by vector collection rebuild.
func (s *SQLiteEntryStore) ForEachChunk(ctx context.Context, fn func(*ChunkRecord) error) error {
	rows, err := s.db.QueryContext(ctx,
		selectChunkColumns+` FROM chunk_record ORDER BY index_id, sequence_number`)
	if err != nil {
		return fmt.Errorf("failed to stream chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetState reads a state value. Missing keys return an empty string.
func (s *SQLiteEntryStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM engine_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState writes a state value.
func (s *SQLiteEntryStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Close closes the database.
func (s *SQLiteEntryStore) Close() error {
	return s.db.Close()
}

// Row scanning helpers.

const selectEntryColumns = `SELECT index_id, entity_type, entity_id, entity_uri,
	content_summary, project_id, domain, tags, metadata, indexed_at, updated_at`

const selectChunkColumns = `SELECT vector_id, index_id, sequence_number, content,
	token_count, embedding_model, metadata, vector_collection, vector_point_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*IndexEntry, error) {
	var (
		entry                IndexEntry
		entityType           string
		tagsJSON, metaJSON   string
		indexedAt, updatedAt string
	)
	err := row.Scan(&entry.IndexID, &entityType, &entry.EntityID, &entry.EntityURI,
		&entry.ContentSummary, &entry.ProjectID, &entry.Domain, &tagsJSON, &metaJSON,
		&indexedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entry.EntityType = EntityType(entityType)
	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode entry tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &entry.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
	}
	if entry.IndexedAt, err = time.Parse(timeFormat, indexedAt); err != nil {
		return nil, fmt.Errorf("failed to parse indexed_at: %w", err)
	}
	if entry.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &entry, nil
}

func scanChunk(row rowScanner) (*ChunkRecord, error) {
	var (
		chunk    ChunkRecord
		metaJSON string
		pointID  sql.NullString
	)
	err := row.Scan(&chunk.VectorID, &chunk.IndexID, &chunk.SequenceNumber,
		&chunk.Content, &chunk.TokenCount, &chunk.EmbeddingModel, &metaJSON,
		&chunk.VectorCollection, &pointID)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metaJSON), &chunk.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
	}
	chunk.VectorPointID = pointID.String
	return &chunk, nil
}

func collectChunks(rows *sql.Rows) ([]*ChunkRecord, error) {
	var chunks []*ChunkRecord
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func encodeTagsMetadata(tags []string, metadata map[string]string) (string, string, error) {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode tags: %w", err)
	}
	metaJSON, err := json.Marshal(orEmptyMap(metadata))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(tagsJSON), string(metaJSON), nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
