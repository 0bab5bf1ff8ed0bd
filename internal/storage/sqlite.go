package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/kbsync/pkg/types"
)

// maxParams bounds the number of bound parameters in one IN clause
const maxParams = 500

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; :memory: also needs one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath and
// applies migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction. While it is open the single connection
// is held, so callers must not use s from the same goroutine until Commit
// or Rollback.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertFileRecord(ctx context.Context, rec *types.IndexedFileRecord) error {
	return upsertFileRecord(ctx, t.tx, rec)
}

func (t *sqliteTx) DeleteFileRecord(ctx context.Context, projectID string, kind types.SourceKind, path string) error {
	return deleteFileRecord(ctx, t.tx, projectID, kind, path)
}

func (t *sqliteTx) SaveMappings(ctx context.Context, mappings []types.SegmentMapping) error {
	return saveMappings(ctx, t.tx, mappings)
}

func (t *sqliteTx) DeleteMappings(ctx context.Context, projectID string, kind types.SourceKind, path string) error {
	return deleteMappings(ctx, t.tx, projectID, kind, path)
}

func (t *sqliteTx) DeleteKind(ctx context.Context, projectID string, kind types.SourceKind) error {
	return deleteKind(ctx, t.tx, projectID, kind)
}

func (t *sqliteTx) MarkIndexed(ctx context.Context, projectID string, kind types.SourceKind, at time.Time) error {
	return markIndexed(ctx, t.tx, projectID, kind, at)
}

// File record operations

func upsertFileRecord(ctx context.Context, q querier, rec *types.IndexedFileRecord) error {
	query := `
		INSERT INTO indexed_files (project_id, kind, file_path, content_hash, mod_time, size_bytes, last_indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, kind, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			last_indexed_at = excluded.last_indexed_at
	`
	_, err := q.ExecContext(ctx, query,
		rec.ProjectID, string(rec.Kind), rec.Path, rec.ContentHash,
		rec.LastModified, rec.SizeBytes, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertFileRecord(ctx context.Context, rec *types.IndexedFileRecord) error {
	return upsertFileRecord(ctx, s.db, rec)
}

func deleteFileRecord(ctx context.Context, q querier, projectID string, kind types.SourceKind, path string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM indexed_files WHERE project_id = ? AND kind = ? AND file_path = ?`,
		projectID, string(kind), path)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteFileRecord(ctx context.Context, projectID string, kind types.SourceKind, path string) error {
	return deleteFileRecord(ctx, s.db, projectID, kind, path)
}

const selectFileRecord = `
	SELECT project_id, kind, file_path, content_hash, mod_time, size_bytes
	FROM indexed_files
`

func scanFileRecords(rows *sql.Rows) ([]*types.IndexedFileRecord, error) {
	defer func() { _ = rows.Close() }()

	records := make([]*types.IndexedFileRecord, 0)
	for rows.Next() {
		var rec types.IndexedFileRecord
		var kind string
		if err := rows.Scan(&rec.ProjectID, &kind, &rec.Path, &rec.ContentHash, &rec.LastModified, &rec.SizeBytes); err != nil {
			return nil, err
		}
		rec.Kind = types.SourceKind(kind)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStorage) ListFileRecords(ctx context.Context, projectID string, kind types.SourceKind) ([]*types.IndexedFileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectFileRecord+` WHERE project_id = ? AND kind = ? ORDER BY file_path`,
		projectID, string(kind))
	if err != nil {
		return nil, err
	}
	return scanFileRecords(rows)
}

// ListFileRecordsUnder returns the records of dir and everything below it
func (s *SQLiteStorage) ListFileRecordsUnder(ctx context.Context, projectID string, kind types.SourceKind, dir string) ([]*types.IndexedFileRecord, error) {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)
	rows, err := s.db.QueryContext(ctx,
		selectFileRecord+` WHERE project_id = ? AND kind = ? AND (file_path = ? OR substr(file_path, 1, length(?)) = ?) ORDER BY file_path`,
		projectID, string(kind), dir, prefix, prefix)
	if err != nil {
		return nil, err
	}
	return scanFileRecords(rows)
}

func (s *SQLiteStorage) GetFileRecord(ctx context.Context, projectID string, kind types.SourceKind, path string) (*types.IndexedFileRecord, error) {
	var rec types.IndexedFileRecord
	var k string
	err := s.db.QueryRowContext(ctx,
		selectFileRecord+` WHERE project_id = ? AND kind = ? AND file_path = ?`,
		projectID, string(kind), path).Scan(&rec.ProjectID, &k, &rec.Path, &rec.ContentHash, &rec.LastModified, &rec.SizeBytes)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Kind = types.SourceKind(k)
	return &rec, nil
}

// Segment mapping operations

func saveMappings(ctx context.Context, q querier, mappings []types.SegmentMapping) error {
	query := `
		INSERT INTO segment_mappings (segment_id, project_id, kind, file_path, chunk_index)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET
			file_path = excluded.file_path,
			chunk_index = excluded.chunk_index
	`
	for _, m := range mappings {
		if _, err := q.ExecContext(ctx, query, m.SegmentID, m.ProjectID, string(m.Kind), m.FilePath, m.ChunkIndex); err != nil {
			return fmt.Errorf("failed to save segment mapping: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) SaveMappings(ctx context.Context, mappings []types.SegmentMapping) error {
	return saveMappings(ctx, s.db, mappings)
}

func deleteMappings(ctx context.Context, q querier, projectID string, kind types.SourceKind, path string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM segment_mappings WHERE project_id = ? AND kind = ? AND file_path = ?`,
		projectID, string(kind), path)
	if err != nil {
		return fmt.Errorf("failed to delete segment mappings: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteMappings(ctx context.Context, projectID string, kind types.SourceKind, path string) error {
	return deleteMappings(ctx, s.db, projectID, kind, path)
}

func deleteKind(ctx context.Context, q querier, projectID string, kind types.SourceKind) error {
	for _, table := range []string{"segment_mappings", "indexed_files", "sources"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE project_id = ? AND kind = ?", projectID, string(kind)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) DeleteKind(ctx context.Context, projectID string, kind types.SourceKind) error {
	return deleteKind(ctx, s.db, projectID, kind)
}

func (s *SQLiteStorage) ListSegmentIDs(ctx context.Context, projectID string, kind types.SourceKind, path string) ([]string, error) {
	return s.listIDs(ctx,
		`SELECT segment_id FROM segment_mappings WHERE project_id = ? AND kind = ? AND file_path = ? ORDER BY chunk_index`,
		projectID, string(kind), path)
}

func (s *SQLiteStorage) ListKindSegmentIDs(ctx context.Context, projectID string, kind types.SourceKind) ([]string, error) {
	return s.listIDs(ctx,
		`SELECT segment_id FROM segment_mappings WHERE project_id = ? AND kind = ? ORDER BY file_path, chunk_index`,
		projectID, string(kind))
}

func (s *SQLiteStorage) listIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Source bookkeeping

func markIndexed(ctx context.Context, q querier, projectID string, kind types.SourceKind, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sources (project_id, kind, last_indexed_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id, kind) DO UPDATE SET last_indexed_at = excluded.last_indexed_at
	`, projectID, string(kind), at)
	if err != nil {
		return fmt.Errorf("failed to mark source indexed: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) MarkIndexed(ctx context.Context, projectID string, kind types.SourceKind, at time.Time) error {
	return markIndexed(ctx, s.db, projectID, kind, at)
}

// GetStats reports file and segment counts per source kind
func (s *SQLiteStorage) GetStats(ctx context.Context, projectID string) ([]KindStats, error) {
	stats := make(map[types.SourceKind]*KindStats)
	get := func(kind string) *KindStats {
		k := types.SourceKind(kind)
		if st, ok := stats[k]; ok {
			return st
		}
		st := &KindStats{Kind: k}
		stats[k] = st
		return st
	}

	count := func(query string, apply func(*KindStats, int)) error {
		rows, err := s.db.QueryContext(ctx, query, projectID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var kind string
			var n int
			if err := rows.Scan(&kind, &n); err != nil {
				return err
			}
			apply(get(kind), n)
		}
		return rows.Err()
	}

	if err := count(`SELECT kind, COUNT(*) FROM indexed_files WHERE project_id = ? GROUP BY kind`,
		func(st *KindStats, n int) { st.Files = n }); err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	if err := count(`SELECT kind, COUNT(*) FROM segment_mappings WHERE project_id = ? GROUP BY kind`,
		func(st *KindStats, n int) { st.Segments = n }); err != nil {
		return nil, fmt.Errorf("failed to count segments: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, last_indexed_at FROM sources WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind string
		var at sql.NullTime
		if err := rows.Scan(&kind, &at); err != nil {
			return nil, err
		}
		if at.Valid {
			get(kind).LastIndexedAt = at.Time
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]KindStats, 0, len(stats))
	for _, kind := range []types.SourceKind{types.SourceFolders, types.SourceFiles, types.SourceURLs} {
		if st, ok := stats[kind]; ok {
			out = append(out, *st)
		}
	}
	return out, nil
}

// Vector store operations

// AddVectors inserts or replaces vectors in one transaction
func (s *SQLiteStorage) AddVectors(ctx context.Context, vectors []VectorRecord) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO vectors (id, vector, dimension, content, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			content = excluded.content,
			metadata = excluded.metadata
	`
	for _, v := range vectors {
		meta, err := json.Marshal(v.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, v.ID, serializeVector(v.Vector), len(v.Vector), v.Content, string(meta)); err != nil {
			return fmt.Errorf("failed to add vector: %w", err)
		}
	}
	return tx.Commit()
}

// RemoveVectors deletes vectors; unknown ids are ignored
func (s *SQLiteStorage) RemoveVectors(ctx context.Context, ids []string) error {
	return s.deleteIn(ctx, "DELETE FROM vectors WHERE id IN (%s)", ids)
}

// GetVector returns one stored vector
func (s *SQLiteStorage) GetVector(ctx context.Context, id string) (*VectorRecord, error) {
	var blob []byte
	var meta sql.NullString
	rec := &VectorRecord{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT vector, content, metadata FROM vectors WHERE id = ?`, id).
		Scan(&blob, &rec.Content, &meta)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Vector = deserializeVector(blob)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

// Keyword store operations

// IndexSegments replaces the full-text entries of the given segments
func (s *SQLiteStorage) IndexSegments(ctx context.Context, segments []KeywordSegment) error {
	if len(segments) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, seg := range segments {
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments_fts WHERE segment_id = ?`, seg.ID); err != nil {
			return fmt.Errorf("failed to replace segment: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO segments_fts (segment_id, content, file_name, path) VALUES (?, ?, ?, ?)`,
			seg.ID, seg.Content, seg.FileName, seg.Path); err != nil {
			return fmt.Errorf("failed to index segment: %w", err)
		}
	}
	return tx.Commit()
}

// RemoveSegments deletes full-text entries; unknown ids are ignored
func (s *SQLiteStorage) RemoveSegments(ctx context.Context, ids []string) error {
	return s.deleteIn(ctx, "DELETE FROM segments_fts WHERE segment_id IN (%s)", ids)
}

// ClearSegments empties the keyword store
func (s *SQLiteStorage) ClearSegments(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM segments_fts`)
	return err
}

// MatchSegments returns the ids of segments containing the phrase query
func (s *SQLiteStorage) MatchSegments(ctx context.Context, query string, limit int) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	return s.listIDs(ctx,
		`SELECT segment_id FROM segments_fts WHERE segments_fts MATCH ? ORDER BY rank LIMIT ?`,
		phrase, limit)
}

// deleteIn runs a DELETE ... IN (...) in bounded parameter groups
func (s *SQLiteStorage) deleteIn(ctx context.Context, query string, ids []string) error {
	for start := 0; start < len(ids); start += maxParams {
		end := start + maxParams
		if end > len(ids) {
			end = len(ids)
		}
		group := ids[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(group)), ",")
		args := make([]interface{}, len(group))
		for i, id := range group {
			args[i] = id
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(query, placeholders), args...); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
	}
	return nil
}
