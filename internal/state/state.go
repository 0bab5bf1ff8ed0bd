package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/dshills/kbsync/internal/storage"
	"github.com/dshills/kbsync/pkg/types"
)

// Backend is the persistence the store needs
type Backend interface {
	storage.StateReader
	storage.StateWriter
	BeginTx(ctx context.Context) (storage.Tx, error)
}

// Store tracks which content of one (project, source kind) pair is already
// committed to both indexes.
type Store struct {
	backend   Backend
	projectID string
	kind      types.SourceKind
	logger    *slog.Logger
}

// New creates a store scoped to projectID and kind
func New(backend Backend, projectID string, kind types.SourceKind, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:   backend,
		projectID: projectID,
		kind:      kind,
		logger:    logger,
	}
}

// ProjectID returns the project the store is scoped to
func (s *Store) ProjectID() string { return s.projectID }

// Kind returns the source kind the store is scoped to
func (s *Store) Kind() types.SourceKind { return s.kind }

// LoadPreviousState returns path -> content hash for every committed file.
// State that cannot be read is treated as empty so the next run re-indexes
// everything; only cancellation is returned as an error.
func (s *Store) LoadPreviousState(ctx context.Context) (map[string]string, error) {
	records, err := s.backend.ListFileRecords(ctx, s.projectID, s.kind)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("previous index state unreadable, starting from scratch", slog.Any("error", err))
		return map[string]string{}, nil
	}
	prev := make(map[string]string, len(records))
	for _, rec := range records {
		prev[rec.Path] = rec.ContentHash
	}
	return prev, nil
}

// Record returns the committed record for path, or nil when there is none
func (s *Store) Record(ctx context.Context, path string) (*types.IndexedFileRecord, error) {
	rec, err := s.backend.GetFileRecord(ctx, s.projectID, s.kind, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// PathsUnder lists committed paths at or below dir
func (s *Store) PathsUnder(ctx context.Context, dir string) ([]string, error) {
	records, err := s.backend.ListFileRecordsUnder(ctx, s.projectID, s.kind, dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(records))
	for i, rec := range records {
		paths[i] = rec.Path
	}
	sort.Strings(paths)
	return paths, nil
}

// SaveState upserts records in a single transaction
func (s *Store) SaveState(ctx context.Context, records []*types.IndexedFileRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.backend.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rec := range records {
		rec.ProjectID = s.projectID
		rec.Kind = s.kind
		if err = tx.UpsertFileRecord(ctx, rec); err != nil {
			return fmt.Errorf("save record %s: %w", rec.Path, err)
		}
	}
	return tx.Commit()
}

// Forget drops the record for path. Its segment mappings are left to the
// indexer, which removes them together with the stored segments.
func (s *Store) Forget(ctx context.Context, path string) error {
	return s.backend.DeleteFileRecord(ctx, s.projectID, s.kind, path)
}

// Clear drops every record and mapping of the store's kind
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.DeleteKind(ctx, s.projectID, s.kind)
}

// Changes is the difference between committed and current content
type Changes struct {
	ToAdd    []string
	ToUpdate []string
	ToRemove []string
}

// Empty reports whether nothing changed
func (c Changes) Empty() bool {
	return len(c.ToAdd) == 0 && len(c.ToUpdate) == 0 && len(c.ToRemove) == 0
}

// DetectChanges compares path -> hash maps. Paths only in current are added,
// paths in both with different hashes are updated, and paths only in prev
// are removed. Each list is sorted.
func DetectChanges(prev, current map[string]string) Changes {
	var c Changes
	for path, hash := range current {
		old, ok := prev[path]
		switch {
		case !ok:
			c.ToAdd = append(c.ToAdd, path)
		case old != hash:
			c.ToUpdate = append(c.ToUpdate, path)
		}
	}
	for path := range prev {
		if _, ok := current[path]; !ok {
			c.ToRemove = append(c.ToRemove, path)
		}
	}
	sort.Strings(c.ToAdd)
	sort.Strings(c.ToUpdate)
	sort.Strings(c.ToRemove)
	return c
}

// HashBytes returns the hex SHA-256 of data
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile streams path through SHA-256
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
