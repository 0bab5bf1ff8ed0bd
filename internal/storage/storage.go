package storage

import (
	"context"
	"time"

	"github.com/dshills/kbsync/pkg/types"
)

// StateWriter persists incremental state and segment mappings
type StateWriter interface {
	UpsertFileRecord(ctx context.Context, rec *types.IndexedFileRecord) error
	DeleteFileRecord(ctx context.Context, projectID string, kind types.SourceKind, path string) error
	SaveMappings(ctx context.Context, mappings []types.SegmentMapping) error
	DeleteMappings(ctx context.Context, projectID string, kind types.SourceKind, path string) error
	DeleteKind(ctx context.Context, projectID string, kind types.SourceKind) error
	MarkIndexed(ctx context.Context, projectID string, kind types.SourceKind, at time.Time) error
}

// StateReader reads incremental state and segment mappings
type StateReader interface {
	ListFileRecords(ctx context.Context, projectID string, kind types.SourceKind) ([]*types.IndexedFileRecord, error)
	ListFileRecordsUnder(ctx context.Context, projectID string, kind types.SourceKind, dir string) ([]*types.IndexedFileRecord, error)
	GetFileRecord(ctx context.Context, projectID string, kind types.SourceKind, path string) (*types.IndexedFileRecord, error)
	ListSegmentIDs(ctx context.Context, projectID string, kind types.SourceKind, path string) ([]string, error)
	ListKindSegmentIDs(ctx context.Context, projectID string, kind types.SourceKind) ([]string, error)
	GetStats(ctx context.Context, projectID string) ([]KindStats, error)
}

// Storage is the per-project database. Besides state it provides the
// SQLite vector store and FTS5 keyword store.
type Storage interface {
	StateReader
	StateWriter

	// Vector store
	AddVectors(ctx context.Context, vectors []VectorRecord) error
	RemoveVectors(ctx context.Context, ids []string) error
	GetVector(ctx context.Context, id string) (*VectorRecord, error)

	// Keyword store
	IndexSegments(ctx context.Context, segments []KeywordSegment) error
	RemoveSegments(ctx context.Context, ids []string) error
	ClearSegments(ctx context.Context) error
	MatchSegments(ctx context.Context, query string, limit int) ([]string, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx groups state writes so a file's mappings and record commit together
type Tx interface {
	Commit() error
	Rollback() error
	StateWriter
}

// VectorRecord is one embedded segment
type VectorRecord struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]string
}

// KeywordSegment is one full-text indexed segment
type KeywordSegment struct {
	ID       string
	Content  string
	FileName string
	Path     string
}

// KindStats summarizes one source kind of a project
type KindStats struct {
	Kind          types.SourceKind `json:"kind"`
	Files         int              `json:"files"`
	Segments      int              `json:"segments"`
	LastIndexedAt time.Time        `json:"last_indexed_at"`
}
