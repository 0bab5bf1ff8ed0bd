package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/kbsync/internal/chunker"
	"github.com/dshills/kbsync/internal/content"
	"github.com/dshills/kbsync/internal/embedder"
	"github.com/dshills/kbsync/internal/filter"
	"github.com/dshills/kbsync/internal/indexer"
	"github.com/dshills/kbsync/internal/storage"
	"github.com/dshills/kbsync/internal/workerpool"
	"github.com/dshills/kbsync/pkg/types"
)

var (
	// ErrAlreadyRunning is returned by Run while another run holds the lock
	ErrAlreadyRunning = errors.New("indexing already in progress")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("coordinator closed")
)

// Coordinator indexes one knowledge source and reports progress.
//
// States: Idle -> Indexing -> Ready | Failed, and back to Indexing on the
// next run.
type Coordinator interface {
	Kind() types.SourceKind

	// StartIndexing starts a run in the background. It returns false if a
	// run is already in progress or the coordinator is closed.
	StartIndexing() bool

	// Run indexes synchronously
	Run(ctx context.Context) error

	// Progress returns the latest snapshot
	Progress() types.IndexProgress

	// Subscribe streams progress snapshots until the returned func is called
	Subscribe() (<-chan types.IndexProgress, func())

	// ClearAll removes everything this source indexed so the next run
	// starts from scratch
	ClearAll(ctx context.Context) error

	// Close cancels a running run, flushes what it safely can and releases
	// resources. It is idempotent.
	Close() error
}

// Deps are the collaborators shared by every coordinator of a project
type Deps struct {
	ProjectID     string
	Store         storage.Storage
	Embedder      embedder.Embedder
	Vectors       indexer.VectorStore  // nil uses Store
	Keywords      indexer.KeywordStore // nil uses Store
	Locks         *indexer.ProjectLocks
	Pool          *workerpool.Pool
	Chain         *filter.Chain
	Extractor     content.Extractor
	Fetcher       content.URLFetcher
	Chunker       *chunker.Chunker
	BatchSize     int
	ProgressEvery int
	Logger        *slog.Logger // scoped to the project; coordinators add the kind
}

func (d *Deps) validate() error {
	if d.ProjectID == "" {
		return errors.New("project id is required")
	}
	if d.Store == nil || d.Embedder == nil || d.Pool == nil || d.Chunker == nil {
		return errors.New("store, embedder, worker pool and chunker are required")
	}
	if d.Vectors == nil {
		d.Vectors = d.Store
	}
	if d.Keywords == nil {
		d.Keywords = d.Store
	}
	if d.Locks == nil {
		d.Locks = indexer.NewProjectLocks()
	}
	if d.Extractor == nil {
		d.Extractor = content.NewFileExtractor()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}

// New binds a coordinator to cfg. The set of source kinds is closed.
func New(cfg types.KnowledgeSourceConfig, deps Deps) (Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil source", types.ErrInvalidSource)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch src := cfg.(type) {
	case types.FolderSource:
		return NewFolderCoordinator(src, deps)
	case types.FileListSource:
		return NewFileListCoordinator(src, deps)
	case types.URLListSource:
		return NewURLCoordinator(src, deps)
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnknownSourceKind, cfg)
	}
}
