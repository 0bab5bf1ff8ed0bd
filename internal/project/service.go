package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/dshills/kbsync/internal/backend"
	"github.com/dshills/kbsync/internal/chunker"
	"github.com/dshills/kbsync/internal/config"
	"github.com/dshills/kbsync/internal/content"
	"github.com/dshills/kbsync/internal/coordinator"
	"github.com/dshills/kbsync/internal/ecosystem"
	"github.com/dshills/kbsync/internal/embedder"
	"github.com/dshills/kbsync/internal/filter"
	"github.com/dshills/kbsync/internal/ignore"
	"github.com/dshills/kbsync/internal/indexer"
	"github.com/dshills/kbsync/internal/storage"
	"github.com/dshills/kbsync/internal/watcher"
	"github.com/dshills/kbsync/internal/workerpool"
	"github.com/dshills/kbsync/pkg/types"
)

var (
	// ErrClosed is returned after Close
	ErrClosed = errors.New("project closed")

	// ErrNotConfigured is returned for a source kind that has no source bound
	ErrNotConfigured = errors.New("source kind not configured")
)

// detectorCacheSize bounds the ecosystem tag cache
const detectorCacheSize = 4096

// Service is the facade over everything one project owns: its database,
// the vector and keyword stores, one coordinator per source kind and the
// file watcher.
type Service struct {
	id     string
	cfg    *config.Config
	logger *slog.Logger

	store    *storage.SQLiteStorage
	vectors  indexer.VectorStore
	keywords indexer.KeywordStore
	closers  []func() error

	embedder embedder.Embedder
	pool     *workerpool.Pool
	locks    *indexer.ProjectLocks
	resolver *ignore.Resolver
	detector *ecosystem.Detector
	chain    *filter.Chain
	fetcher  *content.HTTPFetcher
	chunker  *chunker.Chunker

	watchers  *watcher.Manager
	watchOpts watcher.Options

	mu      sync.Mutex
	closed  bool
	coords  map[types.SourceKind]coordinator.Coordinator
	sources map[types.SourceKind]types.KnowledgeSourceConfig
}

// Option customizes Open
type Option func(*Service)

// WithEmbedder uses emb instead of the provider named in the config
func WithEmbedder(emb embedder.Embedder) Option {
	return func(s *Service) { s.embedder = emb }
}

// WithWatchers shares m with other projects so that one watcher is active
// process-wide. Each project gets its own manager otherwise.
func WithWatchers(m *watcher.Manager) Option {
	return func(s *Service) { s.watchers = m }
}

// WithLogger sets the logger, slog.Default() otherwise
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Open opens (creating if needed) the database of projectID and wires the
// indexing stack described by cfg.
func Open(cfg *config.Config, projectID string, opts ...Option) (svc *Service, err error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is empty", config.ErrInvalidConfig)
	}
	s := &Service{
		id:      projectID,
		cfg:     cfg,
		logger:  slog.Default(),
		coords:  make(map[types.SourceKind]coordinator.Coordinator),
		sources: make(map[types.SourceKind]types.KnowledgeSourceConfig),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("project", projectID))

	defer func() {
		if err != nil {
			_ = s.release()
		}
	}()

	dbPath := cfg.ProjectDBPath(projectID)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s.store, err = storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open project database: %w", err)
	}
	s.closers = append(s.closers, s.store.Close)

	if err := s.openBackends(); err != nil {
		return nil, err
	}

	if s.embedder == nil {
		s.embedder, err = embedder.New(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		s.closers = append(s.closers, s.embedder.Close)
	}

	s.pool, err = workerpool.New(cfg.Indexing.Workers)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error { s.pool.Release(); return nil })

	s.locks = indexer.NewProjectLocks()
	s.resolver = ignore.NewResolver(ignore.Options{
		FileNames: cfg.Indexing.IgnoreFileNames,
		UseGlobal: cfg.Indexing.UseGlobalIgnore,
		Logger:    s.logger,
	})
	s.detector = ecosystem.NewDetector(detectorCacheSize, s.logger)
	s.chain, err = filter.Default(cfg, s.resolver, s.detector, s.logger)
	if err != nil {
		return nil, err
	}
	s.fetcher = content.NewHTTPFetcher(cfg.Indexing.FetchTimeout, cfg.Indexing.MaxFileSizeBytes)
	s.closers = append(s.closers, func() error { s.fetcher.Close(); return nil })
	s.chunker = chunker.New(chunker.Sizing{
		MinChunkSize:  cfg.Chunking.MinChunkSize,
		MaxChunkSize:  cfg.Chunking.MaxChunkSize,
		CharsPerToken: cfg.Chunking.CharsPerToken,
	})
	if s.watchers == nil {
		s.watchers = watcher.NewManager(s.logger)
	}
	s.watchOpts = watcher.Options{
		Debounce: cfg.Watcher.Debounce,
		Pool:     s.pool,
		Resolver: s.resolver,
		Detector: s.detector,
		Logger:   s.logger,
	}

	s.logger.Info("project opened",
		slog.String("db", dbPath),
		slog.String("embedder", s.embedder.Provider()),
		slog.String("model", s.embedder.Model()),
		slog.String("vectors", cfg.Backend.Vector),
		slog.String("keywords", cfg.Backend.Keyword))
	return s, nil
}

func (s *Service) openBackends() error {
	s.vectors = s.store
	s.keywords = s.store

	if s.cfg.Backend.Vector == config.BackendQdrant {
		q, err := backend.NewQdrantVectorStore(s.cfg.Backend.Qdrant, s.logger)
		if err != nil {
			return err
		}
		s.vectors = q
		s.closers = append(s.closers, q.Close)
	}
	if s.cfg.Backend.Keyword == config.BackendElastic {
		e, err := backend.NewElasticKeywordStore(s.cfg.Backend.Elasticsearch, s.id, s.logger)
		if err != nil {
			return err
		}
		s.keywords = e
	}
	return nil
}

// ID returns the project identifier
func (s *Service) ID() string { return s.id }

// Configure binds src to the coordinator of its kind. A different source of
// the same kind replaces the previous coordinator.
func (s *Service) Configure(src types.KnowledgeSourceConfig) (coordinator.Coordinator, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", types.ErrInvalidSource)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	kind := src.Kind()
	if c, ok := s.coords[kind]; ok {
		if reflect.DeepEqual(s.sources[kind], src) {
			return c, nil
		}
		if folder, ok := c.(*coordinator.FolderCoordinator); ok {
			if err := s.watchers.Release(folder); err != nil {
				s.logger.Warn("stopping watcher", slog.Any("error", err))
			}
		}
		if err := c.Close(); err != nil {
			s.logger.Warn("closing replaced coordinator", slog.String("kind", string(kind)), slog.Any("error", err))
		}
		delete(s.coords, kind)
	}

	c, err := coordinator.New(src, s.deps())
	if err != nil {
		return nil, err
	}
	s.coords[kind] = c
	s.sources[kind] = src
	return c, nil
}

func (s *Service) deps() coordinator.Deps {
	return coordinator.Deps{
		ProjectID:     s.id,
		Store:         s.store,
		Embedder:      s.embedder,
		Vectors:       s.vectors,
		Keywords:      s.keywords,
		Locks:         s.locks,
		Pool:          s.pool,
		Chain:         s.chain,
		Extractor:     content.NewFileExtractor(),
		Fetcher:       s.fetcher,
		Chunker:       s.chunker,
		BatchSize:     s.cfg.Indexing.BatchSize,
		ProgressEvery: s.cfg.Indexing.ProgressEvery,
		Logger:        s.logger,
	}
}

// StartIndexing binds src and starts a background run. It reports false when
// a run of that kind is already in progress.
func (s *Service) StartIndexing(src types.KnowledgeSourceConfig) (bool, error) {
	c, err := s.Configure(src)
	if err != nil {
		return false, err
	}
	return c.StartIndexing(), nil
}

// Run binds src and indexes it synchronously
func (s *Service) Run(ctx context.Context, src types.KnowledgeSourceConfig) (types.IndexProgress, error) {
	c, err := s.Configure(src)
	if err != nil {
		return types.IndexProgress{}, err
	}
	err = c.Run(ctx)
	return c.Progress(), err
}

// StartWatching keeps the folder source rooted at root current. Any previous
// watcher of this project is stopped first.
func (s *Service) StartWatching(ctx context.Context, root string) error {
	c, err := s.Configure(types.FolderSource{Root: root})
	if err != nil {
		return err
	}
	folder, ok := c.(*coordinator.FolderCoordinator)
	if !ok {
		return fmt.Errorf("%w: %T cannot be watched", types.ErrInvalidSource, c)
	}
	return s.watchers.StartWatching(ctx, folder, s.watchOpts)
}

// StopWatching stops this project's watcher, if it is the active one
func (s *Service) StopWatching() error {
	folder := s.folder()
	if folder == nil {
		return nil
	}
	return s.watchers.Release(folder)
}

// Watching returns the root watched for this project, "" when none is
func (s *Service) Watching() string {
	folder := s.folder()
	if folder == nil || !s.watchers.Serving(folder) {
		return ""
	}
	return folder.Root()
}

func (s *Service) folder() *coordinator.FolderCoordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, _ := s.coords[types.SourceFolders].(*coordinator.FolderCoordinator)
	return folder
}

// ClearAll removes everything indexed for kind, or for every kind when kind
// is empty. Clearing every kind also sweeps the keyword store of segments
// orphaned by an interrupted run.
func (s *Service) ClearAll(ctx context.Context, kind types.SourceKind) error {
	kinds := []types.SourceKind{kind}
	if kind == "" {
		kinds = []types.SourceKind{types.SourceFolders, types.SourceFiles, types.SourceURLs}
	}

	for _, k := range kinds {
		if err := s.clearKind(ctx, k); err != nil {
			return err
		}
	}
	if kind == "" {
		if err := s.keywords.ClearSegments(ctx); err != nil {
			return fmt.Errorf("clear keyword store: %w", err)
		}
	}
	return nil
}

func (s *Service) clearKind(ctx context.Context, kind types.SourceKind) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	c, ok := s.coords[kind]
	s.mu.Unlock()
	if ok {
		return c.ClearAll(ctx)
	}

	// No source bound in this process; clear the persisted state directly
	bi, err := indexer.NewBatchIndexer(indexer.Options{
		ProjectID: s.id,
		Kind:      kind,
		Embedder:  s.embedder,
		Vectors:   s.vectors,
		Keywords:  s.keywords,
		Mappings:  s.store,
		Locks:     s.locks,
		Logger:    s.logger.With(slog.String("kind", string(kind))),
	})
	if err != nil {
		return err
	}
	return bi.ClearKind(ctx)
}

// Subscribe streams the progress of kind
func (s *Service) Subscribe(kind types.SourceKind) (<-chan types.IndexProgress, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coords[kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotConfigured, kind)
	}
	ch, cancel := c.Subscribe()
	return ch, cancel, nil
}

// Progress returns the latest snapshot of every bound coordinator, ordered
// by kind
func (s *Service) Progress() []types.IndexProgress {
	s.mu.Lock()
	out := make([]types.IndexProgress, 0, len(s.coords))
	for _, c := range s.coords {
		out = append(out, c.Progress())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Status reports persisted per-kind statistics
func (s *Service) Status(ctx context.Context) ([]storage.KindStats, error) {
	return s.store.GetStats(ctx, s.id)
}

// Close stops the watcher, closes every coordinator (flushing what they
// safely can) and releases the stores. It is idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	coords := s.coords
	s.coords = make(map[types.SourceKind]coordinator.Coordinator)
	s.mu.Unlock()

	var errs []error
	if folder, ok := coords[types.SourceFolders].(*coordinator.FolderCoordinator); ok {
		if err := s.watchers.Release(folder); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range coords {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.release(); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("project closed")
	return errors.Join(errs...)
}

// release closes owned resources in reverse order of acquisition
func (s *Service) release() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
