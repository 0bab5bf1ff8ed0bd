package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/kbsync/internal/chunker"
	"github.com/dshills/kbsync/internal/content"
	"github.com/dshills/kbsync/internal/indexer"
	"github.com/dshills/kbsync/internal/state"
	"github.com/dshills/kbsync/internal/workerpool"
	"github.com/dshills/kbsync/pkg/types"
)

// closeFlushTimeout bounds the flush performed by Close
const closeFlushTimeout = 30 * time.Second

// candidate is one enumerated resource
type candidate struct {
	path    string
	size    int64
	modTime int64
}

// source is what differs between knowledge source kinds
type source interface {
	// enumerate streams candidates that passed the filter chain
	enumerate(ctx context.Context, emit func(candidate) error) error

	// hash returns the content digest of c; ok is false when c vanished
	hash(ctx context.Context, c candidate) (digest string, ok bool, err error)

	// extract returns the text of path, nil when unsupported
	extract(ctx context.Context, path string) (*content.Document, error)
}

// extracted is the unit sent from the extraction workers to the flusher
type extracted struct {
	path   string
	record *types.IndexedFileRecord
	chunks []types.Chunk
	gone   bool
}

// runner implements the lifecycle and pipeline shared by every kind
type runner struct {
	kind       types.SourceKind
	src        source
	state      *state.Store
	indexer    *indexer.BatchIndexer
	pool       *workerpool.Pool
	chunker    *chunker.Chunker
	tokenLimit int
	queueSize  int
	logger     *slog.Logger
	tracker    *tracker

	lock    indexer.IndexLock
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex // guards closing transitions and wg.Add
	wg      sync.WaitGroup
	closing atomic.Bool
}

// newRunner fills the defaults of deps in place, so callers read the
// validated collaborators from it afterwards.
func newRunner(kind types.SourceKind, deps *Deps) (*runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger.With(slog.String("kind", string(kind)))

	bi, err := indexer.NewBatchIndexer(indexer.Options{
		ProjectID: deps.ProjectID,
		Kind:      kind,
		Embedder:  deps.Embedder,
		Vectors:   deps.Vectors,
		Keywords:  deps.Keywords,
		Mappings:  deps.Store,
		Locks:     deps.Locks,
		BatchSize: deps.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &runner{
		kind:       kind,
		state:      state.New(deps.Store, deps.ProjectID, kind, logger),
		indexer:    bi,
		pool:       deps.Pool,
		chunker:    deps.Chunker,
		tokenLimit: deps.Embedder.TokenLimit(),
		queueSize:  deps.Pool.Cap() * 2,
		logger:     logger,
		tracker:    newTracker(kind, deps.ProgressEvery),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (r *runner) Kind() types.SourceKind { return r.kind }

func (r *runner) Progress() types.IndexProgress { return r.tracker.snapshot() }

func (r *runner) Subscribe() (<-chan types.IndexProgress, func()) {
	return r.tracker.out.subscribe()
}

// EmbeddedTexts reports how many texts this coordinator sent to the embedder
func (r *runner) EmbeddedTexts() int64 { return r.indexer.EmbeddedTexts() }

func (r *runner) StartIndexing() bool {
	if !r.enter() {
		return false
	}
	if !r.lock.TryAcquire() {
		r.wg.Done()
		return false
	}
	go func() {
		defer r.wg.Done()
		defer r.lock.Release()
		if err := r.execute(r.ctx); err != nil {
			r.logger.Error("indexing failed", slog.Any("error", err))
		}
	}()
	return true
}

func (r *runner) Run(ctx context.Context) error {
	if !r.enter() {
		return ErrClosed
	}
	defer r.wg.Done()
	if !r.lock.TryAcquire() {
		return ErrAlreadyRunning
	}
	defer r.lock.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	return r.execute(ctx)
}

// enter registers an operation that Close must wait for
func (r *runner) enter() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing.Load() {
		return false
	}
	r.wg.Add(1)
	return true
}

func (r *runner) ClearAll(ctx context.Context) error {
	if err := r.indexer.ClearKind(ctx); err != nil {
		return fmt.Errorf("clear %s: %w", r.kind, err)
	}
	if !r.lock.Held() {
		r.tracker.reset()
	}
	return nil
}

func (r *runner) Close() error {
	r.mu.Lock()
	if r.closing.Load() {
		r.mu.Unlock()
		return nil
	}
	r.closing.Store(true)
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.tracker.out.close()
	return nil
}

// execute runs one full pass. Must be called with r.lock held.
func (r *runner) execute(ctx context.Context) (err error) {
	start := time.Now()
	baseSegments := r.indexer.SegmentsWritten()
	r.tracker.begin()
	r.logger.Info("indexing started")

	defer func() {
		segments := int(r.indexer.SegmentsWritten() - baseSegments)
		if err == nil {
			r.tracker.finish(segments)
			p := r.tracker.snapshot()
			r.logger.Info("indexing complete",
				slog.Int("files", p.TotalFiles),
				slog.Int("skipped", p.SkippedFiles),
				slog.Int("removed", p.RemovedFiles),
				slog.Int("segments", segments),
				slog.Duration("duration", time.Since(start)))
			return
		}
		if r.closing.Load() {
			// Buffered chunks always belong to whole files, so they are
			// safe to commit on the way out.
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeFlushTimeout)
			if ferr := r.indexer.FlushRemaining(fctx); ferr != nil {
				r.logger.Warn("flush on close failed", slog.Any("error", ferr))
			}
			cancel()
			segments = int(r.indexer.SegmentsWritten() - baseSegments)
		} else {
			r.indexer.Discard()
		}
		r.tracker.fail(err, segments)
	}()

	prev, err := r.state.LoadPreviousState(ctx)
	if err != nil {
		return err
	}

	current, meta, err := r.scan(ctx)
	if err != nil {
		return err
	}

	changes := state.DetectChanges(prev, current)
	r.tracker.setTotal(len(current))
	r.tracker.processed(len(current) - len(changes.ToAdd) - len(changes.ToUpdate))
	r.logger.Debug("changes detected",
		slog.Int("add", len(changes.ToAdd)),
		slog.Int("update", len(changes.ToUpdate)),
		slog.Int("remove", len(changes.ToRemove)))

	for _, path := range changes.ToRemove {
		if _, err := r.indexer.RemoveFile(ctx, path); err != nil {
			return err
		}
		r.tracker.removed()
	}

	work := make([]string, 0, len(changes.ToAdd)+len(changes.ToUpdate))
	work = append(work, changes.ToAdd...)
	work = append(work, changes.ToUpdate...)
	if err := r.ingest(ctx, work, current, meta); err != nil {
		return err
	}

	if err := r.indexer.FlushRemaining(ctx); err != nil {
		return err
	}
	return r.indexer.MarkIndexed(ctx)
}

// scan enumerates and hashes every candidate on the worker pool
func (r *runner) scan(ctx context.Context) (map[string]string, map[string]candidate, error) {
	var mu sync.Mutex
	current := make(map[string]string)
	meta := make(map[string]candidate)

	group := r.pool.NewGroup(ctx)
	err := r.src.enumerate(group.Context(), func(c candidate) error {
		group.Go(func(ctx context.Context) error {
			digest, ok, err := r.src.hash(ctx, c)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			mu.Lock()
			current[c.path] = digest
			meta[c.path] = c
			mu.Unlock()
			return nil
		})
		return group.Context().Err()
	})
	if werr := group.Wait(); werr != nil {
		return nil, nil, werr
	}
	if err != nil {
		return nil, nil, err
	}
	return current, meta, nil
}

// ingest extracts and chunks paths on the pool and feeds a single flusher
// through a bounded channel. Each path's old segments are replaced by its
// new ones in one indexer call.
func (r *runner) ingest(ctx context.Context, paths []string, current map[string]string, meta map[string]candidate) error {
	if len(paths) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan extracted, r.queueSize)

	g.Go(func() error {
		defer close(results)
		group := r.pool.NewGroup(gctx)
		for _, path := range paths {
			if group.Context().Err() != nil {
				break
			}
			c := meta[path]
			digest := current[path]
			group.Go(func(ctx context.Context) error {
				item, err := r.prepare(ctx, c, digest)
				if err != nil {
					return err
				}
				select {
				case results <- item:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}
		return group.Wait()
	})

	g.Go(func() error {
		for item := range results {
			if err := r.apply(gctx, item); err != nil {
				return err
			}
			switch {
			case item.gone:
				r.tracker.removed()
			case len(item.chunks) == 0:
				r.tracker.skipped()
			}
			r.tracker.processed(1)
		}
		return nil
	})

	return g.Wait()
}

// apply swaps the indexed segments of one resource for its new chunks, or
// drops them when the resource vanished
func (r *runner) apply(ctx context.Context, item extracted) error {
	if item.gone {
		_, err := r.indexer.RemoveFile(ctx, item.path)
		return err
	}
	_, err := r.indexer.ReplaceFile(ctx, item.record, item.chunks)
	return err
}

// prepare extracts and chunks one resource
func (r *runner) prepare(ctx context.Context, c candidate, digest string) (extracted, error) {
	item := extracted{
		path: c.path,
		record: &types.IndexedFileRecord{
			Path:         c.path,
			ContentHash:  digest,
			LastModified: c.modTime,
			SizeBytes:    c.size,
		},
	}

	doc, err := r.src.extract(ctx, c.path)
	if errors.Is(err, fs.ErrNotExist) {
		item.gone = true
		return item, nil
	}
	if err != nil {
		return item, err
	}
	if doc == nil {
		r.logger.Debug("unsupported content skipped", slog.String("path", c.path))
		return item, nil
	}

	item.chunks = r.chunker.Chunk(doc.Text, chunker.Source{Path: c.path, TrackLines: doc.TrackLines}, r.tokenLimit)
	return item, nil
}
