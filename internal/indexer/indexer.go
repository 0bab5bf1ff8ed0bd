package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/kbsync/internal/embedder"
	"github.com/dshills/kbsync/internal/storage"
	"github.com/dshills/kbsync/pkg/types"
)

var (
	// ErrBatchFailed wraps any failure while committing a batch. Nothing
	// in the failed batch is marked committed, so a retry re-embeds it.
	ErrBatchFailed = errors.New("batch commit failed")

	// ErrInvalidChunk is returned for chunks that fail validation
	ErrInvalidChunk = errors.New("invalid chunk")
)

// DefaultBatchSize is the number of chunks embedded per flush
const DefaultBatchSize = 32

// compensateTimeout bounds the cleanup after a failed batch
const compensateTimeout = 30 * time.Second

// VectorStore receives embeddings
type VectorStore interface {
	AddVectors(ctx context.Context, vectors []storage.VectorRecord) error
	RemoveVectors(ctx context.Context, ids []string) error
}

// KeywordStore receives the raw segment text
type KeywordStore interface {
	IndexSegments(ctx context.Context, segments []storage.KeywordSegment) error
	RemoveSegments(ctx context.Context, ids []string) error
	ClearSegments(ctx context.Context) error
}

// MappingStore persists segment mappings and file records
type MappingStore interface {
	storage.StateReader
	BeginTx(ctx context.Context) (storage.Tx, error)
}

// Options configures a BatchIndexer
type Options struct {
	ProjectID string
	Kind      types.SourceKind
	Embedder  embedder.Embedder
	Vectors   VectorStore
	Keywords  KeywordStore
	Mappings  MappingStore
	Locks     *ProjectLocks // nil uses a private registry
	BatchSize int
	Logger    *slog.Logger // expected to carry the project and kind attributes
}

// pendingFile tracks a file whose record is committed with its last chunk
type pendingFile struct {
	record   *types.IndexedFileRecord
	expected int
	flushed  int
}

// BatchIndexer embeds chunks in batches and writes them to the vector
// store, the keyword store and the segment mapping table as one unit.
// Methods are safe for concurrent use; calls are serialized.
type BatchIndexer struct {
	projectID string
	kind      types.SourceKind
	embedder  embedder.Embedder
	vectors   VectorStore
	keywords  KeywordStore
	mappings  MappingStore
	writeLock *sync.Mutex
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	pending []types.Chunk
	files   map[string]*pendingFile

	segments atomic.Int64
	embedded atomic.Int64
}

// NewBatchIndexer creates a BatchIndexer
func NewBatchIndexer(opts Options) (*BatchIndexer, error) {
	if opts.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	if opts.Embedder == nil || opts.Vectors == nil || opts.Keywords == nil || opts.Mappings == nil {
		return nil, errors.New("embedder, vector store, keyword store and mapping store are required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Locks == nil {
		opts.Locks = NewProjectLocks()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &BatchIndexer{
		projectID: opts.ProjectID,
		kind:      opts.Kind,
		embedder:  opts.Embedder,
		vectors:   opts.Vectors,
		keywords:  opts.Keywords,
		mappings:  opts.Mappings,
		writeLock: opts.Locks.For(opts.ProjectID),
		batchSize: opts.BatchSize,
		logger:    logger,
		files:     make(map[string]*pendingFile),
	}, nil
}

// SegmentsWritten returns the number of segments committed by this indexer
func (b *BatchIndexer) SegmentsWritten() int64 { return b.segments.Load() }

// EmbeddedTexts returns the number of texts sent to the embedder
func (b *BatchIndexer) EmbeddedTexts() int64 { return b.embedded.Load() }

// Pending returns the number of buffered chunks
func (b *BatchIndexer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// AddToBatch buffers one chunk and flushes once the batch is full. Chunks
// added this way get mappings but no file record; use AddFile to track a
// file's content hash.
func (b *BatchIndexer) AddToBatch(ctx context.Context, chunk types.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChunk, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.add(ctx, chunk)
}

// AddFile buffers every chunk of one file. Its record is committed in the
// same transaction as the mappings of its last chunk. A file without chunks
// has its record committed immediately so it is not retried every run.
func (b *BatchIndexer) AddFile(ctx context.Context, rec *types.IndexedFileRecord, chunks []types.Chunk) error {
	if err := validateChunks(rec.Path, chunks); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addFile(ctx, rec, chunks)
}

// ReplaceFile removes every committed and buffered segment of rec.Path and
// buffers chunks in their place. Both steps run under one lock, so writers
// sharing the indexer never leave two copies of a file behind.
func (b *BatchIndexer) ReplaceFile(ctx context.Context, rec *types.IndexedFileRecord, chunks []types.Chunk) (int, error) {
	if err := validateChunks(rec.Path, chunks); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	removed, err := b.removeFile(ctx, rec.Path)
	if err != nil {
		return 0, err
	}
	return removed, b.addFile(ctx, rec, chunks)
}

func validateChunks(path string, chunks []types.Chunk) error {
	for i := range chunks {
		if err := chunks[i].Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidChunk, path, err)
		}
	}
	return nil
}

// addFile must be called with b.mu held
func (b *BatchIndexer) addFile(ctx context.Context, rec *types.IndexedFileRecord, chunks []types.Chunk) error {
	rec.ProjectID = b.projectID
	rec.Kind = b.kind

	if _, ok := b.files[rec.Path]; ok {
		if err := b.flush(ctx); err != nil {
			return err
		}
	}

	if len(chunks) == 0 {
		b.writeLock.Lock()
		defer b.writeLock.Unlock()
		return b.commit(ctx, nil, []*types.IndexedFileRecord{rec})
	}

	b.files[rec.Path] = &pendingFile{record: rec, expected: len(chunks)}
	for _, c := range chunks {
		if err := b.add(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// FlushRemaining commits whatever is buffered
func (b *BatchIndexer) FlushRemaining(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush(ctx)
}

// Discard drops buffered chunks without committing them
func (b *BatchIndexer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// RemoveFile deletes every segment of path from both stores, then its
// mappings and record in one transaction. It returns the number of
// segments removed.
func (b *BatchIndexer) RemoveFile(ctx context.Context, path string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeFile(ctx, path)
}

// removeFile must be called with b.mu held
func (b *BatchIndexer) removeFile(ctx context.Context, path string) (int, error) {
	if _, ok := b.files[path]; ok {
		if err := b.flush(ctx); err != nil {
			return 0, err
		}
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	ids, err := b.mappings.ListSegmentIDs(ctx, b.projectID, b.kind, path)
	if err != nil {
		return 0, fmt.Errorf("list segments of %s: %w", path, err)
	}
	if err := b.removeFromStores(ctx, ids); err != nil {
		return 0, fmt.Errorf("remove segments of %s: %w", path, err)
	}

	err = b.inTx(ctx, func(tx storage.Tx) error {
		if err := tx.DeleteMappings(ctx, b.projectID, b.kind, path); err != nil {
			return err
		}
		return tx.DeleteFileRecord(ctx, b.projectID, b.kind, path)
	})
	if err != nil {
		return 0, fmt.Errorf("remove mappings of %s: %w", path, err)
	}

	if len(ids) > 0 {
		b.logger.Debug("removed file", slog.String("path", path), slog.Int("segments", len(ids)))
	}
	return len(ids), nil
}

// ClearKind removes every segment, mapping and record of this indexer's
// source kind. Other kinds in the same project are untouched.
func (b *BatchIndexer) ClearKind(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	ids, err := b.mappings.ListKindSegmentIDs(ctx, b.projectID, b.kind)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	if err := b.removeFromStores(ctx, ids); err != nil {
		return err
	}
	if err := b.inTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteKind(ctx, b.projectID, b.kind)
	}); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	b.logger.Info("cleared index", slog.Int("segments", len(ids)))
	return nil
}

// MarkIndexed records the time of a completed run
func (b *BatchIndexer) MarkIndexed(ctx context.Context) error {
	b.writeLock.Lock()
	defer b.writeLock.Unlock()
	return b.inTx(ctx, func(tx storage.Tx) error {
		return tx.MarkIndexed(ctx, b.projectID, b.kind, time.Now())
	})
}

func (b *BatchIndexer) add(ctx context.Context, chunk types.Chunk) error {
	b.pending = append(b.pending, chunk)
	if len(b.pending) >= b.batchSize {
		return b.flush(ctx)
	}
	return nil
}

func (b *BatchIndexer) reset() {
	b.pending = nil
	b.files = make(map[string]*pendingFile)
}

// flush runs embed -> vector store -> keyword store -> mappings.
// Must be called with b.mu held.
func (b *BatchIndexer) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	start := time.Now()

	vectors, err := b.embed(ctx, batch)
	if err != nil {
		b.reset()
		return fmt.Errorf("%w: embed: %w", ErrBatchFailed, err)
	}

	ids := make([]string, len(batch))
	vecRecords := make([]storage.VectorRecord, len(batch))
	segments := make([]storage.KeywordSegment, len(batch))
	mappings := make([]types.SegmentMapping, len(batch))
	counts := make(map[string]int)
	for i, c := range batch {
		meta := c.Metadata
		ids[i] = types.NewSegmentID(b.projectID, meta.Path, meta.ChunkIndex)
		counts[meta.Path]++

		fields := meta.Fields()
		fields["project_id"] = b.projectID
		fields["source_kind"] = string(b.kind)
		vecRecords[i] = storage.VectorRecord{ID: ids[i], Vector: vectors[i], Content: c.Text, Metadata: fields}
		segments[i] = storage.KeywordSegment{ID: ids[i], Content: c.Text, FileName: meta.FileName, Path: meta.Path}
		mappings[i] = types.SegmentMapping{
			ProjectID:  b.projectID,
			Kind:       b.kind,
			FilePath:   meta.Path,
			SegmentID:  ids[i],
			ChunkIndex: meta.ChunkIndex,
		}
	}

	// Files whose last chunk is in this batch
	var completed []*types.IndexedFileRecord
	for path, n := range counts {
		if f, ok := b.files[path]; ok && f.flushed+n >= f.expected {
			completed = append(completed, f.record)
		}
	}

	b.writeLock.Lock()
	err = b.write(ctx, ids, vecRecords, segments, mappings, completed)
	b.writeLock.Unlock()
	if err != nil {
		b.reset()
		return fmt.Errorf("%w: %w", ErrBatchFailed, err)
	}

	for path, n := range counts {
		if f, ok := b.files[path]; ok {
			f.flushed += n
			if f.flushed >= f.expected {
				delete(b.files, path)
			}
		}
	}
	b.pending = nil
	b.segments.Add(int64(len(batch)))

	b.logger.Debug("flushed batch",
		slog.Int("segments", len(batch)),
		slog.Int("files_completed", len(completed)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// embed splits the batch into provider-sized requests
func (b *BatchIndexer) embed(ctx context.Context, batch []types.Chunk) ([][]float32, error) {
	limit := b.embedder.MaxBatchSize()
	if limit <= 0 || limit > b.batchSize {
		limit = b.batchSize
	}

	vectors := make([][]float32, 0, len(batch))
	for start := 0; start < len(batch); start += limit {
		end := start + limit
		if end > len(batch) {
			end = len(batch)
		}
		texts := make([]string, end-start)
		for i, c := range batch[start:end] {
			texts[i] = c.Text
		}

		resp, err := b.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
		}
		for _, emb := range resp.Embeddings {
			vectors = append(vectors, emb.Vector)
		}
		b.embedded.Add(int64(len(texts)))
	}
	return vectors, nil
}

// write commits one embedded batch. Must be called with the project write
// lock held. On failure the batch's segments are removed from both stores.
func (b *BatchIndexer) write(ctx context.Context, ids []string, vectors []storage.VectorRecord,
	segments []storage.KeywordSegment, mappings []types.SegmentMapping, completed []*types.IndexedFileRecord) error {

	if err := b.vectors.AddVectors(ctx, vectors); err != nil {
		b.compensate(ids)
		return fmt.Errorf("vector store: %w", err)
	}
	if err := b.keywords.IndexSegments(ctx, segments); err != nil {
		b.compensate(ids)
		return fmt.Errorf("keyword store: %w", err)
	}
	if err := b.commit(ctx, mappings, completed); err != nil {
		b.compensate(ids)
		return fmt.Errorf("mappings: %w", err)
	}
	return nil
}

// compensate runs detached from ctx so cancellation cannot leave orphans
func (b *BatchIndexer) compensate(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()

	if err := b.vectors.RemoveVectors(ctx, ids); err != nil {
		b.logger.Warn("failed to roll back vectors", slog.Int("segments", len(ids)), slog.Any("error", err))
	}
	if err := b.keywords.RemoveSegments(ctx, ids); err != nil {
		b.logger.Warn("failed to roll back keyword segments", slog.Int("segments", len(ids)), slog.Any("error", err))
	}
}

// commit persists mappings and completed file records in one transaction.
// Must be called with the project write lock held.
func (b *BatchIndexer) commit(ctx context.Context, mappings []types.SegmentMapping, records []*types.IndexedFileRecord) error {
	return b.inTx(ctx, func(tx storage.Tx) error {
		if len(mappings) > 0 {
			if err := tx.SaveMappings(ctx, mappings); err != nil {
				return err
			}
		}
		for _, rec := range records {
			if err := tx.UpsertFileRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BatchIndexer) removeFromStores(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.vectors.RemoveVectors(ctx, ids); err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	if err := b.keywords.RemoveSegments(ctx, ids); err != nil {
		return fmt.Errorf("keyword store: %w", err)
	}
	return nil
}

func (b *BatchIndexer) inTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := b.mappings.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
