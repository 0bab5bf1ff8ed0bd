package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/dshills/kbsync/internal/config"
	"github.com/dshills/kbsync/internal/storage"
)

// ErrDimensionMismatch is returned when a vector does not fit the collection
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Payload keys written with every point
const (
	PayloadSegmentID = "segment_id"
	PayloadContent   = "content"
)

// QdrantVectorStore keeps segment vectors in a Qdrant collection. Segment
// IDs are not valid point IDs, so each is mapped onto a name-based UUID.
type QdrantVectorStore struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger

	mu        sync.Mutex
	dimension uint64 // 0 until the collection is known to exist
}

// NewQdrantVectorStore connects to the Qdrant gRPC endpoint in cfg
func NewQdrantVectorStore(cfg config.QdrantConfig, logger *slog.Logger) (*QdrantVectorStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection is empty", config.ErrInvalidConfig)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	logger.Info("connected to qdrant",
		slog.String("host", cfg.Host), slog.Int("port", cfg.Port), slog.String("collection", cfg.Collection))
	return &QdrantVectorStore{client: client, collection: cfg.Collection, logger: logger}, nil
}

// PointID maps a segment ID onto the UUID used as its Qdrant point ID
func PointID(segmentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(segmentID)).String()
}

// AddVectors upserts vectors, creating the collection on first use
func (q *QdrantVectorStore) AddVectors(ctx context.Context, vectors []storage.VectorRecord) error {
	if len(vectors) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(vectors[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(vectors))
	for _, v := range vectors {
		if uint64(len(v.Vector)) != q.dimension {
			return fmt.Errorf("%w: segment %s has %d, collection has %d",
				ErrDimensionMismatch, v.ID, len(v.Vector), q.dimension)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(v.ID)),
			Vectors: qdrant.NewVectors(v.Vector...),
			Payload: qdrant.NewValueMap(pointPayload(v)),
		})
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// RemoveVectors deletes the points of ids. Unknown IDs are ignored.
func (q *QdrantVectorStore) RemoveVectors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	known := q.dimension > 0
	q.mu.Unlock()
	if !known {
		exists, err := q.client.CollectionExists(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("qdrant collection exists: %w", err)
		}
		if !exists {
			return nil
		}
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(PointID(id))
	}
	wait := true
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	}); err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// Close releases the gRPC connection
func (q *QdrantVectorStore) Close() error {
	return q.client.Close()
}

func (q *QdrantVectorStore) ensureCollection(ctx context.Context, dimension int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dimension > 0 {
		return nil
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant create collection %s: %w", q.collection, err)
		}
		q.logger.Info("created qdrant collection", slog.String("collection", q.collection), slog.Int("dimension", dimension))
	}
	q.dimension = uint64(dimension)
	return nil
}

// pointPayload flattens a vector record into a Qdrant payload
func pointPayload(v storage.VectorRecord) map[string]any {
	payload := make(map[string]any, len(v.Metadata)+2)
	for k, val := range v.Metadata {
		payload[k] = val
	}
	payload[PayloadSegmentID] = v.ID
	payload[PayloadContent] = v.Content
	return payload
}
