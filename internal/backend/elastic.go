package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/dshills/kbsync/internal/config"
	"github.com/dshills/kbsync/internal/storage"
)

// ErrElastic wraps error responses from Elasticsearch
var ErrElastic = errors.New("elasticsearch request failed")

// indexMapping keeps identifiers exact and the content analyzed
const indexMapping = `{
  "mappings": {
    "properties": {
      "project_id": {"type": "keyword"},
      "file_name":  {"type": "keyword"},
      "path":       {"type": "keyword"},
      "content":    {"type": "text"}
    }
  }
}`

// ElasticKeywordStore indexes segment text in Elasticsearch. One index may
// hold several projects; every document carries its project ID so that
// clearing stays scoped.
type ElasticKeywordStore struct {
	client    *elasticsearch.Client
	index     string
	projectID string
	logger    *slog.Logger

	mu    sync.Mutex
	ready bool
}

// elasticDoc is the stored document of one segment
type elasticDoc struct {
	ProjectID string `json:"project_id"`
	FileName  string `json:"file_name"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// NewElasticKeywordStore creates a store for projectID using cfg
func NewElasticKeywordStore(cfg config.ElasticConfig, projectID string, logger *slog.Logger) (*ElasticKeywordStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("%w: elasticsearch index is empty", config.ErrInvalidConfig)
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ElasticKeywordStore{
		client:    client,
		index:     strings.ToLower(cfg.Index),
		projectID: projectID,
		logger:    logger,
	}, nil
}

// IndexSegments writes segments with one bulk request
func (e *ElasticKeywordStore) IndexSegments(ctx context.Context, segments []storage.KeywordSegment) error {
	if len(segments) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, s := range segments {
		action := map[string]any{"index": map[string]any{"_id": s.ID}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		doc := elasticDoc{ProjectID: e.projectID, FileName: s.FileName, Path: s.Path, Content: s.Content}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode segment %s: %w", s.ID, err)
		}
	}
	return e.bulk(ctx, &body)
}

// RemoveSegments deletes documents by ID with one bulk request
func (e *ElasticKeywordStore) RemoveSegments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, id := range ids {
		if err := enc.Encode(map[string]any{"delete": map[string]any{"_id": id}}); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
	}
	return e.bulk(ctx, &body)
}

// ClearSegments deletes every document of this project
func (e *ElasticKeywordStore) ClearSegments(ctx context.Context) error {
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}
	query, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"project_id": e.projectID}},
	})
	if err != nil {
		return err
	}
	res, err := e.client.DeleteByQuery([]string{e.index}, bytes.NewReader(query),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithConflicts("proceed"),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete by query: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return responseError("delete by query", res)
	}
	return nil
}

func (e *ElasticKeywordStore) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}

	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch index exists: %w", err)
	}
	_ = res.Body.Close()

	switch {
	case res.StatusCode == 200:
	case res.StatusCode == 404:
		res, err := e.client.Indices.Create(e.index,
			e.client.Indices.Create.WithContext(ctx),
			e.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		)
		if err != nil {
			return fmt.Errorf("elasticsearch create index: %w", err)
		}
		defer func() { _ = res.Body.Close() }()
		if res.IsError() {
			// Another writer may have created it first
			if msg := readBody(res); !strings.Contains(msg, "resource_already_exists_exception") {
				return fmt.Errorf("%w: create index %s: %s: %s", ErrElastic, e.index, res.Status(), msg)
			}
		} else {
			e.logger.Info("created elasticsearch index", slog.String("index", e.index))
		}
	default:
		return fmt.Errorf("%w: index exists %s: %s", ErrElastic, e.index, res.Status())
	}
	e.ready = true
	return nil
}

// bulkResponse is the subset of the bulk API response that is inspected
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (e *ElasticKeywordStore) bulk(ctx context.Context, body io.Reader) error {
	res, err := e.client.Bulk(body,
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithIndex(e.index),
		e.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return responseError("bulk", res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}
	for _, item := range parsed.Items {
		for op, result := range item {
			// Deleting a missing document is not a failure
			if op == "delete" && result.Status == 404 {
				continue
			}
			if result.Error != nil {
				return fmt.Errorf("%w: bulk %s %s: %s: %s", ErrElastic, op, result.ID, result.Error.Type, result.Error.Reason)
			}
		}
	}
	return nil
}

func responseError(op string, res *esapi.Response) error {
	return fmt.Errorf("%w: %s: %s: %s", ErrElastic, op, res.Status(), readBody(res))
}

func readBody(res *esapi.Response) string {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return strings.TrimSpace(string(data))
}
