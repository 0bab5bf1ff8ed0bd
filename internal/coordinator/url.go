package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dshills/kbsync/internal/content"
	"github.com/dshills/kbsync/internal/state"
	"github.com/dshills/kbsync/pkg/types"
)

// URLCoordinator indexes the text of remote documents. Each URL is fetched
// once per run: the digest is computed from the fetched text, which is kept
// until the extraction step.
type URLCoordinator struct {
	*runner
	urls    []string
	fetcher content.URLFetcher

	mu      sync.Mutex
	fetched map[string]*content.Document
}

// NewURLCoordinator creates a coordinator for src
func NewURLCoordinator(src types.URLListSource, deps Deps) (*URLCoordinator, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil {
		return nil, errors.New("url fetcher is required")
	}
	for _, raw := range src.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid url %q", types.ErrInvalidSource, raw)
		}
	}
	r, err := newRunner(types.SourceURLs, &deps)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(src.URLs))
	urls := make([]string, 0, len(src.URLs))
	for _, u := range src.URLs {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	c := &URLCoordinator{runner: r, urls: urls, fetcher: deps.Fetcher, fetched: make(map[string]*content.Document)}
	r.src = c
	return c, nil
}

func (c *URLCoordinator) enumerate(ctx context.Context, emit func(candidate) error) error {
	c.mu.Lock()
	c.fetched = make(map[string]*content.Document)
	c.mu.Unlock()

	now := time.Now().Unix()
	for _, u := range c.urls {
		if err := emit(candidate{path: u, modTime: now}); err != nil {
			return err
		}
	}
	return nil
}

// hash fetches the document. Fetch failures fail the run so a temporarily
// unreachable site does not drop its segments.
func (c *URLCoordinator) hash(ctx context.Context, cand candidate) (string, bool, error) {
	doc, err := c.fetcher.Fetch(ctx, cand.path)
	if err != nil {
		return "", false, err
	}
	c.mu.Lock()
	c.fetched[cand.path] = doc
	c.mu.Unlock()

	if doc == nil {
		return state.HashBytes(nil), true, nil
	}
	return state.HashBytes([]byte(doc.Text)), true, nil
}

func (c *URLCoordinator) extract(ctx context.Context, path string) (*content.Document, error) {
	c.mu.Lock()
	doc, ok := c.fetched[path]
	delete(c.fetched, path)
	c.mu.Unlock()
	if ok {
		return doc, nil
	}
	return c.fetcher.Fetch(ctx, path)
}
