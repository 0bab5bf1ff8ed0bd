package content

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// URLFetcher retrieves the text of a remote document. It returns nil, nil
// for content types it cannot turn into text.
type URLFetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// HTTPFetcher fetches documents over HTTP(S)
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher bounded by timeout and maxBytes
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch implements URLFetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		text, err := HTMLText(body)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", url, err)
		}
		return textDocument(text, false), nil
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json", mediaType == "application/xml", mediaType == "":
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", url, err)
		}
		if !IsText(data) {
			return nil, nil
		}
		return textDocument(string(data), true), nil
	default:
		return nil, nil
	}
}

// Close releases idle connections
func (f *HTTPFetcher) Close() {
	f.client.CloseIdleConnections()
}

func textDocument(text string, trackLines bool) *Document {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &Document{Text: text, TrackLines: trackLines}
}
