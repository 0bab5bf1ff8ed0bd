package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kbsync/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Embedding.Provider = "local"
	cfg.Indexing.UseGlobalIgnore = false
	cfg.Indexing.Workers = 2
	cfg.Watcher.Debounce = 20 * time.Millisecond

	s, err := NewServer(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func docsFolder(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "guide.md"), []byte("installation guide"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "faq.md"), []byte("frequently asked questions"), 0o644))
	return root
}

func TestServer_Initialization(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)

	s := newTestServer(t)
	assert.NotNil(t, s.mcp)
	assert.NotNil(t, s.watchers)
	assert.Empty(t, s.projects, "projects are opened lazily")
}

func TestIndexSource_Wait(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	root := docsFolder(t)

	res, err := s.handleIndexSource(ctx, call("index_source", map[string]interface{}{
		"project": "docs",
		"kind":    "folders",
		"root":    root,
		"wait":    true,
	}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "ready", out["status"])
	assert.EqualValues(t, 2, out["total_files"])
	assert.EqualValues(t, 2, out["processed_files"])

	res, err = s.handleGetStatus(ctx, call("get_status", map[string]interface{}{"project": "docs"}))
	require.NoError(t, err)
	out = decode(t, res)
	assert.Equal(t, true, out["indexed"])
	sources, ok := out["sources"].([]interface{})
	require.True(t, ok)
	require.Len(t, sources, 1)
	entry := sources[0].(map[string]interface{})
	assert.Equal(t, "folders", entry["kind"])
	assert.EqualValues(t, 2, entry["files"])
	assert.Contains(t, entry, "last_indexed_at")
}

func TestIndexSource_Background(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("background notes"), 0o644))

	res, err := s.handleIndexSource(ctx, call("index_source", map[string]interface{}{
		"project": "docs",
		"kind":    "files",
		"paths":   []interface{}{file},
	}))
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["started"])

	assert.Eventually(t, func() bool {
		res, err := s.handleGetStatus(ctx, call("get_status", map[string]interface{}{"project": "docs"}))
		if err != nil {
			return false
		}
		runs, _ := decode(t, res)["progress"].([]interface{})
		return len(runs) == 1 && runs[0].(map[string]interface{})["status"] == "ready"
	}, 10*time.Second, 20*time.Millisecond)
}

func TestIndexSource_InvalidParams(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing project", map[string]interface{}{"kind": "folders"}, ErrorCodeInvalidParams},
		{"unknown kind", map[string]interface{}{"project": "p", "kind": "repos"}, ErrorCodeInvalidParams},
		{"missing root", map[string]interface{}{"project": "p", "kind": "folders"}, ErrorCodeInvalidParams},
		{"relative root", map[string]interface{}{"project": "p", "kind": "folders", "root": "docs"}, ErrorCodeInvalidParams},
		{"empty paths", map[string]interface{}{"project": "p", "kind": "files", "paths": []interface{}{}}, ErrorCodeInvalidParams},
		{"relative path", map[string]interface{}{"project": "p", "kind": "files", "paths": []interface{}{"a.md"}}, ErrorCodeInvalidSource},
		{"non-string url", map[string]interface{}{"project": "p", "kind": "urls", "urls": []interface{}{42}}, ErrorCodeInvalidParams},
		{"empty url", map[string]interface{}{"project": "p", "kind": "urls", "urls": []interface{}{""}}, ErrorCodeInvalidSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleIndexSource(ctx, call("index_source", tt.args))
			requireCode(t, err, tt.code)
		})
	}

	_, err := s.handleIndexSource(ctx, mcp.CallToolRequest{})
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestClearIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	root := docsFolder(t)

	_, err := s.handleIndexSource(ctx, call("index_source", map[string]interface{}{
		"project": "docs", "kind": "folders", "root": root, "wait": true,
	}))
	require.NoError(t, err)

	_, err = s.handleClearIndex(ctx, call("clear_index", map[string]interface{}{"project": "docs", "kind": "tickets"}))
	requireCode(t, err, ErrorCodeInvalidParams)

	res, err := s.handleClearIndex(ctx, call("clear_index", map[string]interface{}{"project": "docs", "kind": "folders"}))
	require.NoError(t, err)
	assert.Equal(t, "folders", decode(t, res)["cleared"])

	res, err = s.handleGetStatus(ctx, call("get_status", map[string]interface{}{"project": "docs"}))
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, res)["indexed"])

	res, err = s.handleClearIndex(ctx, call("clear_index", map[string]interface{}{"project": "docs"}))
	require.NoError(t, err)
	assert.Equal(t, "all", decode(t, res)["cleared"])
}

func TestWatchingTools(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	first := docsFolder(t)
	second := docsFolder(t)

	_, err := s.handleStartWatching(ctx, call("start_watching", map[string]interface{}{"project": "a"}))
	requireCode(t, err, ErrorCodeInvalidParams)

	res, err := s.handleStartWatching(ctx, call("start_watching", map[string]interface{}{"project": "a", "root": first}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(first), decode(t, res)["watching"])

	// Only one folder is watched at a time across projects
	res, err = s.handleStartWatching(ctx, call("start_watching", map[string]interface{}{"project": "b", "root": second}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, filepath.Clean(second), out["watching"])
	assert.Equal(t, filepath.Clean(first), out["replaced"])

	res, err = s.handleGetStatus(ctx, call("get_status", map[string]interface{}{"project": "a"}))
	require.NoError(t, err)
	assert.Equal(t, "", decode(t, res)["watching"])

	res, err = s.handleStopWatching(ctx, call("stop_watching", map[string]interface{}{"project": "a"}))
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, res)["stopped"])
	assert.Equal(t, filepath.Clean(second), s.watchers.Active())

	res, err = s.handleStopWatching(ctx, call("stop_watching", map[string]interface{}{"project": "b"}))
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["stopped"])
	assert.Empty(t, s.watchers.Active())
}

func TestProjectsAreReused(t *testing.T) {
	s := newTestServer(t)

	first, err := s.project("docs")
	require.NoError(t, err)
	second, err := s.project("docs")
	require.NoError(t, err)
	assert.Same(t, first, second)

	// A data directory that is a regular file cannot hold project databases
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))
	s.cfg.DataDir = blocked
	_, err = s.handleGetStatus(context.Background(), call("get_status", map[string]interface{}{"project": "other"}))
	requireCode(t, err, ErrorCodeProjectUnavailable)
}
