package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kbsync/internal/ignore"
	"github.com/dshills/kbsync/internal/workerpool"
)

type call struct {
	op   string
	path string
}

// recordingHandler records applied changes and excludes any path segment
// named "excluded"
type recordingHandler struct {
	root string

	mu    sync.Mutex
	calls []call
}

func (h *recordingHandler) Root() string { return h.root }

func (h *recordingHandler) Excluded(path string, isDir bool, size int64) bool {
	return filepath.Base(path) == "excluded"
}

func (h *recordingHandler) IndexPath(ctx context.Context, path string) error {
	h.record("index", path)
	return nil
}

func (h *recordingHandler) RemovePath(ctx context.Context, path string) error {
	h.record("remove", path)
	return nil
}

func (h *recordingHandler) record(op, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call{op, path})
}

func (h *recordingHandler) count(op, path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.op == op && c.path == path {
			n++
		}
	}
	return n
}

func (h *recordingHandler) touched(fragment string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.calls {
		if strings.Contains(c.path, fragment) {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, root string) (*Watcher, *recordingHandler) {
	t.Helper()
	pool, err := workerpool.New(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	h := &recordingHandler{root: root}
	w, err := Start(context.Background(), h, Options{Debounce: 20 * time.Millisecond, Pool: pool})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w, h
}

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func TestWatcher_CreateModifyRemove(t *testing.T) {
	root := t.TempDir()
	_, h := startWatcher(t, root)

	file := filepath.Join(root, "notes.md")
	require.NoError(t, os.WriteFile(file, []byte("one"), 0o644))
	assert.Eventually(t, func() bool { return h.count("index", file) >= 1 }, waitFor, tick)

	require.NoError(t, os.Remove(file))
	assert.Eventually(t, func() bool { return h.count("remove", file) == 1 }, waitFor, tick)
}

func TestWatcher_Debounces(t *testing.T) {
	root := t.TempDir()
	_, h := startWatcher(t, root)

	file := filepath.Join(root, "busy.md")
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(file, []byte(strings.Repeat("x", i+1)), 0o644))
	}
	assert.Eventually(t, func() bool { return h.count("index", file) >= 1 }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Less(t, h.count("index", file), 10)
}

func TestWatcher_NewDirectoriesAreWatched(t *testing.T) {
	root := t.TempDir()
	_, h := startWatcher(t, root)

	dir := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(dir, 0o755))
	// Give the watcher time to register the new directory
	time.Sleep(100 * time.Millisecond)

	file := filepath.Join(dir, "deep.md")
	require.NoError(t, os.WriteFile(file, []byte("deep"), 0o644))
	assert.Eventually(t, func() bool { return h.count("index", file) >= 1 }, waitFor, tick)

	require.NoError(t, os.RemoveAll(dir))
	assert.Eventually(t, func() bool { return h.count("remove", dir) >= 1 }, waitFor, tick)
}

func TestWatcher_MovedInDirectoryIsIndexed(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	src := filepath.Join(outside, "pkg")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.md"), []byte("a"), 0o644))

	_, h := startWatcher(t, root)

	dst := filepath.Join(root, "pkg")
	require.NoError(t, os.Rename(src, dst))
	assert.Eventually(t, func() bool { return h.count("index", filepath.Join(dst, "a.md")) >= 1 }, waitFor, tick)
}

func TestWatcher_SkipsExcludedDirectories(t *testing.T) {
	root := t.TempDir()
	excluded := filepath.Join(root, "excluded")
	require.NoError(t, os.Mkdir(excluded, 0o755))
	_, h := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(excluded, "x.md"), []byte("x"), 0o644))
	marker := filepath.Join(root, "marker.md")
	require.NoError(t, os.WriteFile(marker, []byte("m"), 0o644))

	assert.Eventually(t, func() bool { return h.count("index", marker) >= 1 }, waitFor, tick)
	assert.False(t, h.touched("x.md"))
}

func TestWatcher_IgnoreFileInvalidatesRules(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	gitignore := filepath.Join(root, ".gitignore")
	require.NoError(t, os.WriteFile(gitignore, []byte("*.log\n"), 0o644))

	resolver := ignore.NewResolver(ignore.Options{FileNames: []string{".gitignore"}})
	target := filepath.Join(root, "drafts", "a.md")
	require.False(t, resolver.IsIgnored(root, target, false))

	h := &recordingHandler{root: root}
	w, err := Start(context.Background(), h, Options{Debounce: 20 * time.Millisecond, Resolver: resolver})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(gitignore, []byte("*.log\ndrafts/\n"), 0o644))
	assert.Eventually(t, func() bool { return resolver.IsIgnored(root, target, false) }, waitFor, tick)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	w, h := startWatcher(t, root)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	file := filepath.Join(root, "late.md")
	require.NoError(t, os.WriteFile(file, []byte("late"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.count("index", file))
}

func TestStartRejectsMissingRoot(t *testing.T) {
	h := &recordingHandler{root: filepath.Join(t.TempDir(), "missing")}
	_, err := Start(context.Background(), h, Options{})
	assert.Error(t, err)
}

func TestManager_SingleActiveWatcher(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	m := NewManager(nil)
	defer m.StopWatching()
	opts := Options{Debounce: 20 * time.Millisecond}

	h1 := &recordingHandler{root: first}
	h2 := &recordingHandler{root: second}

	require.NoError(t, m.StartWatching(context.Background(), h1, opts))
	assert.Equal(t, filepath.Clean(first), m.Active())
	assert.True(t, m.Serving(h1))

	require.NoError(t, m.StartWatching(context.Background(), h2, opts))
	assert.Equal(t, filepath.Clean(second), m.Active())
	assert.False(t, m.Serving(h1))

	stale := filepath.Join(first, "stale.md")
	require.NoError(t, os.WriteFile(stale, []byte("s"), 0o644))
	fresh := filepath.Join(second, "fresh.md")
	require.NoError(t, os.WriteFile(fresh, []byte("f"), 0o644))

	assert.Eventually(t, func() bool { return h2.count("index", fresh) >= 1 }, waitFor, tick)
	assert.Zero(t, h1.count("index", stale))

	// Releasing a handler that is not being served is a no-op
	require.NoError(t, m.Release(h1))
	assert.True(t, m.Serving(h2))

	require.NoError(t, m.Release(h2))
	require.NoError(t, m.StopWatching())
	assert.Empty(t, m.Active())
}
