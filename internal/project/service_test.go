package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kbsync/internal/config"
	"github.com/dshills/kbsync/internal/watcher"
	"github.com/dshills/kbsync/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Embedding.Provider = "local"
	cfg.Indexing.UseGlobalIgnore = false
	cfg.Indexing.Workers = 2
	cfg.Chunking.MinChunkSize = 100
	cfg.Chunking.MaxChunkSize = 400
	cfg.Watcher.Debounce = 20 * time.Millisecond
	return cfg
}

func openService(t *testing.T, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	svc, err := Open(cfg, "demo", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func statsOf(t *testing.T, svc *Service, kind types.SourceKind) (files, segments int) {
	t.Helper()
	stats, err := svc.Status(context.Background())
	require.NoError(t, err)
	for _, s := range stats {
		if s.Kind == kind {
			return s.Files, s.Segments
		}
	}
	return 0, 0
}

func TestOpenCreatesProjectDatabase(t *testing.T) {
	cfg := testConfig(t)
	svc := openService(t, cfg)

	assert.Equal(t, "demo", svc.ID())
	assert.FileExists(t, cfg.ProjectDBPath("demo"))
	assert.Empty(t, svc.Progress())

	_, err := Open(cfg, "")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunFolderAndFileListIndependently(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	svc := openService(t, cfg)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "guide.md"), "how to use the tool")
	writeFile(t, filepath.Join(root, "api", "ref.md"), "reference for the api")
	extra := filepath.Join(t.TempDir(), "extra.txt")
	writeFile(t, extra, "an extra document")

	p, err := svc.Run(ctx, types.FolderSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, p.Status)
	assert.Equal(t, 2, p.TotalFiles)

	p, err = svc.Run(ctx, types.FileListSource{Paths: []string{extra}})
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, p.Status)

	files, segments := statsOf(t, svc, types.SourceFolders)
	assert.Equal(t, 2, files)
	assert.Positive(t, segments)
	files, _ = statsOf(t, svc, types.SourceFiles)
	assert.Equal(t, 1, files)

	progress := svc.Progress()
	require.Len(t, progress, 2)
	assert.Equal(t, types.SourceFiles, progress[0].Kind)
	assert.Equal(t, types.SourceFolders, progress[1].Kind)

	// Clearing one kind leaves the other untouched
	require.NoError(t, svc.ClearAll(ctx, types.SourceFiles))
	files, _ = statsOf(t, svc, types.SourceFiles)
	assert.Zero(t, files)
	files, _ = statsOf(t, svc, types.SourceFolders)
	assert.Equal(t, 2, files)

	require.NoError(t, svc.ClearAll(ctx, ""))
	files, _ = statsOf(t, svc, types.SourceFolders)
	assert.Zero(t, files)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "persisted content")

	svc, err := Open(cfg, "demo")
	require.NoError(t, err)
	_, err = svc.Run(ctx, types.FolderSource{Root: root})
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	svc = openService(t, cfg)
	p, err := svc.Run(ctx, types.FolderSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, p.ProcessedFiles)
	assert.Zero(t, p.Segments, "unchanged files are not re-embedded")
}

func TestClearUnboundKind(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "content to clear later")

	svc, err := Open(cfg, "demo")
	require.NoError(t, err)
	_, err = svc.Run(ctx, types.FolderSource{Root: root})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	// A fresh process has no coordinator bound but can still clear
	svc = openService(t, cfg)
	require.NoError(t, svc.ClearAll(ctx, types.SourceFolders))
	files, _ := statsOf(t, svc, types.SourceFolders)
	assert.Zero(t, files)
}

func TestConfigureReplacesSourceOfSameKind(t *testing.T) {
	svc := openService(t, testConfig(t))
	first, err := svc.Configure(types.FolderSource{Root: t.TempDir()})
	require.NoError(t, err)

	same, err := svc.Configure(types.FolderSource{Root: first.(interface{ Root() string }).Root()})
	require.NoError(t, err)
	assert.Same(t, first, same)

	other, err := svc.Configure(types.FolderSource{Root: t.TempDir()})
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.False(t, first.StartIndexing(), "replaced coordinator is closed")
}

func TestSubscribe(t *testing.T) {
	svc := openService(t, testConfig(t))
	_, _, err := svc.Subscribe(types.SourceURLs)
	assert.ErrorIs(t, err, ErrNotConfigured)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "subscribed content")
	_, err = svc.Configure(types.FolderSource{Root: root})
	require.NoError(t, err)

	ch, cancel, err := svc.Subscribe(types.SourceFolders)
	require.NoError(t, err)
	defer cancel()

	started, err := svc.StartIndexing(types.FolderSource{Root: root})
	require.NoError(t, err)
	require.True(t, started)

	timeout := time.After(10 * time.Second)
	for {
		select {
		case p := <-ch:
			if p.Done() {
				assert.Equal(t, types.StatusReady, p.Status)
				return
			}
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
}

func TestWatchingKeepsIndexCurrent(t *testing.T) {
	ctx := context.Background()
	shared := watcher.NewManager(nil)
	svc := openService(t, testConfig(t), WithWatchers(shared))

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "initial content")
	_, err := svc.Run(ctx, types.FolderSource{Root: root})
	require.NoError(t, err)

	require.NoError(t, svc.StartWatching(ctx, root))
	assert.Equal(t, filepath.Clean(root), svc.Watching())

	writeFile(t, filepath.Join(root, "b.md"), "added while watching")
	assert.Eventually(t, func() bool {
		files, _ := statsOf(t, svc, types.SourceFolders)
		return files == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(root, "a.md")))
	assert.Eventually(t, func() bool {
		files, _ := statsOf(t, svc, types.SourceFolders)
		return files == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, svc.StopWatching())
	assert.Empty(t, svc.Watching())
	assert.Empty(t, shared.Active())
}

func TestWatchersAreSharedAcrossProjects(t *testing.T) {
	ctx := context.Background()
	shared := watcher.NewManager(nil)
	cfg := testConfig(t)

	one, err := Open(cfg, "one", WithWatchers(shared))
	require.NoError(t, err)
	defer one.Close()
	two, err := Open(cfg, "two", WithWatchers(shared))
	require.NoError(t, err)
	defer two.Close()

	require.NoError(t, one.StartWatching(ctx, t.TempDir()))
	require.NoError(t, two.StartWatching(ctx, t.TempDir()))
	assert.Empty(t, one.Watching())
	assert.NotEmpty(t, two.Watching())

	// Stopping a project that is not watched leaves the active watcher alone
	require.NoError(t, one.StopWatching())
	assert.NotEmpty(t, two.Watching())
}

func TestClosedServiceRejectsWork(t *testing.T) {
	svc, err := Open(testConfig(t), "demo")
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	_, err = svc.Configure(types.FolderSource{Root: t.TempDir()})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, svc.ClearAll(context.Background(), types.SourceURLs), ErrClosed)
}
