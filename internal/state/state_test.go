package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kbsync/internal/storage"
	"github.com/dshills/kbsync/pkg/types"
)

func newStore(t *testing.T, kind types.SourceKind) (*Store, *storage.SQLiteStorage) {
	t.Helper()
	st, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, "proj", kind, nil), st
}

func TestDetectChanges(t *testing.T) {
	tests := []struct {
		name    string
		prev    map[string]string
		current map[string]string
		want    Changes
	}{
		{
			name:    "first run adds everything",
			prev:    map[string]string{},
			current: map[string]string{"b": "2", "a": "1"},
			want:    Changes{ToAdd: []string{"a", "b"}},
		},
		{
			name:    "unchanged",
			prev:    map[string]string{"a": "1"},
			current: map[string]string{"a": "1"},
			want:    Changes{},
		},
		{
			name:    "mixed",
			prev:    map[string]string{"a": "1", "b": "2", "c": "3"},
			current: map[string]string{"a": "1", "b": "22", "d": "4"},
			want:    Changes{ToAdd: []string{"d"}, ToUpdate: []string{"b"}, ToRemove: []string{"c"}},
		},
		{
			name:    "everything removed",
			prev:    map[string]string{"x": "1", "y": "2"},
			current: nil,
			want:    Changes{ToRemove: []string{"x", "y"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectChanges(tt.prev, tt.current)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectChangesPartition(t *testing.T) {
	prev := map[string]string{"a": "1", "b": "2", "c": "3", "e": "5"}
	current := map[string]string{"a": "1", "b": "x", "d": "4", "e": "5"}
	c := DetectChanges(prev, current)

	seen := map[string]int{}
	for _, list := range [][]string{c.ToAdd, c.ToUpdate, c.ToRemove} {
		for _, p := range list {
			seen[p]++
		}
	}
	for p, n := range seen {
		assert.Equal(t, 1, n, "path %s in more than one list", p)
	}
	// Unchanged paths appear nowhere
	assert.NotContains(t, seen, "a")
	assert.NotContains(t, seen, "e")
	assert.False(t, c.Empty())
}

func TestSaveAndLoadState(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, types.SourceFolders)

	prev, err := s.LoadPreviousState(ctx)
	require.NoError(t, err)
	assert.Empty(t, prev)

	require.NoError(t, s.SaveState(ctx, []*types.IndexedFileRecord{
		{Path: "/r/a.md", ContentHash: "h1", LastModified: 1, SizeBytes: 3},
		{Path: "/r/dir/b.md", ContentHash: "h2", LastModified: 2, SizeBytes: 4},
	}))

	prev, err = s.LoadPreviousState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/r/a.md": "h1", "/r/dir/b.md": "h2"}, prev)

	rec, err := s.Record(ctx, "/r/a.md")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "proj", rec.ProjectID)
	assert.Equal(t, types.SourceFolders, rec.Kind)

	rec, err = s.Record(ctx, "/r/missing.md")
	require.NoError(t, err)
	assert.Nil(t, rec)

	paths, err := s.PathsUnder(ctx, "/r/dir")
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/dir/b.md"}, paths)

	require.NoError(t, s.Forget(ctx, "/r/a.md"))
	prev, err = s.LoadPreviousState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/r/dir/b.md": "h2"}, prev)
}

func TestClearIsScopedToKind(t *testing.T) {
	ctx := context.Background()
	folders, st := newStore(t, types.SourceFolders)
	urls := New(st, "proj", types.SourceURLs, nil)

	require.NoError(t, folders.SaveState(ctx, []*types.IndexedFileRecord{{Path: "/r/a.md", ContentHash: "h"}}))
	require.NoError(t, urls.SaveState(ctx, []*types.IndexedFileRecord{{Path: "https://x.test/", ContentHash: "u"}}))

	require.NoError(t, folders.Clear(ctx))

	prev, err := folders.LoadPreviousState(ctx)
	require.NoError(t, err)
	assert.Empty(t, prev)

	prev, err = urls.LoadPreviousState(ctx)
	require.NoError(t, err)
	assert.Len(t, prev, 1)
}

type brokenBackend struct {
	Backend
}

func (brokenBackend) ListFileRecords(context.Context, string, types.SourceKind) ([]*types.IndexedFileRecord, error) {
	return nil, errors.New("database disk image is malformed")
}

func TestUnreadableStateIsEmpty(t *testing.T) {
	s := New(brokenBackend{}, "proj", types.SourceFolders, nil)

	prev, err := s.LoadPreviousState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.LoadPreviousState(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	got, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
	assert.Equal(t, got, HashBytes([]byte("hello world")))

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
