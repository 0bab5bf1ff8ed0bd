package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kbsync/pkg/types"
)

func TestSourceFromFlags(t *testing.T) {
	src, err := sourceFromFlags("docs", nil, nil)
	require.NoError(t, err)
	folder, ok := src.(types.FolderSource)
	require.True(t, ok)
	assert.True(t, filepath.IsAbs(folder.Root))

	src, err = sourceFromFlags("", []string{"a.md", "/tmp/b.md"}, nil)
	require.NoError(t, err)
	files := src.(types.FileListSource)
	require.Len(t, files.Paths, 2)
	assert.True(t, filepath.IsAbs(files.Paths[0]))
	assert.Equal(t, "/tmp/b.md", files.Paths[1])

	src, err = sourceFromFlags("", nil, []string{"https://example.com/doc"})
	require.NoError(t, err)
	assert.Equal(t, types.SourceURLs, src.Kind())

	_, err = sourceFromFlags("", nil, nil)
	assert.Error(t, err)
	_, err = sourceFromFlags("docs", nil, []string{"https://example.com"})
	assert.Error(t, err)
}

func TestCommandsAreRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "index", "watch", "clear", "status", "version"} {
		assert.True(t, names[want], want)
	}
}
