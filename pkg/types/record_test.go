package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentIDRoundTrip(t *testing.T) {
	id := NewSegmentID("proj", "/docs/a:b.md", 7)

	project, path, idx, err := ParseSegmentID(id)
	require.NoError(t, err)
	assert.Equal(t, "proj", project)
	assert.Equal(t, "/docs/a:b.md", path)
	assert.Equal(t, 7, idx)
}

func TestSegmentIDUnique(t *testing.T) {
	a := NewSegmentID("proj", "/a.md", 0)
	b := NewSegmentID("proj", "/a.md", 0)
	assert.NotEqual(t, a, b)
}

func TestParseSegmentIDRejectsGarbage(t *testing.T) {
	for _, id := range []string{"", "nocolons", "p:path:notanumber:" + "00000000-0000-0000-0000-000000000000", "p:path:1:not-a-uuid"} {
		_, _, _, err := ParseSegmentID(id)
		assert.ErrorIs(t, err, ErrInvalidSegmentID, id)
	}
}

func TestParseSourceKind(t *testing.T) {
	kind, err := ParseSourceKind("urls")
	require.NoError(t, err)
	assert.Equal(t, SourceURLs, kind)

	_, err = ParseSourceKind("ftp")
	assert.ErrorIs(t, err, ErrUnknownSourceKind)
}

func TestSourceValidate(t *testing.T) {
	assert.NoError(t, FolderSource{Root: "/tmp"}.Validate())
	assert.ErrorIs(t, FolderSource{Root: "rel"}.Validate(), ErrInvalidSource)
	assert.ErrorIs(t, FileListSource{Paths: []string{"x.md"}}.Validate(), ErrInvalidSource)
	assert.NoError(t, URLListSource{URLs: []string{"https://example.com"}}.Validate())
}

func TestChunkValidate(t *testing.T) {
	c := Chunk{Text: "hello", Metadata: ChunkMetadata{Path: "/a.md", TotalChunks: 1, Lines: &LineRange{Start: 1, End: 2}}}
	assert.NoError(t, c.Validate())

	c.Metadata.ChunkIndex = 1
	assert.Error(t, c.Validate())

	c.Metadata.ChunkIndex = 0
	c.Metadata.Lines = &LineRange{Start: 3, End: 2}
	assert.Error(t, c.Validate())
}
