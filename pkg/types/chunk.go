package types

import (
	"errors"
	"strconv"
)

// LineRange is an inclusive, 1-based line span.
type LineRange struct {
	Start int
	End   int
}

// ChunkMetadata travels with every chunk into both stores.
type ChunkMetadata struct {
	Path        string
	FileName    string
	Extension   string
	ChunkIndex  int
	TotalChunks int
	Lines       *LineRange // nil for binary-derived text
}

// Chunk is a window of extracted text ready for embedding.
type Chunk struct {
	Text     string
	Metadata ChunkMetadata
}

// Validate checks the invariants every chunk must hold before it is batched.
func (c *Chunk) Validate() error {
	if c.Text == "" {
		return ErrEmptyContent
	}
	if c.Metadata.Path == "" {
		return errors.New("chunk path is required")
	}
	if c.Metadata.ChunkIndex < 0 || c.Metadata.ChunkIndex >= c.Metadata.TotalChunks {
		return errors.New("chunk index out of range")
	}
	if l := c.Metadata.Lines; l != nil && (l.Start <= 0 || l.Start > l.End) {
		return errors.New("invalid line range")
	}
	return nil
}

// Fields flattens the metadata for stores that only accept string maps.
func (m ChunkMetadata) Fields() map[string]string {
	fields := map[string]string{
		"path":         m.Path,
		"file_name":    m.FileName,
		"extension":    m.Extension,
		"chunk_index":  strconv.Itoa(m.ChunkIndex),
		"total_chunks": strconv.Itoa(m.TotalChunks),
	}
	if m.Lines != nil {
		fields["start_line"] = strconv.Itoa(m.Lines.Start)
		fields["end_line"] = strconv.Itoa(m.Lines.End)
	}
	return fields
}
