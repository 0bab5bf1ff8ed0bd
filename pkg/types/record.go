package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// IndexedFileRecord remembers the content a file had when it was last
// committed to both stores.
type IndexedFileRecord struct {
	ProjectID    string
	Kind         SourceKind
	Path         string
	ContentHash  string
	LastModified int64 // unix seconds
	SizeBytes    int64
}

// SegmentMapping links one stored segment back to the file it came from.
type SegmentMapping struct {
	ProjectID  string
	Kind       SourceKind
	FilePath   string
	SegmentID  string
	ChunkIndex int
}

// NewSegmentID builds an identifier of the form
// projectID:filePath:chunkIndex:uuid. It is unique across projects and
// re-indexing runs.
func NewSegmentID(projectID, filePath string, chunkIndex int) string {
	return projectID + ":" + filePath + ":" + strconv.Itoa(chunkIndex) + ":" + uuid.NewString()
}

// ParseSegmentID splits a segment identifier into its parts. File paths may
// contain colons, so the project is taken from the front and the chunk index
// and uuid from the back.
func ParseSegmentID(id string) (projectID, filePath string, chunkIndex int, err error) {
	first := strings.Index(id, ":")
	last := strings.LastIndex(id, ":")
	if first < 0 || last <= first {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidSegmentID, id)
	}
	rest := id[first+1 : last]
	sep := strings.LastIndex(rest, ":")
	if sep < 0 {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidSegmentID, id)
	}
	if _, perr := uuid.Parse(id[last+1:]); perr != nil {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidSegmentID, id)
	}
	idx, perr := strconv.Atoi(rest[sep+1:])
	if perr != nil {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidSegmentID, id)
	}
	return id[:first], rest[:sep], idx, nil
}
