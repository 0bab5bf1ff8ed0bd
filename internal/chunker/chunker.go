package chunker

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/kbsync/pkg/types"
)

const (
	// ContextFillRatio is the share of the model context a chunk may use
	ContextFillRatio = 0.8

	// DefaultCharsPerToken is the heuristic for estimating tokens (chars/4)
	DefaultCharsPerToken = 4

	// OverlapRatio is the share of a chunk repeated at the start of the next
	OverlapRatio = 0.05

	// MinOverlap is the smallest overlap in characters
	MinOverlap = 50
)

// Sizing holds the configured chunk bounds in characters
type Sizing struct {
	MinChunkSize  int
	MaxChunkSize  int
	CharsPerToken float64
}

// ChunkSize derives the chunk size for a model token limit:
// min(max, max(min, floor(0.8 * limit * charsPerToken))).
func (s Sizing) ChunkSize(tokenLimit int) int {
	cpt := s.CharsPerToken
	if cpt <= 0 {
		cpt = DefaultCharsPerToken
	}
	size := int(math.Floor(ContextFillRatio * float64(tokenLimit) * cpt))
	if size < s.MinChunkSize {
		size = s.MinChunkSize
	}
	if s.MaxChunkSize > 0 && size > s.MaxChunkSize {
		size = s.MaxChunkSize
	}
	if size < 1 {
		size = 1
	}
	return size
}

// Overlap is 5% of size clamped to [MinOverlap, MaxChunkSize], and always
// strictly below size so the window advances.
func (s Sizing) Overlap(size int) int {
	overlap := int(float64(size) * OverlapRatio)
	if overlap < MinOverlap {
		overlap = MinOverlap
	}
	if s.MaxChunkSize > 0 && overlap > s.MaxChunkSize {
		overlap = s.MaxChunkSize
	}
	if overlap >= size {
		overlap = size / 2
	}
	return overlap
}

// Source describes where text came from
type Source struct {
	Path       string
	TrackLines bool // false for text derived from binary documents
}

// Chunker splits extracted text into overlapping windows
type Chunker struct {
	sizing Sizing
}

// New creates a Chunker with the given bounds
func New(sizing Sizing) *Chunker {
	return &Chunker{sizing: sizing}
}

// Sizing returns the configured bounds
func (c *Chunker) Sizing() Sizing {
	return c.sizing
}

// Chunk splits text into windows sized for tokenLimit. Windows are measured
// in runes so multi-byte characters are never split. Whitespace-only windows
// are dropped; every returned chunk carries its index and the final total.
func (c *Chunker) Chunk(text string, src Source, tokenLimit int) []types.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	size := c.sizing.ChunkSize(tokenLimit)
	overlap := c.sizing.Overlap(size)

	var lineStarts []int
	if src.TrackLines {
		lineStarts = computeLineStarts(runes)
	}

	name := filepath.Base(src.Path)
	ext := strings.ToLower(filepath.Ext(name))

	chunks := make([]types.Chunk, 0, len(runes)/size+1)
	for start := 0; ; {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		piece := string(runes[start:end])
		if strings.TrimSpace(piece) != "" {
			meta := types.ChunkMetadata{
				Path:       src.Path,
				FileName:   name,
				Extension:  ext,
				ChunkIndex: len(chunks),
			}
			if src.TrackLines {
				meta.Lines = &types.LineRange{
					Start: lineOf(lineStarts, start),
					End:   lineOf(lineStarts, end-1),
				}
			}
			chunks = append(chunks, types.Chunk{Text: piece, Metadata: meta})
		}

		if end == len(runes) {
			break
		}
		start = end - overlap
	}

	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
	}
	return chunks
}

// computeLineStarts returns the rune offset at which each line begins
func computeLineStarts(runes []rune) []int {
	starts := []int{0}
	for i, r := range runes {
		if r == '\n' && i+1 < len(runes) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineOf maps a rune offset to a 1-based line number
func lineOf(starts []int, offset int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > offset })
}
