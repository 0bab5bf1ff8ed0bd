package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// sniffSize is how much of a file is inspected to decide whether it is text
const sniffSize = 8 << 10

var (
	// ErrUnsupported marks content that cannot be turned into text
	ErrUnsupported = errors.New("unsupported content")
)

// Document is extracted text ready for chunking
type Document struct {
	Text       string
	TrackLines bool
}

// Extractor turns a file into text. It returns nil, nil when the file is
// unsupported or has no text.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Document, error)
}

// DocumentReader extracts text from one binary document format
type DocumentReader func(r io.ReaderAt, size int64) (string, error)

// FileExtractor reads plain text files directly and delegates registered
// document formats to their readers.
type FileExtractor struct {
	readers map[string]DocumentReader
}

// NewFileExtractor registers the built-in document readers
func NewFileExtractor() *FileExtractor {
	return &FileExtractor{
		readers: map[string]DocumentReader{
			".docx": readDOCX,
			".html": readHTML,
			".htm":  readHTML,
		},
	}
}

// Register adds or replaces the reader for an extension
func (e *FileExtractor) Register(ext string, reader DocumentReader) {
	e.readers[strings.ToLower(ext)] = reader
}

// Extract implements Extractor
func (e *FileExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	if reader, ok := e.readers[strings.ToLower(filepath.Ext(path))]; ok {
		text, err := reader(f, info.Size())
		if errors.Is(err, ErrUnsupported) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return &Document{Text: text, TrackLines: false}, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !IsText(data) {
		return nil, nil
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return &Document{Text: text, TrackLines: true}, nil
}

// IsText reports whether the leading bytes look like UTF-8 text
func IsText(data []byte) bool {
	head := data
	if len(head) > sniffSize {
		head = head[:sniffSize]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	// Trim a possibly truncated trailing rune before validating.
	for i := 0; i < utf8.UTFMax && len(head) > 0 && !utf8.Valid(head); i++ {
		head = head[:len(head)-1]
	}
	return utf8.Valid(head)
}
