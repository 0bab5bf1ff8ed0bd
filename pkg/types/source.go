package types

import (
	"fmt"
	"path/filepath"
)

// SourceKind identifies the family of a knowledge source.
// It namespaces persisted state so clearing one kind never touches another.
type SourceKind string

const (
	SourceFolders SourceKind = "folders"
	SourceFiles   SourceKind = "files"
	SourceURLs    SourceKind = "urls"
)

// ParseSourceKind converts a user supplied string into a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceFolders, SourceFiles, SourceURLs:
		return SourceKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceKind, s)
	}
}

// KnowledgeSourceConfig describes what to index. The set of variants is
// closed: FolderSource, FileListSource and URLListSource.
type KnowledgeSourceConfig interface {
	Kind() SourceKind
	Validate() error
	sealed()
}

// FolderSource indexes every file reachable under Root.
type FolderSource struct {
	Root string
}

func (FolderSource) Kind() SourceKind { return SourceFolders }
func (FolderSource) sealed()          {}

// Validate requires an absolute root path.
func (f FolderSource) Validate() error {
	if f.Root == "" {
		return fmt.Errorf("%w: folder root is empty", ErrInvalidSource)
	}
	if !filepath.IsAbs(f.Root) {
		return fmt.Errorf("%w: folder root %q must be absolute", ErrInvalidSource, f.Root)
	}
	return nil
}

// FileListSource indexes an explicit list of files.
type FileListSource struct {
	Paths []string
}

func (FileListSource) Kind() SourceKind { return SourceFiles }
func (FileListSource) sealed()          {}

func (f FileListSource) Validate() error {
	for _, p := range f.Paths {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%w: file path %q must be absolute", ErrInvalidSource, p)
		}
	}
	return nil
}

// URLListSource indexes the text content of remote documents.
type URLListSource struct {
	URLs []string
}

func (URLListSource) Kind() SourceKind { return SourceURLs }
func (URLListSource) sealed()          {}

func (u URLListSource) Validate() error {
	for _, raw := range u.URLs {
		if raw == "" {
			return fmt.Errorf("%w: empty url", ErrInvalidSource)
		}
	}
	return nil
}
