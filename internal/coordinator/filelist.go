package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/kbsync/internal/content"
	"github.com/dshills/kbsync/internal/filter"
	"github.com/dshills/kbsync/internal/state"
	"github.com/dshills/kbsync/pkg/types"
)

// FileListCoordinator indexes an explicit list of files. Listed files that
// no longer exist are removed from the index.
type FileListCoordinator struct {
	*runner
	paths     []string
	chain     *filter.Chain
	extractor content.Extractor
}

// NewFileListCoordinator creates a coordinator for src
func NewFileListCoordinator(src types.FileListSource, deps Deps) (*FileListCoordinator, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	r, err := newRunner(types.SourceFiles, &deps)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(src.Paths))
	paths := make([]string, 0, len(src.Paths))
	for _, p := range src.Paths {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	c := &FileListCoordinator{runner: r, paths: paths, chain: deps.Chain, extractor: deps.Extractor}
	r.src = c
	return c, nil
}

func (c *FileListCoordinator) enumerate(ctx context.Context, emit func(candidate) error) error {
	for _, path := range c.paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			c.logger.Warn("directory in file list ignored", slog.String("path", path))
			continue
		}
		// Each file is judged relative to its own directory
		if c.chain != nil && c.chain.Excluded(filepath.Dir(path), path, false, info.Size()) {
			continue
		}
		if err := emit(candidate{path: path, size: info.Size(), modTime: info.ModTime().Unix()}); err != nil {
			return err
		}
	}
	return nil
}

func (c *FileListCoordinator) hash(ctx context.Context, cand candidate) (string, bool, error) {
	digest, err := state.HashFile(cand.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return digest, true, nil
}

func (c *FileListCoordinator) extract(ctx context.Context, path string) (*content.Document, error) {
	return c.extractor.Extract(ctx, path)
}
