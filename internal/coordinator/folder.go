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

// FolderCoordinator indexes every eligible file below a root directory. It
// also serves single-path updates from the file watcher through the same
// indexer as full runs, so an update racing a run replaces the run's copy
// of the file instead of adding a second one.
type FolderCoordinator struct {
	*runner
	root      string
	chain     *filter.Chain
	extractor content.Extractor
}

// NewFolderCoordinator creates a coordinator for src
func NewFolderCoordinator(src types.FolderSource, deps Deps) (*FolderCoordinator, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	r, err := newRunner(types.SourceFolders, &deps)
	if err != nil {
		return nil, err
	}
	c := &FolderCoordinator{
		runner:    r,
		root:      filepath.Clean(src.Root),
		chain:     deps.Chain,
		extractor: deps.Extractor,
	}
	r.src = c
	return c, nil
}

// Root returns the watched directory
func (c *FolderCoordinator) Root() string { return c.root }

// Excluded reports whether the filter chain rejects path
func (c *FolderCoordinator) Excluded(path string, isDir bool, size int64) bool {
	if c.chain == nil {
		return false
	}
	return c.chain.Excluded(c.root, path, isDir, size)
}

func (c *FolderCoordinator) enumerate(ctx context.Context, emit func(candidate) error) error {
	info, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("folder %s: %w", c.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", types.ErrInvalidSource, c.root)
	}

	return filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == c.root {
				return err
			}
			c.logger.Warn("skipping unreadable path", slog.String("path", path), slog.Any("error", err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != c.root && c.Excluded(path, true, -1) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Excluded(path, false, info.Size()) {
			return nil
		}
		return emit(candidate{path: path, size: info.Size(), modTime: info.ModTime().Unix()})
	})
}

func (c *FolderCoordinator) hash(ctx context.Context, cand candidate) (string, bool, error) {
	digest, err := state.HashFile(cand.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return digest, true, nil
}

func (c *FolderCoordinator) extract(ctx context.Context, path string) (*content.Document, error) {
	return c.extractor.Extract(ctx, path)
}

// IndexPath brings one file up to date. Excluded, unchanged and vanished
// files are no-ops, except that a vanished file is removed.
func (c *FolderCoordinator) IndexPath(ctx context.Context, path string) error {
	if c.closing.Load() {
		return ErrClosed
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c.RemovePath(ctx, path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() || !info.Mode().IsRegular() || c.Excluded(path, false, info.Size()) {
		return nil
	}

	digest, ok, err := c.hash(ctx, candidate{path: path})
	if err != nil || !ok {
		return err
	}
	rec, err := c.state.Record(ctx, path)
	if err != nil {
		return err
	}
	if rec != nil && rec.ContentHash == digest {
		return nil
	}

	item, err := c.prepare(ctx, candidate{path: path, size: info.Size(), modTime: info.ModTime().Unix()}, digest)
	if err != nil {
		return err
	}
	if err := c.apply(ctx, item); err != nil {
		return err
	}
	if item.gone {
		return nil
	}
	if err := c.indexer.FlushRemaining(ctx); err != nil {
		return err
	}
	c.logger.Debug("file updated", slog.String("path", path), slog.Int("segments", len(item.chunks)))
	return nil
}

// RemovePath removes path, or every indexed file below it when path was a
// directory.
func (c *FolderCoordinator) RemovePath(ctx context.Context, path string) error {
	paths, err := c.state.PathsUnder(ctx, filepath.Clean(path))
	if err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := c.indexer.RemoveFile(ctx, p); err != nil {
			return err
		}
	}
	if len(paths) > 0 {
		c.logger.Debug("path removed", slog.String("path", path), slog.Int("files", len(paths)))
	}
	return nil
}
