package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/kbsync/internal/ecosystem"
	"github.com/dshills/kbsync/internal/ignore"
	"github.com/dshills/kbsync/internal/workerpool"
)

// DefaultDebounce is used when Options.Debounce is zero
const DefaultDebounce = 300 * time.Millisecond

// Handler applies file system changes to an index
type Handler interface {
	// Root is the directory to watch
	Root() string

	// Excluded reports whether path should be neither watched nor indexed
	Excluded(path string, isDir bool, size int64) bool

	// IndexPath brings one file up to date, removing it if it vanished
	IndexPath(ctx context.Context, path string) error

	// RemovePath removes a file, or every indexed file below a directory
	RemovePath(ctx context.Context, path string) error
}

// Options tune a watcher
type Options struct {
	Debounce time.Duration
	Pool     *workerpool.Pool    // nil runs handlers on plain goroutines
	Resolver *ignore.Resolver    // invalidated when an ignore file changes
	Detector *ecosystem.Detector // invalidated when a directory's markers change
	Logger   *slog.Logger
}

// Watcher forwards debounced file system events below one root to a Handler
type Watcher struct {
	handler Handler
	root    string
	opts    Options
	logger  *slog.Logger
	fsw     *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	timers  map[string]*time.Timer
	removed map[string]bool // pending path -> last event was a removal
}

// Start registers root recursively and begins delivering events
func Start(ctx context.Context, h Handler, opts Options) (*Watcher, error) {
	root := filepath.Clean(h.Root())
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", root)
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &Watcher{
		handler: h,
		root:    root,
		opts:    opts,
		logger:  logger.With(slog.String("root", root)),
		fsw:     fsw,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[string]*time.Timer),
		removed: make(map[string]bool),
	}

	dirs := w.addRecursive(root, nil)
	w.logger.Info("watching", slog.Int("directories", dirs))

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Root returns the watched directory
func (w *Watcher) Root() string { return w.root }

// Stop closes the file system handles, drops pending events and waits for
// in-flight handlers to observe cancellation. It is idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.cancel()
	w.wg.Wait()
	w.logger.Info("watcher stopped")
	return err
}

// addRecursive registers dir and every non-excluded directory below it.
// Regular files found on the way are passed to found when non-nil.
func (w *Watcher) addRecursive(dir string, found func(path string)) int {
	count := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if found != nil && d.Type().IsRegular() {
				found(path)
			}
			return nil
		}
		if path != w.root && w.handler.Excluded(path, true, -1) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug("cannot watch directory", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		count++
		return nil
	})
	return count
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	path := filepath.Clean(ev.Name)
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return
	}

	w.invalidateCaches(path, ev.Op)

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.schedule(path, true)
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.handler.Excluded(path, true, -1) {
				return
			}
			// Files moved in with the directory produce no events of their own
			w.addRecursive(path, func(file string) { w.schedule(file, false) })
			return
		}
	}
	w.schedule(path, false)
}

// invalidateCaches drops cached ignore rules and ecosystem tags that path
// may have changed.
func (w *Watcher) invalidateCaches(path string, op fsnotify.Op) {
	name := filepath.Base(path)
	if w.opts.Resolver != nil && w.opts.Resolver.IsIgnoreFile(name) {
		w.opts.Resolver.Invalidate(path)
		w.logger.Info("ignore rules changed", slog.String("file", path))
	}
	if w.opts.Detector != nil && op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.opts.Detector.Invalidate(filepath.Dir(path))
	}
}

// schedule (re)arms the debounce timer of path. The last event wins.
func (w *Watcher) schedule(path string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.removed[path] = removed
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() { w.fire(path) })
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	removed := w.removed[path]
	delete(w.removed, path)
	delete(w.timers, path)
	w.wg.Add(1)
	w.mu.Unlock()

	task := func() {
		defer w.wg.Done()
		w.apply(path, removed)
	}
	if w.opts.Pool == nil {
		go task()
		return
	}
	if err := w.opts.Pool.Submit(task); err != nil {
		w.wg.Done()
		w.logger.Warn("dropping change", slog.String("path", path), slog.Any("error", err))
	}
}

func (w *Watcher) apply(path string, removed bool) {
	if w.ctx.Err() != nil {
		return
	}

	var err error
	if _, statErr := os.Lstat(path); removed && errors.Is(statErr, fs.ErrNotExist) {
		err = w.handler.RemovePath(w.ctx, path)
	} else {
		// Also covers a removal followed by a recreate within the window
		err = w.handler.IndexPath(w.ctx, path)
	}

	switch {
	case err == nil:
		w.logger.Debug("change applied", slog.String("path", path), slog.Bool("removed", removed))
	case errors.Is(err, context.Canceled):
	default:
		w.logger.Warn("applying change failed", slog.String("path", path), slog.Any("error", err))
	}
}
