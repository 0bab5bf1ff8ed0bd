package filter

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/kbsync/internal/ecosystem"
)

// Built-in priorities. Lower runs first.
const (
	PriorityIgnoreRules = 10
	PriorityBinary      = 20
	PrioritySize        = 30
	PriorityEcosystem   = 40
	PriorityUserRegex   = 50
)

// Context carries what filters need to know about one candidate path. It is
// built per evaluation and never persisted.
type Context struct {
	RootPath   string
	RelPath    string // slash separated, relative to RootPath
	FileName   string
	Extension  string // lower case, including the dot
	Ecosystems []ecosystem.Tag
	SizeBytes  int64 // -1 when unknown
	Metadata   map[string]string
}

// Filter decides whether a path is excluded from indexing
type Filter interface {
	Name() string
	Priority() int
	ShouldExclude(path string, isDir bool, ctx *Context) bool
}

// Chain evaluates filters in ascending priority and stops at the first
// exclusion.
type Chain struct {
	filters   []Filter
	ecosystem *ecosystem.Detector
	logger    *slog.Logger
}

// NewChain orders filters by priority. detector may be nil, in which case
// contexts carry no ecosystem tags.
func NewChain(detector *ecosystem.Detector, logger *slog.Logger, filters ...Filter) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]Filter, len(filters))
	copy(sorted, filters)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return &Chain{filters: sorted, ecosystem: detector, logger: logger}
}

// Filters returns the filters in evaluation order
func (c *Chain) Filters() []Filter {
	return c.filters
}

// NewContext builds the evaluation context for path below root
func (c *Chain) NewContext(root, path string, isDir bool, size int64) *Context {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	name := filepath.Base(path)
	ctx := &Context{
		RootPath:  root,
		RelPath:   filepath.ToSlash(rel),
		FileName:  name,
		Extension: strings.ToLower(filepath.Ext(name)),
		SizeBytes: size,
	}
	if c.ecosystem != nil {
		dir := path
		if !isDir {
			dir = filepath.Dir(path)
		}
		ctx.Ecosystems = c.ecosystem.TagsFor(root, dir)
	}
	return ctx
}

// ShouldExclude runs the chain. The chain root itself is never excluded.
func (c *Chain) ShouldExclude(path string, isDir bool, ctx *Context) bool {
	if filepath.Clean(path) == filepath.Clean(ctx.RootPath) {
		return false
	}
	for _, f := range c.filters {
		if f.ShouldExclude(path, isDir, ctx) {
			c.logger.Debug("path excluded", slog.String("path", path), slog.String("filter", f.Name()))
			return true
		}
	}
	return false
}

// Excluded builds a context and runs the chain in one call
func (c *Chain) Excluded(root, path string, isDir bool, size int64) bool {
	return c.ShouldExclude(path, isDir, c.NewContext(root, path, isDir, size))
}
