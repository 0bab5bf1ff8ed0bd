package ignore

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of repositories whose rules stay cached
const DefaultCacheSize = 64

// Options configures a Resolver
type Options struct {
	// FileNames lists the per-directory ignore files to read, in order.
	FileNames []string
	// UseGlobal loads core.excludesfile, the system gitconfig excludes and
	// $XDG_CONFIG_HOME/git/ignore.
	UseGlobal bool
	CacheSize int
	Logger    *slog.Logger
}

// Resolver answers "is this path ignored" for any path inside a repository,
// loading ignore files lazily per directory.
type Resolver struct {
	fileNames []string
	global    []Rule
	cache     *lru.Cache[string, *RuleSet]
	logger    *slog.Logger

	mu    sync.Mutex
	roots map[string]string // directory -> repository root
}

// NewResolver creates a resolver. Failing to read global ignore files is
// logged and otherwise ignored.
func NewResolver(opts Options) *Resolver {
	if len(opts.FileNames) == 0 {
		opts.FileNames = []string{".gitignore"}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cache, _ := lru.New[string, *RuleSet](opts.CacheSize)

	r := &Resolver{
		fileNames: opts.FileNames,
		cache:     cache,
		logger:    opts.Logger,
		roots:     make(map[string]string),
	}
	if opts.UseGlobal {
		r.global = loadGlobalRules(opts.Logger)
	}
	return r
}

func loadGlobalRules(logger *slog.Logger) []Rule {
	rootFS := osfs.New("/")
	var rules []Rule

	if patterns, err := gitignore.LoadSystemPatterns(rootFS); err != nil {
		logger.Debug("system ignore patterns unavailable", slog.String("error", err.Error()))
	} else {
		rules = append(rules, fromPatterns(patterns, "system gitconfig")...)
	}

	if path := xdgIgnorePath(); path != "" {
		if f, err := os.Open(path); err == nil {
			parsed, perr := ParseRules(f, nil, path)
			_ = f.Close()
			if perr != nil {
				logger.Warn("failed to read global ignore file", slog.String("path", path), slog.String("error", perr.Error()))
			}
			rules = append(rules, parsed...)
		}
	}

	if patterns, err := gitignore.LoadGlobalPatterns(rootFS); err != nil {
		logger.Debug("global ignore patterns unavailable", slog.String("error", err.Error()))
	} else {
		rules = append(rules, fromPatterns(patterns, "core.excludesfile")...)
	}
	return rules
}

func xdgIgnorePath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "git", "ignore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "git", "ignore")
}

// RepositoryRoot returns the nearest ancestor of dir (inclusive) containing
// a .git entry, or dir itself when there is none.
func (r *Resolver) RepositoryRoot(dir string) string {
	dir = filepath.Clean(dir)

	r.mu.Lock()
	if root, ok := r.roots[dir]; ok {
		r.mu.Unlock()
		return root
	}
	r.mu.Unlock()

	root := dir
	for cur := dir; ; {
		if _, err := os.Lstat(filepath.Join(cur, ".git")); err == nil {
			root = cur
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}

	r.mu.Lock()
	r.roots[dir] = root
	r.mu.Unlock()
	return root
}

// Rules returns the cached rule set of a repository, creating it on demand.
func (r *Resolver) Rules(repoRoot string) *RuleSet {
	repoRoot = filepath.Clean(repoRoot)
	if rs, ok := r.cache.Get(repoRoot); ok {
		return rs
	}
	rs := newRuleSet(repoRoot, r.fileNames, r.global, r.logger)
	r.cache.Add(repoRoot, rs)
	return rs
}

// IsIgnored reports whether path (absolute) is excluded by the ignore rules
// of the repository containing sourceRoot.
func (r *Resolver) IsIgnored(sourceRoot, path string, isDir bool) bool {
	repoRoot := r.RepositoryRoot(sourceRoot)
	rel, err := filepath.Rel(repoRoot, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return r.Rules(repoRoot).Match(rel, isDir)
}

// Invalidate drops cached rules for the repository containing path. It is
// called when an ignore file changes.
func (r *Resolver) Invalidate(path string) {
	repoRoot := r.RepositoryRoot(filepath.Dir(path))
	r.cache.Remove(repoRoot)
}

// IsIgnoreFile reports whether name is one of the configured ignore files.
func (r *Resolver) IsIgnoreFile(name string) bool {
	for _, n := range r.fileNames {
		if n == name {
			return true
		}
	}
	return false
}

// RuleSet holds the rules of one repository, loaded per directory.
type RuleSet struct {
	root      string
	fileNames []string
	global    []Rule
	logger    *slog.Logger

	mu   sync.Mutex
	dirs map[string][]Rule // relative dir ("" for root) -> rules of that dir
}

func newRuleSet(root string, fileNames []string, global []Rule, logger *slog.Logger) *RuleSet {
	return &RuleSet{
		root:      root,
		fileNames: fileNames,
		global:    global,
		logger:    logger,
		dirs:      make(map[string][]Rule),
	}
}

// Match reports whether rel (slash or OS separated, relative to the
// repository root) is ignored.
func (rs *RuleSet) Match(rel string, isDir bool) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	lists := make([][]Rule, 0, len(parts)+2)
	lists = append(lists, rs.global, rs.dirRules(".git/info"))
	for i := 0; i < len(parts); i++ {
		lists = append(lists, rs.dirRules(strings.Join(parts[:i], "/")))
	}
	return evaluate(lists, parts, isDir)
}

func (rs *RuleSet) dirRules(rel string) []Rule {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rules, ok := rs.dirs[rel]; ok {
		return rules
	}

	var domain []string
	if rel != "" && rel != ".git/info" {
		domain = strings.Split(rel, "/")
	}
	names := rs.fileNames
	if rel == ".git/info" {
		names = []string{"exclude"}
	}

	var rules []Rule
	for _, name := range names {
		path := filepath.Join(rs.root, filepath.FromSlash(rel), name)
		f, err := os.Open(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				rs.logger.Warn("failed to open ignore file", slog.String("path", path), slog.String("error", err.Error()))
			}
			continue
		}
		parsed, err := ParseRules(f, domain, path)
		_ = f.Close()
		if err != nil {
			rs.logger.Warn("failed to read ignore file", slog.String("path", path), slog.String("error", err.Error()))
		}
		rules = append(rules, parsed...)
	}
	rs.dirs[rel] = rules
	return rules
}
