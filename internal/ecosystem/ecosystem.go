package ecosystem

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Tag names a build ecosystem detected from marker files
type Tag string

const (
	Gradle Tag = "gradle"
	Maven  Tag = "maven"
	Node   Tag = "node"
	Python Tag = "python"
	Rust   Tag = "rust"
	Go     Tag = "go"
	DotNet Tag = "dotnet"
	Dart   Tag = "dart"
	PHP    Tag = "php"
	Ruby   Tag = "ruby"
)

type marker struct {
	name string // exact file name, or a "*.ext" suffix pattern
	tag  Tag
}

var markers = []marker{
	{"build.gradle", Gradle},
	{"build.gradle.kts", Gradle},
	{"settings.gradle", Gradle},
	{"settings.gradle.kts", Gradle},
	{"pom.xml", Maven},
	{"package.json", Node},
	{"pyproject.toml", Python},
	{"requirements.txt", Python},
	{"setup.py", Python},
	{"Pipfile", Python},
	{"Cargo.toml", Rust},
	{"go.mod", Go},
	{"*.csproj", DotNet},
	{"*.sln", DotNet},
	{"pubspec.yaml", Dart},
	{"composer.json", PHP},
	{"Gemfile", Ruby},
}

// exclusions lists the output and dependency directories of each ecosystem
var exclusions = map[Tag][]string{
	Gradle: {"build", ".gradle", "out"},
	Maven:  {"target"},
	Node:   {"node_modules", "dist", ".next", ".nuxt", "coverage", ".turbo"},
	Python: {"__pycache__", ".venv", "venv", ".tox", ".pytest_cache", ".mypy_cache", "*.egg-info"},
	Rust:   {"target"},
	Go:     {"vendor"},
	DotNet: {"bin", "obj"},
	Dart:   {".dart_tool", "build"},
	PHP:    {"vendor"},
	Ruby:   {".bundle", "vendor"},
}

// Exclusions returns the union of directory names excluded by tags
func Exclusions(tags []Tag) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tag := range tags {
		for _, dir := range exclusions[tag] {
			if !seen[dir] {
				seen[dir] = true
				out = append(out, dir)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Excludes reports whether a directory name is excluded by any of tags
func Excludes(tags []Tag, name string) bool {
	for _, tag := range tags {
		for _, pattern := range exclusions[tag] {
			if pattern == name {
				return true
			}
			if strings.HasPrefix(pattern, "*") && strings.HasSuffix(name, pattern[1:]) {
				return true
			}
		}
	}
	return false
}

// Detector finds ecosystem tags for directories, caching per directory.
type Detector struct {
	cache  *lru.Cache[string, []Tag]
	logger *slog.Logger
}

// NewDetector creates a detector holding up to size cached directories
func NewDetector(size int, logger *slog.Logger) *Detector {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, []Tag](size)
	return &Detector{cache: cache, logger: logger}
}

// Detect returns the tags whose marker files are present directly in dir
func (d *Detector) Detect(dir string) []Tag {
	dir = filepath.Clean(dir)
	if tags, ok := d.cache.Get(dir); ok {
		return tags
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		d.logger.Debug("ecosystem detection skipped", slog.String("dir", dir), slog.String("error", err.Error()))
		return nil
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = true
		}
	}

	found := make(map[Tag]bool)
	for _, m := range markers {
		if strings.HasPrefix(m.name, "*") {
			for name := range names {
				if strings.HasSuffix(name, m.name[1:]) {
					found[m.tag] = true
					break
				}
			}
			continue
		}
		if names[m.name] {
			found[m.tag] = true
		}
	}

	tags := make([]Tag, 0, len(found))
	for tag := range found {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	d.cache.Add(dir, tags)
	return tags
}

// TagsFor unions the tags of root and every directory between root and dir,
// so nested sub-projects of a polyglot repository contribute their own
// exclusions.
func (d *Detector) TagsFor(root, dir string) []Tag {
	root = filepath.Clean(root)
	dir = filepath.Clean(dir)

	seen := make(map[Tag]bool)
	var out []Tag
	add := func(tags []Tag) {
		for _, t := range tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}

	add(d.Detect(root))
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return out
	}
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		add(d.Detect(cur))
	}
	return out
}

// Invalidate forgets the cached tags of dir
func (d *Detector) Invalidate(dir string) {
	d.cache.Remove(filepath.Clean(dir))
}
