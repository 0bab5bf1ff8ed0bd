package filter

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/dshills/kbsync/internal/ecosystem"
	"github.com/dshills/kbsync/internal/ignore"
)

// IgnoreRuleFilter applies gitignore-style rules
type IgnoreRuleFilter struct {
	resolver *ignore.Resolver
}

// NewIgnoreRuleFilter wraps resolver
func NewIgnoreRuleFilter(resolver *ignore.Resolver) *IgnoreRuleFilter {
	return &IgnoreRuleFilter{resolver: resolver}
}

func (f *IgnoreRuleFilter) Name() string  { return "ignore-rules" }
func (f *IgnoreRuleFilter) Priority() int { return PriorityIgnoreRules }

func (f *IgnoreRuleFilter) ShouldExclude(path string, isDir bool, ctx *Context) bool {
	return f.resolver.IsIgnored(ctx.RootPath, path, isDir)
}

// binaryExtensions are never worth extracting text from
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true, ".webp": true, ".tiff": true,
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".bz2": true, ".xz": true, ".7z": true, ".rar": true, ".jar": true, ".war": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true, ".o": true, ".obj": true, ".class": true, ".pyc": true, ".wasm": true, ".bin": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
	".db": true, ".sqlite": true, ".sqlite3": true, ".lock": true,
	".psd": true, ".ai": true, ".sketch": true,
}

// BinaryFilter excludes hidden entries and files with binary extensions
type BinaryFilter struct{}

func (BinaryFilter) Name() string  { return "binary-hidden" }
func (BinaryFilter) Priority() int { return PriorityBinary }

func (BinaryFilter) ShouldExclude(path string, isDir bool, ctx *Context) bool {
	if strings.HasPrefix(ctx.FileName, ".") && ctx.FileName != "." {
		return true
	}
	if isDir {
		return false
	}
	return binaryExtensions[ctx.Extension]
}

// SizeFilter excludes files larger than a threshold
type SizeFilter struct {
	MaxBytes int64
}

func (f SizeFilter) Name() string  { return "size" }
func (f SizeFilter) Priority() int { return PrioritySize }

func (f SizeFilter) ShouldExclude(path string, isDir bool, ctx *Context) bool {
	if isDir || f.MaxBytes <= 0 {
		return false
	}
	size := ctx.SizeBytes
	if size < 0 {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		size = info.Size()
		ctx.SizeBytes = size
	}
	return size > f.MaxBytes
}

// EcosystemFilter excludes build output and dependency directories of the
// detected project types. Files are excluded when any ancestor directory
// below the root matches.
type EcosystemFilter struct{}

func (EcosystemFilter) Name() string  { return "ecosystem" }
func (EcosystemFilter) Priority() int { return PriorityEcosystem }

func (EcosystemFilter) ShouldExclude(path string, isDir bool, ctx *Context) bool {
	if len(ctx.Ecosystems) == 0 {
		return false
	}
	parts := strings.Split(ctx.RelPath, "/")
	if !isDir {
		parts = parts[:len(parts)-1]
	}
	for _, part := range parts {
		if ecosystem.Excludes(ctx.Ecosystems, part) {
			return true
		}
	}
	return false
}

// RegexFilter excludes paths whose slash-separated relative path matches
// any user supplied expression
type RegexFilter struct {
	patterns []*regexp.Regexp
}

// NewRegexFilter compiles patterns
func NewRegexFilter(patterns []string) (*RegexFilter, error) {
	f := &RegexFilter{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func (f *RegexFilter) Name() string  { return "user-regex" }
func (f *RegexFilter) Priority() int { return PriorityUserRegex }

func (f *RegexFilter) ShouldExclude(path string, isDir bool, ctx *Context) bool {
	for _, re := range f.patterns {
		if re.MatchString(ctx.RelPath) {
			return true
		}
	}
	return false
}
