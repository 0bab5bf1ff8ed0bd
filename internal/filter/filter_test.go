package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kbsync/internal/config"
	"github.com/dshills/kbsync/internal/ecosystem"
	"github.com/dshills/kbsync/internal/ignore"
)

type recordingFilter struct {
	name     string
	priority int
	exclude  bool
	calls    *[]string
}

func (f recordingFilter) Name() string  { return f.name }
func (f recordingFilter) Priority() int { return f.priority }
func (f recordingFilter) ShouldExclude(path string, isDir bool, ctx *Context) bool {
	*f.calls = append(*f.calls, f.name)
	return f.exclude
}

func TestChainOrdersByPriorityAndShortCircuits(t *testing.T) {
	var calls []string
	chain := NewChain(nil, nil,
		recordingFilter{name: "late", priority: 50, calls: &calls},
		recordingFilter{name: "early", priority: 10, calls: &calls},
		recordingFilter{name: "middle", priority: 20, exclude: true, calls: &calls},
	)

	excluded := chain.Excluded("/root", "/root/a.txt", false, 1)
	assert.True(t, excluded)
	assert.Equal(t, []string{"early", "middle"}, calls)
}

func TestChainNeverExcludesRoot(t *testing.T) {
	var calls []string
	chain := NewChain(nil, nil, recordingFilter{name: "all", priority: 1, exclude: true, calls: &calls})
	assert.False(t, chain.Excluded("/root/.hidden", "/root/.hidden", true, -1))
	assert.Empty(t, calls)
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	files := map[string]string{
		".gitignore":            "*.log\n",
		"package.json":          "{}",
		"docs/guide.md":         "# guide",
		"docs/debug.log":        "log",
		"node_modules/x/i.js":   "x",
		"drafts/wip.md":         "wip",
		"assets/logo.png":       "png",
		"big.txt":               "0123456789ABCDEF",
		"web/node_modules/a.js": "a",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestDefaultChain(t *testing.T) {
	root := newProject(t)
	cfg := config.Default()
	cfg.Indexing.MaxFileSizeBytes = 10
	cfg.Indexing.ExcludePatterns = []string{`^drafts/`}

	chain, err := Default(cfg, ignore.NewResolver(ignore.Options{}), ecosystem.NewDetector(16, nil), nil)
	require.NoError(t, err)

	tests := []struct {
		rel      string
		isDir    bool
		excluded bool
	}{
		{"docs/guide.md", false, false},
		{"docs/debug.log", false, true},
		{"node_modules", true, true},
		{"node_modules/x/i.js", false, true},
		{"web/node_modules/a.js", false, true},
		{"drafts/wip.md", false, true},
		{"assets/logo.png", false, true},
		{".gitignore", false, true},
		{".git", true, true},
		{"big.txt", false, true},
		{"docs", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			path := filepath.Join(root, filepath.FromSlash(tt.rel))
			assert.Equal(t, tt.excluded, chain.Excluded(root, path, tt.isDir, -1))
		})
	}
}

func TestIgnoreRuleWinsOverLaterFilters(t *testing.T) {
	root := newProject(t)
	cfg := config.Default()
	chain, err := Default(cfg, ignore.NewResolver(ignore.Options{}), nil, nil)
	require.NoError(t, err)

	ctx := chain.NewContext(root, filepath.Join(root, "docs", "debug.log"), false, 3)
	for _, f := range chain.Filters() {
		if f.ShouldExclude(filepath.Join(root, "docs", "debug.log"), false, ctx) {
			assert.Equal(t, "ignore-rules", f.Name())
			break
		}
	}
}

func TestRegexFilterRejectsBadPattern(t *testing.T) {
	_, err := NewRegexFilter([]string{"("})
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	chain := NewChain(nil, nil)
	ctx := chain.NewContext("/r", "/r/a/B.MD", false, 5)
	assert.Equal(t, "a/B.MD", ctx.RelPath)
	assert.Equal(t, "B.MD", ctx.FileName)
	assert.Equal(t, ".md", ctx.Extension)
	assert.Equal(t, int64(5), ctx.SizeBytes)
}
