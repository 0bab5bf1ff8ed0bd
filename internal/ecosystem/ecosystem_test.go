package ecosystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestDetectMarkers(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "build.gradle.kts"))
	touch(t, filepath.Join(root, "package.json"))
	touch(t, filepath.Join(root, "App.csproj"))

	d := NewDetector(0, nil)
	assert.ElementsMatch(t, []Tag{Gradle, Node, DotNet}, d.Detect(root))
}

func TestPolyglotUnion(t *testing.T) {
	tags := []Tag{Gradle, Node}
	assert.True(t, Excludes(tags, "build"))
	assert.True(t, Excludes(tags, "node_modules"))
	assert.False(t, Excludes(tags, "src"))
	assert.Contains(t, Exclusions(tags), ".gradle")
}

func TestEggInfoSuffix(t *testing.T) {
	assert.True(t, Excludes([]Tag{Python}, "mypkg.egg-info"))
}

func TestTagsForNestedProject(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "go.mod"))
	touch(t, filepath.Join(root, "web", "package.json"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "web", "src"), 0o755))

	d := NewDetector(16, nil)
	assert.Equal(t, []Tag{Go}, d.TagsFor(root, root))
	assert.ElementsMatch(t, []Tag{Go, Node}, d.TagsFor(root, filepath.Join(root, "web", "src")))
}

func TestNoMarkers(t *testing.T) {
	d := NewDetector(16, nil)
	assert.Empty(t, d.Detect(t.TempDir()))
	assert.Empty(t, d.Detect(filepath.Join(t.TempDir(), "missing")))
}
