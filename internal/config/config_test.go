package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500, cfg.Chunking.MinChunkSize)
	assert.Equal(t, 6000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, BackendSQLite, cfg.Backend.Vector)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kbsync.yaml")
	yml := `
data_dir: ` + dir + `
chunking:
  min_chunk_size: 100
  max_chunk_size: 2000
indexing:
  batch_size: 8
  exclude_patterns: ["\\.log$"]
watcher:
  debounce: 50ms
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv(EnvEmbeddingProvider, "local")
	t.Setenv(EnvQdrantPort, "7000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 100, cfg.Chunking.MinChunkSize)
	assert.Equal(t, 2000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 8, cfg.Indexing.BatchSize)
	assert.Equal(t, []string{`\.log$`}, cfg.Indexing.ExcludePatterns)
	assert.Equal(t, 50*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 7000, cfg.Backend.Qdrant.Port)
}

func TestValidateClampsChunkBounds(t *testing.T) {
	cfg := Default()
	cfg.Chunking.MinChunkSize = 9000
	cfg.Chunking.MaxChunkSize = 1000
	cfg.Chunking.CharsPerToken = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Chunking.MinChunkSize)
	assert.Equal(t, 1000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 4.0, cfg.Chunking.CharsPerToken)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Backend.Vector = "pinecone"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestProjectDBPath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	assert.Equal(t, "/data/projects/my_proj_1.db", cfg.ProjectDBPath("my/proj 1"))
	assert.Equal(t, "default", SanitizeProjectID(""))
}
