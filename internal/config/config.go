package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted after the config file is read
const (
	EnvDataDir           = "KBSYNC_DATA_DIR"
	EnvLogLevel          = "KBSYNC_LOG_LEVEL"
	EnvEmbeddingProvider = "KBSYNC_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "KBSYNC_EMBEDDING_MODEL"
	EnvEmbeddingBaseURL  = "KBSYNC_EMBEDDING_BASE_URL"
	EnvJinaAPIKey        = "JINA_API_KEY"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvVectorBackend     = "KBSYNC_VECTOR_BACKEND"
	EnvKeywordBackend    = "KBSYNC_KEYWORD_BACKEND"
	EnvQdrantHost        = "QDRANT_HOST"
	EnvQdrantPort        = "QDRANT_PORT"
	EnvQdrantAPIKey      = "QDRANT_API_KEY"
	EnvElasticAddr       = "ELASTICSEARCH_ADDR"
	EnvElasticUsername   = "ELASTICSEARCH_USERNAME"
	EnvElasticPassword   = "ELASTICSEARCH_PASSWORD"
)

// Backend names
const (
	BackendSQLite  = "sqlite"
	BackendQdrant  = "qdrant"
	BackendElastic = "elasticsearch"
)

var (
	// ErrInvalidConfig is returned for values that cannot be clamped into range
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the complete runtime configuration
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Backend   BackendConfig   `yaml:"backend"`
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider   string  `yaml:"provider"` // jina, openai, ollama, local
	Model      string  `yaml:"model"`
	APIKey     string  `yaml:"api_key"`
	BaseURL    string  `yaml:"base_url"`
	TokenLimit int     `yaml:"token_limit"` // overrides the provider default when > 0
	CacheSize  int     `yaml:"cache_size"`
	RateLimit  float64 `yaml:"rate_limit"` // batch calls per second, 0 disables
	Burst      int     `yaml:"burst"`
}

// ChunkingConfig bounds chunk sizes in characters
type ChunkingConfig struct {
	MinChunkSize  int     `yaml:"min_chunk_size"`
	MaxChunkSize  int     `yaml:"max_chunk_size"`
	CharsPerToken float64 `yaml:"chars_per_token"`
}

// IndexingConfig tunes the indexing pipeline
type IndexingConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	Workers          int           `yaml:"workers"`
	ProgressEvery    int           `yaml:"progress_every"`
	MaxFileSizeBytes int64         `yaml:"max_file_size_bytes"`
	ExcludePatterns  []string      `yaml:"exclude_patterns"`
	IgnoreFileNames  []string      `yaml:"ignore_file_names"`
	UseGlobalIgnore  bool          `yaml:"use_global_ignore"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
}

// WatcherConfig tunes the file watcher
type WatcherConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// BackendConfig picks the vector and keyword store implementations
type BackendConfig struct {
	Vector        string        `yaml:"vector"`
	Keyword       string        `yaml:"keyword"`
	Qdrant        QdrantConfig  `yaml:"qdrant"`
	Elasticsearch ElasticConfig `yaml:"elasticsearch"`
}

// QdrantConfig configures the remote vector store
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// ElasticConfig configures the remote keyword store
type ElasticConfig struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
}

// Default returns the configuration used when nothing is specified
func Default() *Config {
	dataDir := ".kbsync"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".kbsync")
	}
	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		Embedding: EmbeddingConfig{
			CacheSize: 10000,
			Burst:     1,
		},
		Chunking: ChunkingConfig{
			MinChunkSize:  500,
			MaxChunkSize:  6000,
			CharsPerToken: 4,
		},
		Indexing: IndexingConfig{
			BatchSize:        32,
			ProgressEvery:    10,
			MaxFileSizeBytes: 10 << 20,
			IgnoreFileNames:  []string{".gitignore", ".kbignore"},
			UseGlobalIgnore:  true,
			FetchTimeout:     30 * time.Second,
		},
		Watcher: WatcherConfig{
			Debounce: 300 * time.Millisecond,
		},
		Backend: BackendConfig{
			Vector:  BackendSQLite,
			Keyword: BackendSQLite,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "kbsync",
			},
			Elasticsearch: ElasticConfig{
				Addresses: []string{"http://localhost:9200"},
				Index:     "kbsync",
			},
		},
	}
}

// Load reads the YAML file at path (if non-empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.DataDir, EnvDataDir)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.Embedding.Provider, EnvEmbeddingProvider)
	setString(&c.Embedding.Model, EnvEmbeddingModel)
	setString(&c.Embedding.BaseURL, EnvEmbeddingBaseURL)
	setString(&c.Backend.Vector, EnvVectorBackend)
	setString(&c.Backend.Keyword, EnvKeywordBackend)
	setString(&c.Backend.Qdrant.Host, EnvQdrantHost)
	setString(&c.Backend.Qdrant.APIKey, EnvQdrantAPIKey)
	setString(&c.Backend.Elasticsearch.Username, EnvElasticUsername)
	setString(&c.Backend.Elasticsearch.Password, EnvElasticPassword)

	if v := os.Getenv(EnvQdrantPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Backend.Qdrant.Port = port
		} else {
			slog.Warn("ignoring invalid qdrant port", slog.String("value", v))
		}
	}
	if v := os.Getenv(EnvElasticAddr); v != "" {
		c.Backend.Elasticsearch.Addresses = strings.Split(v, ",")
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate clamps out-of-range values with a warning and rejects values
// that have no sensible fallback.
func (c *Config) Validate() error {
	ch := &c.Chunking
	if ch.CharsPerToken <= 0 {
		slog.Warn("chars_per_token must be positive, using 4", slog.Float64("value", ch.CharsPerToken))
		ch.CharsPerToken = 4
	}
	if ch.MinChunkSize <= 0 {
		slog.Warn("min_chunk_size must be positive, using 500", slog.Int("value", ch.MinChunkSize))
		ch.MinChunkSize = 500
	}
	if ch.MaxChunkSize <= 0 {
		slog.Warn("max_chunk_size must be positive, using 6000", slog.Int("value", ch.MaxChunkSize))
		ch.MaxChunkSize = 6000
	}
	if ch.MinChunkSize > ch.MaxChunkSize {
		slog.Warn("min_chunk_size exceeds max_chunk_size, clamping",
			slog.Int("min", ch.MinChunkSize), slog.Int("max", ch.MaxChunkSize))
		ch.MinChunkSize = ch.MaxChunkSize
	}

	ix := &c.Indexing
	if ix.BatchSize <= 0 {
		slog.Warn("batch_size must be positive, using 32", slog.Int("value", ix.BatchSize))
		ix.BatchSize = 32
	}
	if ix.ProgressEvery <= 0 {
		ix.ProgressEvery = 10
	}
	if ix.MaxFileSizeBytes <= 0 {
		ix.MaxFileSizeBytes = 10 << 20
	}
	if ix.FetchTimeout <= 0 {
		ix.FetchTimeout = 30 * time.Second
	}
	if c.Watcher.Debounce < 0 {
		c.Watcher.Debounce = 0
	}

	switch c.Backend.Vector {
	case "", BackendSQLite:
		c.Backend.Vector = BackendSQLite
	case BackendQdrant:
	default:
		return fmt.Errorf("%w: unknown vector backend %q", ErrInvalidConfig, c.Backend.Vector)
	}
	switch c.Backend.Keyword {
	case "", BackendSQLite:
		c.Backend.Keyword = BackendSQLite
	case BackendElastic:
	default:
		return fmt.Errorf("%w: unknown keyword backend %q", ErrInvalidConfig, c.Backend.Keyword)
	}

	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalidConfig)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProjectDBPath returns the database file for a project
func (c *Config) ProjectDBPath(projectID string) string {
	return filepath.Join(c.DataDir, "projects", SanitizeProjectID(projectID)+".db")
}

// SanitizeProjectID maps a project identifier onto a safe file name
func SanitizeProjectID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
