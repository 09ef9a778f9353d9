// Package config provides configuration loading and structs for the passage server and CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/passage/internal/models"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file settings,
// e.g. PASSAGE_EMBEDDING_PROVIDER or PASSAGE_CHUNKING_CHUNK_SIZE.
const EnvPrefix = "passage"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Documents DocumentsConfig `yaml:"documents"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DocumentsConfig names the source directory and the file types ingested from it.
type DocumentsConfig struct {
	Path       string   `yaml:"path"`
	Extensions []string `yaml:"extensions"`
}

// StorageConfig holds the index directory and the optional S3 mirror.
type StorageConfig struct {
	IndexPath string   `yaml:"index_path" split_words:"true"`
	S3        S3Config `yaml:"s3"`
}

// S3Config configures the remote mirror. An empty bucket disables it.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" split_words:"true"`
	SecretAccessKey string `yaml:"secret_access_key" split_words:"true"`
	UsePathStyle    bool   `yaml:"use_path_style" split_words:"true"`
}

// Enabled reports whether a mirror bucket is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	APIKey            string  `yaml:"api_key" split_words:"true"`
	BaseURL           string  `yaml:"base_url" split_words:"true"`
	BatchSize         int     `yaml:"batch_size" split_words:"true"`
	Concurrency       int     `yaml:"concurrency"`
	MaxRetries        int     `yaml:"max_retries" split_words:"true"`
	RequestsPerSecond float64 `yaml:"requests_per_second" split_words:"true"`
	CacheSize         int     `yaml:"cache_size" split_words:"true"`
	ModelPath         string  `yaml:"model_path" split_words:"true"`
	MaxTokens         int     `yaml:"max_tokens" split_words:"true"`
}

// ChunkingConfig holds chunk window settings. ChunkOverlap is a pointer so an
// explicit zero survives ApplyDefaults.
type ChunkingConfig struct {
	ChunkSize    int    `yaml:"chunk_size" split_words:"true"`
	ChunkOverlap *int   `yaml:"chunk_overlap" split_words:"true"`
	Tokenizer    string `yaml:"tokenizer"`
}

// Overlap returns the configured overlap, or DefaultChunkOverlap when unset.
func (c ChunkingConfig) Overlap() int {
	if c.ChunkOverlap != nil {
		return *c.ChunkOverlap
	}
	return DefaultChunkOverlap
}

// SearchConfig holds query defaults and limits.
type SearchConfig struct {
	DefaultK      int     `yaml:"default_k" split_words:"true"`
	ContextK      int     `yaml:"context_k" split_words:"true"`
	MaxK          int     `yaml:"max_k" split_words:"true"`
	MinSimilarity float64 `yaml:"min_similarity" split_words:"true"`
}

// WatchConfig controls automatic re-ingestion when the documents directory changes.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// TelemetryConfig configures error reporting. An empty DSN disables it.
type TelemetryConfig struct {
	SentryDSN   string `yaml:"sentry_dsn" split_words:"true"`
	Environment string `yaml:"environment"`
}

// Load reads the config file at path, applies environment overrides and defaults, expands
// paths and validates the result. A missing file is not an error: defaults are used and
// relative paths resolve against the current directory.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := filepath.Dir(path)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		if wd, werr := os.Getwd(); werr == nil {
			configDir = wd
		}
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Documents.Path = expandPath(cfg.Documents.Path, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays PASSAGE_* environment variables onto cfg. OPENAI_API_KEY is used
// when no key is configured otherwise.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return models.WrapError(models.KindInvalidConfiguration, "invalid environment override", err)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// Validate rejects settings the chunker, index or search cannot work with.
func (c *Config) Validate() error {
	size, overlap := c.Chunking.ChunkSize, c.Chunking.Overlap()
	if size <= 0 {
		return models.Errorf(models.KindInvalidConfiguration, "chunk_size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return models.Errorf(models.KindInvalidConfiguration,
			"chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d", overlap, size)
	}
	if c.Embedding.Dimensions <= 0 {
		return models.Errorf(models.KindInvalidConfiguration, "embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize <= 0 {
		return models.Errorf(models.KindInvalidConfiguration, "embedding batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Search.MaxK <= 0 {
		return models.Errorf(models.KindInvalidConfiguration, "search max_k must be positive, got %d", c.Search.MaxK)
	}
	if c.Search.DefaultK <= 0 || c.Search.DefaultK > c.Search.MaxK {
		return models.Errorf(models.KindInvalidConfiguration,
			"search default_k must be in [1, %d], got %d", c.Search.MaxK, c.Search.DefaultK)
	}
	if c.Search.ContextK <= 0 || c.Search.ContextK > c.Search.MaxK {
		return models.Errorf(models.KindInvalidConfiguration,
			"search context_k must be in [1, %d], got %d", c.Search.MaxK, c.Search.ContextK)
	}
	if err := models.ValidateMinSimilarity(c.Search.MinSimilarity); err != nil {
		return models.WrapError(models.KindInvalidConfiguration, "invalid search min_similarity", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return models.Errorf(models.KindInvalidConfiguration, "server port out of range: %d", c.Server.Port)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
