package config

import "time"

// Chunking defaults, in tokens.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultExtensions lists the document types ingested when none are configured.
var DefaultExtensions = []string{
	".pdf", ".docx", ".txt", ".md", ".html", ".htm", ".rst", ".xlsx", ".pptx", ".odp", ".ods",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Documents.Path == "" {
		cfg.Documents.Path = "./data/documents"
	}
	if cfg.Documents.Extensions == nil {
		cfg.Documents.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "./data/vector_db"
	}
	if cfg.Storage.S3.Prefix == "" {
		cfg.Storage.S3.Prefix = "passage"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 1
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = DefaultChunkSize
	}
	// An explicit zero overlap is kept.
	if cfg.Chunking.ChunkOverlap == nil {
		o := DefaultChunkOverlap
		cfg.Chunking.ChunkOverlap = &o
	}
	if cfg.Chunking.Tokenizer == "" {
		cfg.Chunking.Tokenizer = "word"
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 5
	}
	if cfg.Search.ContextK == 0 {
		cfg.Search.ContextK = 3
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = "development"
	}
}
