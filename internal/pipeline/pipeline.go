// Package pipeline ties document collection, embedding and the vector index together.
//
// A Pipeline is built once by the entry point and shared by the HTTP server, the
// directory watcher and CLI commands. Ingest calls are serialized; searches run
// concurrently against the index.
package pipeline

import (
	"context"
	"sync"

	"github.com/hyperjump/passage/internal/embedding"
	"github.com/hyperjump/passage/internal/indexer"
	"github.com/hyperjump/passage/internal/models"
	"github.com/hyperjump/passage/internal/storage"
	"go.uber.org/zap"
)

// Index is the vector store the pipeline writes to and searches.
type Index interface {
	Replace(ctx context.Context, documents []string, metadata []models.ChunkMetadata, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*models.SearchResult, error)
	Save(ctx context.Context) error
	Clear()
	Size() int
	Dimension() int
	Stats() models.IndexStats
}

// Options holds the settings a pipeline needs beyond its collaborators.
type Options struct {
	DocumentsPath string
	BatchSize     int
	Concurrency   int
	MaxK          int
	Retry         embedding.RetryPolicy
}

// Pipeline is the retrieval pipeline: ingest, search, context and stats.
type Pipeline struct {
	opts      Options
	collector *indexer.Collector
	embedder  embedding.Embedder
	index     Index
	logger    *zap.Logger

	ingestMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New wires a pipeline. The embedder and the index must agree on the vector dimension.
func New(opts Options, collector *indexer.Collector, embedder embedding.Embedder, index Index, options ...Option) (*Pipeline, error) {
	if collector == nil || embedder == nil || index == nil {
		return nil, models.NewError(models.KindInvalidConfiguration, "collector, embedder and index are required")
	}
	if embedder.Dimensions() != index.Dimension() {
		return nil, models.Errorf(models.KindInvalidConfiguration,
			"embedder dimension %d does not match index dimension %d", embedder.Dimensions(), index.Dimension())
	}
	if opts.BatchSize <= 0 {
		return nil, models.Errorf(models.KindInvalidConfiguration, "batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	p := &Pipeline{
		opts:      opts,
		collector: collector,
		embedder:  embedder,
		index:     index,
		logger:    zap.NewNop(),
	}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

// Stats reports index, chunking and embedding settings and the on-disk footprint.
func (p *Pipeline) Stats() models.PipelineStats {
	is := p.index.Stats()
	chunker := p.collector.Chunker()
	stats := models.PipelineStats{
		IndexStats:     is,
		EmbeddingModel: p.embedder.Model(),
		ChunkSize:      chunker.ChunkSize(),
		ChunkOverlap:   chunker.ChunkOverlap(),
		Tokenizer:      chunker.Tokenizer(),
		DocumentsPath:  p.opts.DocumentsPath,
	}
	if is.StoragePath != "" {
		if n, err := storage.DiskUsageBytes(is.StoragePath); err == nil {
			stats.DiskUsageBytes = n
		} else {
			p.logger.Debug("disk usage unavailable", zap.String("path", is.StoragePath), zap.Error(err))
		}
	}
	return stats
}

// Clear empties the index. The empty index is written to storage only when persist is set.
func (p *Pipeline) Clear(ctx context.Context, persist bool) error {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()
	p.index.Clear()
	p.logger.Info("index cleared", zap.Bool("persist", persist))
	if !persist {
		return nil
	}
	return p.index.Save(ctx)
}
