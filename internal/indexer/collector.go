package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/passage/internal/models"
	"go.uber.org/zap"
)

// TextExtractor turns a file into plain text.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// SourceChunks holds the chunks cut from one document.
type SourceChunks struct {
	Source models.SourceRef
	Chunks []models.Chunk
}

// Collection is the result of walking a documents directory.
type Collection struct {
	Sources []SourceChunks
	Skipped []models.SkippedSource
}

// Chunks returns all chunks in source order.
func (c *Collection) Chunks() []models.Chunk {
	var out []models.Chunk
	for _, s := range c.Sources {
		out = append(out, s.Chunks...)
	}
	return out
}

// Collector walks a documents directory and chunks every supported file.
type Collector struct {
	chunker     *Chunker
	extractor   TextExtractor
	allowedExts []string
	logger      *zap.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLogger sets a logger for per-file events.
func WithLogger(l *zap.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

// WithExtensions restricts collection to the given extensions (with or without dot).
func WithExtensions(exts []string) CollectorOption {
	return func(c *Collector) { c.allowedExts = exts }
}

// NewCollector creates a collector. extractor may be nil; then files are read as plain text.
func NewCollector(chunker *Chunker, extractor TextExtractor, opts ...CollectorOption) *Collector {
	c := &Collector{
		chunker:   chunker,
		extractor: extractor,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunker returns the chunker used for every source.
func (c *Collector) Chunker() *Chunker { return c.chunker }

// Collect walks dir in lexical order. Files that cannot be read or yield no text are
// recorded as skipped. A missing directory is a NoDocumentsFound error.
func (c *Collector) Collect(ctx context.Context, dir string) (*Collection, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.Errorf(models.KindNoDocumentsFound, "documents directory %s does not exist", dir)
		}
		return nil, fmt.Errorf("stat documents directory: %w", err)
	}
	if !info.IsDir() {
		return nil, models.Errorf(models.KindNoDocumentsFound, "documents path %s is not a directory", dir)
	}

	col := &Collection{}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			c.skip(col, path, walkErr.Error())
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if len(c.allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), c.allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are read
		finfo, statErr := os.Stat(path)
		if statErr != nil {
			c.skip(col, path, statErr.Error())
			return nil
		}
		if !finfo.Mode().IsRegular() {
			return nil
		}
		text, extractErr := c.extractContent(path)
		if extractErr != nil {
			c.skip(col, path, extractErr.Error())
			return nil
		}
		src := models.NewSourceRef(path)
		chunks := c.chunker.Chunk(text, src)
		if len(chunks) == 0 {
			c.skip(col, path, "no text content")
			return nil
		}
		col.Sources = append(col.Sources, SourceChunks{Source: src, Chunks: chunks})
		c.logger.Debug("collected document", zap.String("path", path), zap.Int("chunks", len(chunks)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk documents directory: %w", err)
	}
	return col, nil
}

func (c *Collector) skip(col *Collection, path, reason string) {
	c.logger.Warn("skipping document", zap.String("path", path), zap.String("reason", reason))
	col.Skipped = append(col.Skipped, models.SkippedSource{Path: path, Reason: reason})
}

func (c *Collector) extractContent(path string) (string, error) {
	if c.extractor != nil {
		return c.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
