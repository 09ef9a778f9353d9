package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/passage/internal/embedding"
	"github.com/hyperjump/passage/internal/models"
	"github.com/hyperjump/passage/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ingest rebuilds the index from the documents directory. When the index already has
// entries and forceRebuild is false it reports the current state and changes nothing.
//
// Chunks whose embedding fails are left out of the index and counted in the report.
// If no chunk can be embedded the previous index is kept and an EmbedError is returned.
func (p *Pipeline) Ingest(ctx context.Context, forceRebuild bool) (*models.IngestReport, error) {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()
	start := time.Now()

	if !forceRebuild && p.index.Size() > 0 {
		report := p.reportFromIndex(start)
		report.Success = true
		report.AlreadyPopulated = true
		report.Message = "index already populated; use force_rebuild to rebuild"
		return report, nil
	}

	p.logger.Info("ingest started", zap.String("path", p.opts.DocumentsPath), zap.Bool("force", forceRebuild))
	col, err := p.collector.Collect(ctx, p.opts.DocumentsPath)
	if err != nil {
		return nil, err
	}
	chunks := col.Chunks()
	if len(chunks) == 0 {
		return nil, models.Errorf(models.KindNoDocumentsFound, "no text content found in %s", p.opts.DocumentsPath)
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	vectors, failures, err := p.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	docs := make([]string, 0, len(chunks))
	metas := make([]models.ChunkMetadata, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for i := range chunks {
		if vectors[i] == nil {
			continue
		}
		docs = append(docs, chunks[i].Text)
		metas = append(metas, chunks[i].Metadata())
		vecs = append(vecs, vectors[i])
	}
	if len(vecs) == 0 {
		msg := fmt.Sprintf("none of %d chunks could be embedded", len(chunks))
		if len(failures) > 0 {
			msg += ": " + failures[0].Error
		}
		return nil, models.NewError(models.KindEmbed, msg)
	}

	if err := p.index.Replace(ctx, docs, metas, vecs); err != nil {
		return nil, err
	}
	if err := p.index.Save(ctx); err != nil {
		return nil, err
	}

	report := p.reportFromIndex(start)
	report.Success = true
	report.TotalChunks = len(chunks)
	report.EmbeddedChunks = len(vecs)
	report.FailedChunks = len(chunks) - len(vecs)
	report.FailedBatches = failures
	report.SourcesProcessed = len(col.Sources)
	report.SourcesSkipped = col.Skipped
	report.Message = fmt.Sprintf("indexed %d chunks from %d documents", len(vecs), len(col.Sources))
	if report.FailedChunks > 0 {
		report.Message += fmt.Sprintf(" (%d chunks failed to embed)", report.FailedChunks)
	}
	p.logger.Info("ingest finished",
		zap.Int("chunks", report.TotalChunks),
		zap.Int("embedded", report.EmbeddedChunks),
		zap.Int("failed", report.FailedChunks),
		zap.Int("sources", report.SourcesProcessed),
		zap.Int("skipped", len(report.SourcesSkipped)),
		zap.Int64("duration_ms", report.DurationMs))
	return report, nil
}

func (p *Pipeline) reportFromIndex(start time.Time) *models.IngestReport {
	stats := p.index.Stats()
	return &models.IngestReport{
		TotalDocuments:     stats.TotalDocuments,
		IndexSize:          stats.IndexSize,
		EmbeddingDimension: stats.EmbeddingDimension,
		DurationMs:         time.Since(start).Milliseconds(),
	}
}

// embedAll embeds texts in batches with bounded concurrency. The returned slice is
// parallel to texts; failed entries are nil. Only cancellation of ctx is returned as
// an error, every other failure is recorded per batch.
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, []models.BatchFailure, error) {
	size := p.opts.BatchSize
	batches := (len(texts) + size - 1) / size
	vectors := make([][]float32, len(texts))
	failed := make([]*models.BatchFailure, batches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for b := 0; b < batches; b++ {
		lo := b * size
		hi := min(lo+size, len(texts))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, err := p.embedBatch(gctx, b, texts[lo:hi])
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.logger.Warn("embedding batch failed",
					zap.Int("batch", b), zap.Int("start", lo), zap.Int("size", hi-lo), zap.Error(err))
				failed[b] = &models.BatchFailure{Batch: b, Start: lo, Size: hi - lo, Error: err.Error()}
				return nil
			}
			copy(vectors[lo:hi], vecs)
			p.logger.Debug("embedding batch done", zap.Int("batch", b), zap.Int("size", hi-lo))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("ingest cancelled: %w", err)
	}

	var failures []models.BatchFailure
	for _, f := range failed {
		if f != nil {
			failures = append(failures, *f)
		}
	}
	return vectors, failures, nil
}

// embedBatch embeds one batch with retries. Partial failures are not retried: the
// failed items come back as nil vectors.
func (p *Pipeline) embedBatch(ctx context.Context, batch int, texts []string) ([][]float32, error) {
	var out [][]float32
	op := func() error {
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return embedding.Permanent(ctxErr)
			}
			ie, partial := embedding.AsItemErrors(err)
			if !partial {
				return err
			}
			failed := ie.Failed()
			p.logger.Warn("embedding items failed", zap.Int("batch", batch), zap.Int("failed", len(failed)))
			if len(vecs) == len(texts) {
				for i := range failed {
					if i >= 0 && i < len(vecs) {
						vecs[i] = nil
					}
				}
			}
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
		}
		out = vecs
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("retrying embedding batch",
			zap.Int("batch", batch), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := embedding.Retry(ctx, p.opts.Retry, op, notify); err != nil {
		return nil, models.WrapError(models.KindEmbed, fmt.Sprintf("batch %d", batch), err)
	}

	dim := p.index.Dimension()
	for i, v := range out {
		if v != nil && len(v) != dim {
			p.logger.Warn("dropping embedding with wrong dimension",
				zap.Int("batch", batch), zap.Int("item", i), zap.Int("got", len(v)), zap.Int("want", dim))
			out[i] = nil
			continue
		}
		if v != nil && vector.NonFinite(v) >= 0 {
			p.logger.Warn("dropping embedding with non-finite values",
				zap.Int("batch", batch), zap.Int("item", i))
			out[i] = nil
		}
	}
	return out, nil
}
