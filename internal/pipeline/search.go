package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/passage/internal/indexer"
	"github.com/hyperjump/passage/internal/models"
	"go.uber.org/zap"
)

// NoResultsContext is returned by ContextForQuery when nothing matches.
const NoResultsContext = "No relevant documents found."

// Search embeds query and returns up to k results whose similarity is at least
// minSimilarity, in rank order. A blank query returns no results.
func (p *Pipeline) Search(ctx context.Context, query string, k int, minSimilarity float64) ([]*models.SearchResult, error) {
	q := indexer.Preprocess(query)
	if q == "" {
		return []*models.SearchResult{}, nil
	}
	if err := models.ValidateK(k, p.opts.MaxK); err != nil {
		return nil, err
	}
	if err := models.ValidateMinSimilarity(minSimilarity); err != nil {
		return nil, err
	}

	vec, err := p.embedder.Embed(ctx, q)
	if err != nil {
		return nil, models.WrapError(models.KindEmbed, "failed to embed query", err)
	}
	results, err := p.index.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	kept := results[:0]
	for _, r := range results {
		if r.SimilarityScore >= minSimilarity {
			kept = append(kept, r)
		}
	}
	p.logger.Debug("search",
		zap.String("query", q), zap.Int("k", k),
		zap.Int("hits", len(results)), zap.Int("kept", len(kept)))
	return kept, nil
}

// ContextForQuery formats the top k results as numbered blocks separated by "---",
// ready to hand to a language model.
func (p *Pipeline) ContextForQuery(ctx context.Context, query string, k int) (string, error) {
	results, err := p.Search(ctx, query, k, 0)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return NoResultsContext, nil
	}
	return FormatContext(results), nil
}

// FormatContext renders results in rank order.
func FormatContext(results []*models.SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("Document %d (Source: %s):\n%s\nSimilarity Score: %.3f\n",
			i+1, r.Metadata.SourceName, r.Document, r.SimilarityScore)
	}
	return strings.Join(blocks, "\n---\n")
}
