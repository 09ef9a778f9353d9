package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/passage/internal/embedding"
	"github.com/hyperjump/passage/internal/extract"
	"github.com/hyperjump/passage/internal/indexer"
	"github.com/hyperjump/passage/internal/models"
	"github.com/hyperjump/passage/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

// scriptedEmbedder embeds like MockEmbedder but lets a test rewrite every batch result.
type scriptedEmbedder struct {
	*embedding.MockEmbedder
	mu    sync.Mutex
	calls int
	batch func(call int, texts []string, vecs [][]float32) ([][]float32, error)
}

func newScripted(batch func(call int, texts []string, vecs [][]float32) ([][]float32, error)) *scriptedEmbedder {
	return &scriptedEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDim), batch: batch}
}

func (s *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	batch := s.batch
	s.mu.Unlock()
	vecs, err := s.MockEmbedder.EmbedBatch(ctx, texts)
	if err != nil || batch == nil {
		return vecs, err
	}
	return batch(call, texts, vecs)
}

func (s *scriptedEmbedder) setBatch(fn func(call int, texts []string, vecs [][]float32) ([][]float32, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = fn
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}

type fixture struct {
	pipeline *Pipeline
	index    *vector.FlatIndex
	docs     string
	store    string
}

func newFixture(t *testing.T, emb embedding.Embedder, batchSize int) *fixture {
	t.Helper()
	root := t.TempDir()
	docs := filepath.Join(root, "documents")
	store := filepath.Join(root, "vector_db")

	chunker, err := indexer.NewChunker(5, 1, indexer.NewWordTokenizer())
	require.NoError(t, err)
	collector := indexer.NewCollector(chunker, extract.NewExtractor(), indexer.WithExtensions([]string{".txt", ".md"}))
	idx, err := vector.New(context.Background(), testDim, store)
	require.NoError(t, err)

	p, err := New(Options{
		DocumentsPath: docs,
		BatchSize:     batchSize,
		Concurrency:   1,
		MaxK:          20,
		Retry:         embedding.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}, collector, emb, idx)
	require.NoError(t, err)
	return &fixture{pipeline: p, index: idx, docs: docs, store: store}
}

func TestNew_DimensionMismatch(t *testing.T) {
	chunker, err := indexer.NewChunker(5, 1, nil)
	require.NoError(t, err)
	idx, err := vector.New(context.Background(), 4, "")
	require.NoError(t, err)

	_, err = New(Options{BatchSize: 10}, indexer.NewCollector(chunker, nil), embedding.NewMockEmbedder(8), idx)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)

	_, err = New(Options{BatchSize: 0}, indexer.NewCollector(chunker, nil), embedding.NewMockEmbedder(4), idx)
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestIngest_BuildsAndPersistsIndex(t *testing.T) {
	f := newFixture(t, embedding.NewMockEmbedder(testDim), 2)
	writeDoc(t, f.docs, "greek.txt", "alpha beta gamma delta epsilon zeta eta theta")
	writeDoc(t, f.docs, "notes.md", "safety officer reports incidents")
	ctx := context.Background()

	report, err := f.pipeline.Ingest(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.False(t, report.AlreadyPopulated)
	assert.Equal(t, 3, report.TotalChunks)
	assert.Equal(t, 3, report.EmbeddedChunks)
	assert.Zero(t, report.FailedChunks)
	assert.Equal(t, 2, report.SourcesProcessed)
	assert.Equal(t, 3, report.IndexSize)
	assert.Equal(t, testDim, report.EmbeddingDimension)

	reopened, err := vector.New(ctx, testDim, f.store)
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Size())
}

func TestIngest_AlreadyPopulatedAndRebuild(t *testing.T) {
	f := newFixture(t, embedding.NewMockEmbedder(testDim), 10)
	writeDoc(t, f.docs, "greek.txt", "alpha beta gamma delta epsilon zeta eta theta")
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, false)
	require.NoError(t, err)
	before, err := f.pipeline.Search(ctx, "alpha beta gamma", 5, 0)
	require.NoError(t, err)

	report, err := f.pipeline.Ingest(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.AlreadyPopulated)
	assert.Equal(t, 2, report.IndexSize)

	report, err = f.pipeline.Ingest(ctx, true)
	require.NoError(t, err)
	assert.False(t, report.AlreadyPopulated)
	assert.Equal(t, 2, report.IndexSize)

	after, err := f.pipeline.Search(ctx, "alpha beta gamma", 5, 0)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].Metadata, after[i].Metadata)
		assert.InDelta(t, before[i].Distance, after[i].Distance, 1e-9)
	}
}

func TestIngest_NoDocuments(t *testing.T) {
	f := newFixture(t, embedding.NewMockEmbedder(testDim), 10)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, true)
	assert.ErrorIs(t, err, models.ErrNoDocumentsFound)

	writeDoc(t, f.docs, "blank.txt", "   \n\t ")
	_, err = f.pipeline.Ingest(ctx, true)
	assert.ErrorIs(t, err, models.ErrNoDocumentsFound)
	assert.Zero(t, f.index.Size())
}

func TestIngest_BatchFailureDoesNotAbortOthers(t *testing.T) {
	emb := newScripted(func(_ int, texts []string, vecs [][]float32) ([][]float32, error) {
		for _, text := range texts {
			if strings.Contains(text, "poison") {
				return nil, errors.New("upstream rejected batch")
			}
		}
		return vecs, nil
	})
	f := newFixture(t, emb, 1)
	writeDoc(t, f.docs, "a.txt", "apple orchard")
	writeDoc(t, f.docs, "b.txt", "poison ivy")
	writeDoc(t, f.docs, "c.txt", "cherry blossom")
	ctx := context.Background()

	report, err := f.pipeline.Ingest(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalChunks)
	assert.Equal(t, 2, report.EmbeddedChunks)
	assert.Equal(t, 1, report.FailedChunks)
	require.Len(t, report.FailedBatches, 1)
	assert.Equal(t, 1, report.FailedBatches[0].Batch)
	assert.Equal(t, 1, report.FailedBatches[0].Start)
	assert.Contains(t, report.FailedBatches[0].Error, "upstream rejected batch")
	// one attempt plus one retry for the poisoned batch
	assert.Equal(t, 4, emb.calls)

	results, err := f.pipeline.Search(ctx, "poison ivy", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "b.txt", r.Metadata.SourceName)
	}
}

func TestIngest_ItemErrorsExcludeOnlyFailedChunks(t *testing.T) {
	emb := newScripted(func(_ int, texts []string, vecs [][]float32) ([][]float32, error) {
		var items []embedding.ItemError
		for i, text := range texts {
			if strings.Contains(text, "poison") {
				vecs[i] = nil
				items = append(items, embedding.ItemError{Index: i, Err: errors.New("content filtered")})
			}
		}
		if len(items) > 0 {
			return vecs, &embedding.ItemErrors{Items: items}
		}
		return vecs, nil
	})
	f := newFixture(t, emb, 10)
	writeDoc(t, f.docs, "a.txt", "apple orchard")
	writeDoc(t, f.docs, "b.txt", "poison ivy")

	report, err := f.pipeline.Ingest(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EmbeddedChunks)
	assert.Equal(t, 1, report.FailedChunks)
	assert.Empty(t, report.FailedBatches)
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, 1, f.index.Size())
}

func TestIngest_ItemErrorsDiscardVectorsInFailedSlots(t *testing.T) {
	emb := newScripted(func(_ int, texts []string, vecs [][]float32) ([][]float32, error) {
		var items []embedding.ItemError
		for i, text := range texts {
			if strings.Contains(text, "poison") {
				items = append(items, embedding.ItemError{Index: i, Err: errors.New("content filtered")})
			}
		}
		return vecs, &embedding.ItemErrors{Items: items}
	})
	f := newFixture(t, emb, 10)
	writeDoc(t, f.docs, "a.txt", "apple orchard")
	writeDoc(t, f.docs, "b.txt", "poison ivy")

	report, err := f.pipeline.Ingest(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EmbeddedChunks)
	assert.Equal(t, 1, report.FailedChunks)
	assert.Equal(t, 1, f.index.Size())
}

func TestIngest_DropsNonFiniteEmbeddings(t *testing.T) {
	emb := newScripted(func(_ int, texts []string, vecs [][]float32) ([][]float32, error) {
		for i, text := range texts {
			if strings.Contains(text, "overflow") {
				vecs[i][0] = float32(math.NaN())
			}
		}
		return vecs, nil
	})
	f := newFixture(t, emb, 10)
	writeDoc(t, f.docs, "a.txt", "apple orchard")
	writeDoc(t, f.docs, "b.txt", "overflow value")

	report, err := f.pipeline.Ingest(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EmbeddedChunks)
	assert.Equal(t, 1, report.FailedChunks)
	assert.Equal(t, 1, f.index.Size())

	results, err := f.pipeline.Search(context.Background(), "apple", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "apple orchard", results[0].Document)
}

func TestIngest_RetriesTransientFailure(t *testing.T) {
	emb := newScripted(func(call int, _ []string, vecs [][]float32) ([][]float32, error) {
		if call == 1 {
			return nil, errors.New("rate limited")
		}
		return vecs, nil
	})
	f := newFixture(t, emb, 10)
	writeDoc(t, f.docs, "a.txt", "apple orchard")

	report, err := f.pipeline.Ingest(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EmbeddedChunks)
	assert.Empty(t, report.FailedBatches)
	assert.Equal(t, 2, emb.calls)
}

func TestIngest_AllFailedKeepsPreviousIndex(t *testing.T) {
	emb := newScripted(nil)
	f := newFixture(t, emb, 10)
	writeDoc(t, f.docs, "a.txt", "apple orchard")
	writeDoc(t, f.docs, "b.txt", "banana grove")
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 2, f.index.Size())

	emb.setBatch(func(int, []string, [][]float32) ([][]float32, error) {
		return nil, errors.New("provider down")
	})
	_, err = f.pipeline.Ingest(ctx, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmbed)
	assert.Equal(t, 2, f.index.Size())
}

func TestIngest_Cancelled(t *testing.T) {
	f := newFixture(t, embedding.NewMockEmbedder(testDim), 1)
	writeDoc(t, f.docs, "a.txt", "apple orchard")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Ingest(ctx, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.index.Size())
}

func TestStats(t *testing.T) {
	f := newFixture(t, embedding.NewMockEmbedder(testDim), 10)
	writeDoc(t, f.docs, "a.txt", "apple orchard")
	_, err := f.pipeline.Ingest(context.Background(), true)
	require.NoError(t, err)

	stats := f.pipeline.Stats()
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, testDim, stats.EmbeddingDimension)
	assert.Equal(t, embedding.MockModel, stats.EmbeddingModel)
	assert.Equal(t, 5, stats.ChunkSize)
	assert.Equal(t, 1, stats.ChunkOverlap)
	assert.Equal(t, indexer.TokenizerWord, stats.Tokenizer)
	assert.Equal(t, f.docs, stats.DocumentsPath)
	assert.Equal(t, f.store, stats.StoragePath)
	assert.Positive(t, stats.DiskUsageBytes)
}

func TestClear(t *testing.T) {
	f := newFixture(t, embedding.NewMockEmbedder(testDim), 10)
	writeDoc(t, f.docs, "a.txt", "apple orchard")
	ctx := context.Background()
	_, err := f.pipeline.Ingest(ctx, true)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Clear(ctx, false))
	assert.Zero(t, f.index.Size())
	reopened, err := vector.New(ctx, testDim, f.store)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Size(), "clear without persist keeps durable state")

	require.NoError(t, f.pipeline.Clear(ctx, true))
	reopened, err = vector.New(ctx, testDim, f.store)
	require.NoError(t, err)
	assert.Zero(t, reopened.Size())
}
