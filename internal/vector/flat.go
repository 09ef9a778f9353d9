// Package vector provides an exact nearest-neighbour index over squared L2 distance.
package vector

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/hyperjump/passage/internal/models"
	"go.uber.org/zap"
)

// Mirror copies persisted artifacts to remote storage.
type Mirror interface {
	Upload(ctx context.Context, name, localPath string) error
	Download(ctx context.Context, name, localPath string) error
}

// entry is one stored chunk. Its slot is its position in FlatIndex.entries.
type entry struct {
	vector   []float32
	document string
	metadata models.ChunkMetadata
}

// FlatIndex stores entries in insertion order and answers queries by brute force.
// Writers (Add, Clear, Save, Load) are serialized; readers share the lock.
type FlatIndex struct {
	dimension int
	dir       string
	entries   []entry
	mirror    Mirror
	logger    *zap.Logger
	mu        sync.RWMutex
}

// Option configures a FlatIndex.
type Option func(*FlatIndex)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(x *FlatIndex) { x.logger = l }
}

// WithMirror uploads artifacts after every save and fetches them when none exist locally.
func WithMirror(m Mirror) Option {
	return func(x *FlatIndex) { x.mirror = m }
}

// New creates an index of the given dimension persisted under dir. Existing durable
// state is loaded; corrupt state is discarded with a warning. An empty dir disables persistence.
func New(ctx context.Context, dimension int, dir string, opts ...Option) (*FlatIndex, error) {
	if dimension <= 0 {
		return nil, models.Errorf(models.KindInvalidConfiguration, "dimension must be positive, got %d", dimension)
	}
	x := &FlatIndex{
		dimension: dimension,
		dir:       dir,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.Load(ctx)
	return x, nil
}

// Dimension returns the vector dimension.
func (x *FlatIndex) Dimension() int { return x.dimension }

// Add appends one entry per (document, metadata, vector) triple. Nothing is added
// unless every vector has the index dimension and the three lists have equal length.
func (x *FlatIndex) Add(ctx context.Context, documents []string, metadata []models.ChunkMetadata, vectors [][]float32) error {
	batch, err := x.newEntries(ctx, documents, metadata, vectors)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = append(x.entries, batch...)
	return nil
}

// Replace swaps the whole content for the given triples in one step. It validates
// like Add and leaves the index untouched on error.
func (x *FlatIndex) Replace(ctx context.Context, documents []string, metadata []models.ChunkMetadata, vectors [][]float32) error {
	batch, err := x.newEntries(ctx, documents, metadata, vectors)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = batch
	return nil
}

func (x *FlatIndex) newEntries(ctx context.Context, documents []string, metadata []models.ChunkMetadata, vectors [][]float32) ([]entry, error) {
	if len(documents) != len(metadata) || len(documents) != len(vectors) {
		return nil, models.Errorf(models.KindLengthMismatch,
			"documents (%d), metadata (%d) and vectors (%d) must have the same length",
			len(documents), len(metadata), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != x.dimension {
			return nil, models.Errorf(models.KindDimensionMismatch,
				"vector %d dimension mismatch: got %d, expected %d", i, len(v), x.dimension)
		}
		if j := NonFinite(v); j >= 0 {
			return nil, models.Errorf(models.KindInvalidVector,
				"vector %d has a non-finite component at %d", i, j)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := make([]entry, len(vectors))
	for i := range vectors {
		vec := make([]float32, x.dimension)
		copy(vec, vectors[i])
		batch[i] = entry{vector: vec, document: documents[i], metadata: metadata[i]}
	}
	return batch, nil
}

// candidate is a scored slot.
type candidate struct {
	slot     int
	distance float64
}

// worse orders candidates so that the heap root is the one to evict first.
// A NaN distance is worse than any number.
func worse(a, b candidate) bool {
	aNaN, bNaN := math.IsNaN(a.distance), math.IsNaN(b.distance)
	if aNaN != bNaN {
		return aNaN
	}
	if !aNaN && a.distance != b.distance {
		return a.distance > b.distance
	}
	return a.slot > b.slot
}

type topK []candidate

func (h topK) Len() int           { return len(h) }
func (h topK) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h topK) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *topK) Push(v any)        { *h = append(*h, v.(candidate)) }
func (h *topK) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Search returns up to k entries nearest to query, ordered by ascending distance and
// then ascending slot. k <= 0 or an empty index yields no results.
func (x *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]*models.SearchResult, error) {
	if len(query) != x.dimension {
		return nil, models.Errorf(models.KindDimensionMismatch,
			"query dimension mismatch: got %d, expected %d", len(query), x.dimension)
	}
	if j := NonFinite(query); j >= 0 {
		return nil, models.Errorf(models.KindInvalidVector, "query vector has a non-finite component at %d", j)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.entries) == 0 {
		return []*models.SearchResult{}, nil
	}
	k = min(k, len(x.entries))

	h := make(topK, 0, k)
	for slot, e := range x.entries {
		if slot%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c := candidate{slot: slot, distance: SquaredL2(query, e.vector)}
		if len(h) < k {
			heap.Push(&h, c)
		} else if worse(h[0], c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	sort.Slice(h, func(i, j int) bool { return worse(h[j], h[i]) })

	results := make([]*models.SearchResult, len(h))
	for i, c := range h {
		e := x.entries[c.slot]
		results[i] = &models.SearchResult{
			Document:        e.document,
			Metadata:        e.metadata,
			Distance:        c.distance,
			SimilarityScore: models.SimilarityFromDistance(c.distance),
			Rank:            i + 1,
		}
	}
	return results, nil
}

// Size returns the number of entries.
func (x *FlatIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Stats reports the entry count, dimension and storage location.
func (x *FlatIndex) Stats() models.IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return models.IndexStats{
		TotalDocuments:     len(x.entries),
		IndexSize:          len(x.entries),
		EmbeddingDimension: x.dimension,
		StoragePath:        x.dir,
	}
}

// Clear drops all entries. Durable state is untouched until the next Save.
func (x *FlatIndex) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = nil
}

// Close is a no-op; FlatIndex holds no open handles between calls.
func (x *FlatIndex) Close() error {
	return nil
}
