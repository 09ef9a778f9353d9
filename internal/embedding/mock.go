package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// MockModel is the model name reported by MockEmbedder.
const MockModel = "mock"

// MockEmbedder returns deterministic pseudo-random unit vectors seeded by the text,
// so the same text always gets the same embedding. Used when no provider is configured.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the embedding seeded by the FNV-1a hash of text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	emb := make([]float32, e.dimensions)
	var sum float64
	for i := range emb {
		v := rng.Float64()
		emb[i] = float32(v)
		sum += v * v
	}
	if sum > 0 {
		norm := 1 / math.Sqrt(sum)
		for i := range emb {
			emb[i] = float32(float64(emb[i]) * norm)
		}
	}
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns MockModel.
func (e *MockEmbedder) Model() string {
	return MockModel
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
