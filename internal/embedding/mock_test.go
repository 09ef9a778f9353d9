package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "same text")
	require.NoError(t, err)
	a2, err := e.Embed(ctx, "same text")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "other text")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.Len(t, a1, 16)

	var sum float64
	for _, v := range a1 {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder_Batch(t *testing.T) {
	e := NewMockEmbedder(8)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.Equal(t, MockModel, e.Model())
	assert.Equal(t, 8, e.Dimensions())
}

func TestMockEmbedder_DefaultsAndCancel(t *testing.T) {
	assert.Equal(t, 1536, NewMockEmbedder(0).Dimensions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockEmbedder(4).EmbedBatch(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
