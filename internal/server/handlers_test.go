package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/passage/internal/config"
	"github.com/hyperjump/passage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Ingest(ctx context.Context, force bool) (*models.IngestReport, error) {
	args := m.Called(ctx, force)
	r, _ := args.Get(0).(*models.IngestReport)
	return r, args.Error(1)
}

func (m *mockPipeline) Search(ctx context.Context, q string, k int, minSim float64) ([]*models.SearchResult, error) {
	args := m.Called(ctx, q, k, minSim)
	r, _ := args.Get(0).([]*models.SearchResult)
	return r, args.Error(1)
}

func (m *mockPipeline) ContextForQuery(ctx context.Context, q string, k int) (string, error) {
	args := m.Called(ctx, q, k)
	return args.String(0), args.Error(1)
}

func (m *mockPipeline) Stats() models.PipelineStats {
	return m.Called().Get(0).(models.PipelineStats)
}

func (m *mockPipeline) Clear(ctx context.Context, persist bool) error {
	return m.Called(ctx, persist).Error(0)
}

func newTestServer(p Pipeline) http.Handler {
	return newTestServerWithFloor(p, 0)
}

func newTestServerWithFloor(p Pipeline, floor float64) http.Handler {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Search.MinSimilarity = floor
	return NewServer(p, &cfg.Server, cfg.Search, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHandleHealth(t *testing.T) {
	w, out := do(t, newTestServer(&mockPipeline{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestNotFound(t *testing.T) {
	w, out := do(t, newTestServer(&mockPipeline{}), http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Endpoint not found", out["error"])
}

func TestHandleSearch(t *testing.T) {
	p := &mockPipeline{}
	p.On("Search", mock.Anything, "fire exits", 5, 0.0).Return([]*models.SearchResult{
		{
			Document:        "Keep fire exits clear.",
			Metadata:        models.ChunkMetadata{ChunkID: "policy_chunk_0", SourceName: "policy.pdf"},
			Distance:        0.25,
			SimilarityScore: 0.8,
			Rank:            1,
		},
	}, nil)

	w, out := do(t, newTestServer(p), http.MethodPost, "/api/search", `{"query":"fire exits"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fire exits", out["query"])
	assert.EqualValues(t, 1, out["total_results"])
	results := out["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "Keep fire exits clear.", first["document"])
	assert.EqualValues(t, 1, first["rank"])
	assert.InDelta(t, 0.8, first["similarity_score"], 1e-9)
	assert.Equal(t, "policy.pdf", first["metadata"].(map[string]any)["source_name"])
	p.AssertExpectations(t)
}

func TestHandleSearch_ExplicitArguments(t *testing.T) {
	p := &mockPipeline{}
	p.On("Search", mock.Anything, "fire", 2, 0.75).Return([]*models.SearchResult{}, nil)

	w, out := do(t, newTestServer(p), http.MethodPost, "/api/search", `{"query":"fire","k":2,"min_similarity":0.75}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, out["total_results"])
	assert.NotNil(t, out["results"])
	p.AssertExpectations(t)
}

func TestHandleSearch_SimilarityFloor(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{"omitted_uses_config", `{"query":"fire"}`, 0.3},
		{"explicit_zero_kept", `{"query":"fire","min_similarity":0}`, 0.0},
		{"explicit_value_kept", `{"query":"fire","min_similarity":0.9}`, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPipeline{}
			p.On("Search", mock.Anything, "fire", 5, tt.want).Return([]*models.SearchResult{}, nil)
			w, _ := do(t, newTestServerWithFloor(p, 0.3), http.MethodPost, "/api/search", tt.body)
			require.Equal(t, http.StatusOK, w.Code)
			p.AssertExpectations(t)
		})
	}
}

func TestHandleSearch_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty_query", `{"query":"  "}`, "Query cannot be empty"},
		{"missing_query", `{}`, "Query cannot be empty"},
		{"malformed", `{"query":`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPipeline{}
			w, out := do(t, newTestServer(p), http.MethodPost, "/api/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, out["error"])
			p.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandleSearch_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"query", models.NewError(models.KindQuery, "k must be at most 100, got 500"), http.StatusBadRequest},
		{"dimension", models.NewError(models.KindDimensionMismatch, "bad query vector"), http.StatusBadRequest},
		{"embed", models.WrapError(models.KindEmbed, "failed to embed query", errors.New("timeout")), http.StatusBadGateway},
		{"persistence", models.NewError(models.KindPersistence, "disk full"), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPipeline{}
			p.On("Search", mock.Anything, "q", 500, 0.0).Return(nil, tt.err)
			w, out := do(t, newTestServer(p), http.MethodPost, "/api/search", `{"query":"q","k":500}`)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.err.Error(), out["error"])
		})
	}
}

func TestHandleContext(t *testing.T) {
	p := &mockPipeline{}
	p.On("ContextForQuery", mock.Anything, "fire exits", 3).Return("Document 1 (Source: policy.pdf):\n...", nil)

	w, out := do(t, newTestServer(p), http.MethodPost, "/api/context", `{"query":"fire exits"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fire exits", out["query"])
	assert.Equal(t, "Document 1 (Source: policy.pdf):\n...", out["context"])
	p.AssertExpectations(t)
}

func TestHandleContext_EmptyQuery(t *testing.T) {
	w, out := do(t, newTestServer(&mockPipeline{}), http.MethodPost, "/api/context", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Query cannot be empty", out["error"])
}

func TestHandleStats(t *testing.T) {
	p := &mockPipeline{}
	p.On("Stats").Return(models.PipelineStats{
		IndexStats:     models.IndexStats{TotalDocuments: 4, IndexSize: 4, EmbeddingDimension: 1536, StoragePath: "/data/vector_db"},
		EmbeddingModel: "mock",
		ChunkSize:      1000,
		ChunkOverlap:   200,
		Tokenizer:      "word",
		DocumentsPath:  "/data/documents",
	})

	w, out := do(t, newTestServer(p), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, out["total_documents"])
	assert.EqualValues(t, 1536, out["embedding_dimension"])
	assert.Equal(t, "mock", out["embedding_model"])
	assert.Equal(t, "/data/vector_db", out["storage_path"])
	assert.Equal(t, "word", out["tokenizer"])
}

func TestHandleIngest(t *testing.T) {
	p := &mockPipeline{}
	p.On("Ingest", mock.Anything, true).Return(&models.IngestReport{
		Success: true, TotalChunks: 10, EmbeddedChunks: 10, TotalDocuments: 10, IndexSize: 10, EmbeddingDimension: 8,
	}, nil)

	w, out := do(t, newTestServer(p), http.MethodPost, "/api/ingest", `{"force_rebuild":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 10, out["total_chunks"])
	p.AssertExpectations(t)
}

func TestHandleIngest_EmptyBodyAndNoDocuments(t *testing.T) {
	p := &mockPipeline{}
	p.On("Ingest", mock.Anything, false).Return(nil,
		models.NewError(models.KindNoDocumentsFound, "documents directory ./data/documents does not exist"))

	w, out := do(t, newTestServer(p), http.MethodPost, "/api/ingest", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, out["error"], "does not exist")
}

func TestHandleClear(t *testing.T) {
	p := &mockPipeline{}
	p.On("Clear", mock.Anything, false).Return(nil)
	p.On("Clear", mock.Anything, true).Return(nil)
	h := newTestServer(p)

	w, out := do(t, h, http.MethodPost, "/api/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Index cleared", out["message"])

	w, out = do(t, h, http.MethodPost, "/api/clear", `{"persist":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Index cleared and persisted", out["message"])
	p.AssertExpectations(t)
}

func TestMethodNotAllowed(t *testing.T) {
	w, _ := do(t, newTestServer(&mockPipeline{}), http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
