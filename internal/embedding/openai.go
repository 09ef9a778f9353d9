package embedding

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures OpenAIEmbedder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions of the returned vectors; 0 selects the model's native size.
	Dimensions int
	// RequestsPerSecond caps API calls; 0 disables limiting.
	RequestsPerSecond float64
}

// OpenAIEmbedder calls the OpenAI embeddings API, one request per batch.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	// sendDimensions is set for models that accept a requested output size.
	sendDimensions bool
	limiter        *rate.Limiter
}

// NativeDimensions returns the output size of a known OpenAI embedding model.
func NativeDimensions(model string) int {
	if model == "text-embedding-3-large" {
		return 3072
	}
	return 1536
}

// NewOpenAIEmbedder creates an OpenAI embedder. The API key is required.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = NativeDimensions(cfg.Model)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &OpenAIEmbedder{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		dimensions:     dims,
		sendDimensions: strings.HasPrefix(cfg.Model, "text-embedding-3"),
		limiter:        limiter,
	}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		if ie, ok := AsItemErrors(err); ok {
			return nil, ie.Items[0].Err
		}
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in one request. Items missing from the response or with the
// wrong dimension are reported through *ItemErrors.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	if e.sendDimensions {
		req.Dimensions = e.dimensions
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	var failed []ItemError
	for i, v := range out {
		switch {
		case v == nil:
			failed = append(failed, ItemError{Index: i, Err: fmt.Errorf("no embedding returned")})
		case len(v) != e.dimensions:
			out[i] = nil
			failed = append(failed, ItemError{Index: i, Err: fmt.Errorf("embedding has %d dimensions, expected %d", len(v), e.dimensions)})
		}
	}
	if len(failed) == len(texts) {
		return nil, fmt.Errorf("OpenAI returned no usable embeddings: %w", failed[0].Err)
	}
	if len(failed) > 0 {
		return out, &ItemErrors{Items: failed}
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the OpenAI model name.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Close is a no-op; the HTTP client needs no teardown.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
