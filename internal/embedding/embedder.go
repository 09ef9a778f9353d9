// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Embedder produces vector embeddings for text.
//
// EmbedBatch returns one vector per input, in input order. A *ItemErrors error means
// the batch succeeded except for the listed inputs, whose vectors are nil; any other
// error fails the whole batch.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Close() error
}

// ItemError is the failure of one input of a batch.
type ItemError struct {
	Index int
	Err   error
}

// ItemErrors lists the inputs of a batch that could not be embedded.
type ItemErrors struct {
	Items []ItemError
}

func (e *ItemErrors) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("item %d: %v", it.Index, it.Err))
	}
	return fmt.Sprintf("%d of batch failed: %s", len(e.Items), strings.Join(parts, "; "))
}

// Unwrap exposes the per-item causes to errors.Is and errors.As.
func (e *ItemErrors) Unwrap() []error {
	errs := make([]error, len(e.Items))
	for i, it := range e.Items {
		errs[i] = it.Err
	}
	return errs
}

// Failed returns the set of failed input indexes.
func (e *ItemErrors) Failed() map[int]bool {
	failed := make(map[int]bool, len(e.Items))
	for _, it := range e.Items {
		failed[it.Index] = true
	}
	return failed
}

// AsItemErrors reports whether err is a partial batch failure.
func AsItemErrors(err error) (*ItemErrors, bool) {
	var ie *ItemErrors
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// embedEach embeds texts one at a time with embed, collecting per-item failures.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var failed []ItemError
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := embed(ctx, text)
		if err != nil {
			failed = append(failed, ItemError{Index: i, Err: err})
			continue
		}
		out[i] = v
	}
	if len(failed) == len(texts) && len(texts) > 0 {
		return nil, fmt.Errorf("every item failed: %w", failed[0].Err)
	}
	if len(failed) > 0 {
		return out, &ItemErrors{Items: failed}
	}
	return out, nil
}
