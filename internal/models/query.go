package models

import (
	"math"
	"strings"
)

// SearchQuery represents a search request. A nil MinSimilarity means the configured
// floor applies; an explicit 0 disables filtering.
type SearchQuery struct {
	Query         string   `json:"query"`
	K             int      `json:"k,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

// ApplyDefaults fills an omitted k and an omitted similarity floor.
func (q *SearchQuery) ApplyDefaults(defaultK int, defaultFloor float64) {
	if q.K == 0 {
		q.K = defaultK
	}
	if q.MinSimilarity == nil {
		q.MinSimilarity = &defaultFloor
	}
}

// Floor returns the similarity floor, 0 when none was given.
func (q *SearchQuery) Floor() float64 {
	if q.MinSimilarity == nil {
		return 0
	}
	return *q.MinSimilarity
}

// Validate checks the query text, k and the similarity floor.
func (q *SearchQuery) Validate(maxK int) error {
	if strings.TrimSpace(q.Query) == "" {
		return NewError(KindQuery, "query cannot be empty")
	}
	if err := ValidateK(q.K, maxK); err != nil {
		return err
	}
	return ValidateMinSimilarity(q.Floor())
}

// ContextQuery represents a request for a formatted context block.
type ContextQuery struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// ApplyDefaults fills an omitted k.
func (q *ContextQuery) ApplyDefaults(defaultK int) {
	if q.K == 0 {
		q.K = defaultK
	}
}

// Validate checks the query text and k.
func (q *ContextQuery) Validate(maxK int) error {
	if strings.TrimSpace(q.Query) == "" {
		return NewError(KindQuery, "query cannot be empty")
	}
	return ValidateK(q.K, maxK)
}

// IngestRequest asks for a (re)build of the index.
type IngestRequest struct {
	ForceRebuild bool `json:"force_rebuild"`
}

// ClearRequest asks for the index to be emptied.
type ClearRequest struct {
	Persist bool `json:"persist"`
}

// ValidateK rejects non-positive k and k above maxK (maxK <= 0 disables the cap).
func ValidateK(k, maxK int) error {
	if k <= 0 {
		return Errorf(KindQuery, "k must be positive, got %d", k)
	}
	if maxK > 0 && k > maxK {
		return Errorf(KindQuery, "k must be at most %d, got %d", maxK, k)
	}
	return nil
}

// ValidateMinSimilarity rejects floors outside [0, 1].
func ValidateMinSimilarity(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return Errorf(KindQuery, "min_similarity must be within [0, 1], got %v", v)
	}
	return nil
}
