package models

// SearchResult is a single ranked hit. Distance is squared L2; SimilarityScore is 1/(1+Distance).
type SearchResult struct {
	Document        string        `json:"document"`
	Metadata        ChunkMetadata `json:"metadata"`
	Distance        float64       `json:"distance"`
	SimilarityScore float64       `json:"similarity_score"`
	Rank            int           `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query        string          `json:"query"`
	Results      []*SearchResult `json:"results"`
	TotalResults int             `json:"total_results"`
	QueryTime    int64           `json:"query_time_ms"`
}

// ContextResponse is the response for a context request.
type ContextResponse struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

// SimilarityFromDistance maps a squared L2 distance to a score in (0, 1].
func SimilarityFromDistance(d float64) float64 {
	return 1.0 / (1.0 + d)
}
