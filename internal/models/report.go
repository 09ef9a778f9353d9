package models

// BatchFailure records an embedding batch that failed after all retries.
type BatchFailure struct {
	Batch int    `json:"batch"`
	Start int    `json:"start"`
	Size  int    `json:"size"`
	Error string `json:"error"`
}

// SkippedSource records a document that could not be read or yielded no text.
type SkippedSource struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IngestReport summarizes an ingest call.
type IngestReport struct {
	Success            bool            `json:"success"`
	Message            string          `json:"message"`
	AlreadyPopulated   bool            `json:"already_populated"`
	TotalChunks        int             `json:"total_chunks"`
	EmbeddedChunks     int             `json:"embedded_chunks"`
	FailedChunks       int             `json:"failed_chunks"`
	FailedBatches      []BatchFailure  `json:"failed_batches,omitempty"`
	SourcesProcessed   int             `json:"sources_processed"`
	SourcesSkipped     []SkippedSource `json:"sources_skipped,omitempty"`
	TotalDocuments     int             `json:"total_documents"`
	IndexSize          int             `json:"index_size"`
	EmbeddingDimension int             `json:"embedding_dimension"`
	DurationMs         int64           `json:"duration_ms"`
}

// IndexStats describes the vector index.
type IndexStats struct {
	TotalDocuments     int    `json:"total_documents"`
	IndexSize          int    `json:"index_size"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	StoragePath        string `json:"storage_path"`
}

// PipelineStats describes the whole retrieval pipeline.
type PipelineStats struct {
	IndexStats
	EmbeddingModel string `json:"embedding_model"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	Tokenizer      string `json:"tokenizer"`
	DocumentsPath  string `json:"documents_path"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}
