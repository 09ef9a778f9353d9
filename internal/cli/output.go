// Package cli provides output formatting and a server client for the passage CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/passage/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	if len(response.Results) == 0 {
		fmt.Fprintf(w, "No results for %q.\n", response.Query)
		return nil
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.TotalResults, response.QueryTime)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Similarity: %.4f | Distance: %.4f\n",
		result.Rank, result.SimilarityScore, result.Distance)
	fmt.Fprintf(w, "Source: %s (chunk %d)\n", result.Metadata.SourceName, result.Metadata.ChunkIndex)
	fmt.Fprintf(w, "\n%s\n", Truncate(result.Document, 200))
	fmt.Fprintln(w)
}

// WriteContext writes a context block, or the whole response as JSON.
func WriteContext(w io.Writer, response *models.ContextResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	_, err := fmt.Fprintln(w, response.Context)
	return err
}

// WriteStats writes pipeline statistics.
func WriteStats(w io.Writer, stats *models.PipelineStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Documents:        %d\n", stats.TotalDocuments)
	fmt.Fprintf(w, "Index size:       %d\n", stats.IndexSize)
	fmt.Fprintf(w, "Dimension:        %d\n", stats.EmbeddingDimension)
	fmt.Fprintf(w, "Embedding model:  %s\n", stats.EmbeddingModel)
	fmt.Fprintf(w, "Chunking:         %d tokens, %d overlap (%s)\n", stats.ChunkSize, stats.ChunkOverlap, stats.Tokenizer)
	fmt.Fprintf(w, "Documents path:   %s\n", stats.DocumentsPath)
	fmt.Fprintf(w, "Storage path:     %s\n", stats.StoragePath)
	fmt.Fprintf(w, "Disk usage:       %s\n", FormatBytes(stats.DiskUsageBytes))
	return nil
}

// WriteIngestReport writes the outcome of an ingest.
func WriteIngestReport(w io.Writer, report *models.IngestReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintln(w, report.Message)
	if report.AlreadyPopulated {
		fmt.Fprintf(w, "Index holds %d chunks.\n", report.IndexSize)
		return nil
	}
	fmt.Fprintf(w, "Chunks: %d total, %d embedded, %d failed\n",
		report.TotalChunks, report.EmbeddedChunks, report.FailedChunks)
	fmt.Fprintf(w, "Sources: %d processed, %d skipped\n", report.SourcesProcessed, len(report.SourcesSkipped))
	for _, s := range report.SourcesSkipped {
		fmt.Fprintf(w, "  skipped %s: %s\n", s.Path, s.Reason)
	}
	for _, b := range report.FailedBatches {
		fmt.Fprintf(w, "  batch %d (chunks %d-%d) failed: %s\n", b.Batch, b.Start, b.Start+b.Size-1, b.Error)
	}
	fmt.Fprintf(w, "Index size: %d (dimension %d) in %dms\n", report.IndexSize, report.EmbeddingDimension, report.DurationMs)
	return nil
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
