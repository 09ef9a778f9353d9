// Package indexer turns source documents into overlapping token-window chunks.
package indexer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/passage/internal/models"
)

// Chunker splits text into overlapping windows of at most chunkSize tokens.
// Consecutive windows start chunkSize-chunkOverlap tokens apart.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	tokenizer    Tokenizer
}

// NewChunker creates a chunker. chunkSize must be positive and greater than chunkOverlap,
// and chunkOverlap must not be negative. A nil tokenizer selects the word tokenizer.
func NewChunker(chunkSize, chunkOverlap int, tokenizer Tokenizer) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, models.Errorf(models.KindInvalidConfiguration, "chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, models.Errorf(models.KindInvalidConfiguration, "chunk overlap must not be negative, got %d", chunkOverlap)
	}
	if chunkSize <= chunkOverlap {
		return nil, models.Errorf(models.KindInvalidConfiguration,
			"chunk size (%d) must be greater than chunk overlap (%d)", chunkSize, chunkOverlap)
	}
	if tokenizer == nil {
		tokenizer = NewWordTokenizer()
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		tokenizer:    tokenizer,
	}, nil
}

// ChunkSize returns the window size in tokens.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// ChunkOverlap returns the number of tokens shared by consecutive windows.
func (c *Chunker) ChunkOverlap() int { return c.chunkOverlap }

// Tokenizer returns the tokenizer mode in use.
func (c *Chunker) Tokenizer() string { return c.tokenizer.Name() }

// Chunk splits text into chunks attributed to src. A window's text runs up to where
// the next token begins, so punctuation between tokens is kept; the first and last
// windows extend to the edges of text. Windows whose text is blank after trimming are
// dropped without consuming a chunk index.
func (c *Chunker) Chunk(text string, src models.SourceRef) []models.Chunk {
	spans := c.tokenizer.Tokenize(text)
	if len(spans) == 0 {
		return nil
	}
	stem := src.Stem()
	step := c.chunkSize - c.chunkOverlap
	var chunks []models.Chunk
	for start := 0; start < len(spans); {
		end := min(start+c.chunkSize, len(spans))
		chunkText := strings.TrimSpace(text[windowStart(spans, start):windowEnd(text, spans, end)])
		if chunkText != "" {
			index := len(chunks)
			chunks = append(chunks, models.Chunk{
				ID:          fmt.Sprintf("%s_chunk_%d", stem, index),
				Text:        chunkText,
				SourcePath:  src.Path,
				SourceName:  src.Name,
				ChunkIndex:  index,
				TokenCount:  end - start,
				StartOffset: start,
				EndOffset:   end,
			})
		}
		next := start + step
		if next <= start {
			break
		}
		start = next
	}
	return chunks
}

func windowStart(spans []Span, start int) int {
	if start == 0 {
		return 0
	}
	return spans[start].Start
}

func windowEnd(text string, spans []Span, end int) int {
	if end >= len(spans) {
		return len(text)
	}
	return spans[end].Start
}
