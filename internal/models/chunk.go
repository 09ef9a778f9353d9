// Package models defines core data structures for chunks, search results, reports and errors.
package models

import (
	"path/filepath"
	"strings"
)

// SourceRef identifies the document a chunk was cut from.
type SourceRef struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// NewSourceRef builds a reference from a walked path.
func NewSourceRef(path string) SourceRef {
	return SourceRef{Path: path, Name: filepath.Base(path)}
}

// Stem returns the file name without its extension.
func (s SourceRef) Stem() string {
	name := s.Name
	if name == "" {
		name = filepath.Base(s.Path)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Chunk is a bounded, overlapping slice of a document's text.
// StartOffset and EndOffset are token positions, not byte offsets.
type Chunk struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SourcePath  string `json:"source_path"`
	SourceName  string `json:"source_name"`
	ChunkIndex  int    `json:"chunk_index"`
	TokenCount  int    `json:"token_count"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// Metadata returns the metadata stored with the chunk's index entry.
func (c Chunk) Metadata() ChunkMetadata {
	return ChunkMetadata{
		ChunkID:     c.ID,
		SourceFile:  c.SourcePath,
		SourceName:  c.SourceName,
		ChunkIndex:  c.ChunkIndex,
		TokenCount:  c.TokenCount,
		StartOffset: c.StartOffset,
		EndOffset:   c.EndOffset,
	}
}

// ChunkMetadata travels with every index entry and survives persistence unchanged.
type ChunkMetadata struct {
	ChunkID     string            `json:"chunk_id"`
	SourceFile  string            `json:"source_file"`
	SourceName  string            `json:"source_name"`
	ChunkIndex  int               `json:"chunk_index"`
	TokenCount  int               `json:"token_count"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	Extra       map[string]string `json:"extra,omitempty"`
}
