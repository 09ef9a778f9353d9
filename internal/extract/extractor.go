// Package extract provides text extraction from various document formats.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type extractFunc func(content []byte) (string, error)

// formats maps a lower-case extension to its extractor.
var formats = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
	".pptx": extractPPTX,
	".odp":  extractODF,
	".ods":  extractODF,
	".odt":  extractODF,
	".html": extractHTML,
	".htm":  extractHTML,
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supports reports whether ext (with leading dot, any case) has a dedicated extractor.
func (e *Extractor) Supports(ext string) bool {
	_, ok := formats[strings.ToLower(ext)]
	return ok
}

// SupportedExtensions returns the known extensions in sorted order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := formats[strings.ToLower(ext)]
	if !ok {
		fn = extractPlain
	}
	return fn(content)
}
