package indexer

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Span is a token's byte range in the original text.
type Span struct {
	Start int
	End   int
}

// Tokenizer splits text into ordered, non-overlapping token spans.
type Tokenizer interface {
	Tokenize(text string) []Span
	Name() string
}

// Tokenizer modes accepted by NewTokenizer.
const (
	TokenizerWord       = "word"
	TokenizerWhitespace = "whitespace"
)

// NewTokenizer returns the tokenizer for mode ("" selects word).
func NewTokenizer(mode string) (Tokenizer, error) {
	switch mode {
	case "", TokenizerWord:
		return NewWordTokenizer(), nil
	case TokenizerWhitespace:
		return WhitespaceTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", mode)
	}
}

// WordTokenizer segments text into Unicode words (UAX #29). Punctuation and spaces
// are not tokens but remain part of the chunk text between tokens.
type WordTokenizer struct {
	segmenter *bleveunicode.UnicodeTokenizer
}

// NewWordTokenizer creates a word tokenizer.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{segmenter: bleveunicode.NewUnicodeTokenizer()}
}

// Tokenize returns word spans.
func (t *WordTokenizer) Tokenize(text string) []Span {
	stream := t.segmenter.Tokenize([]byte(text))
	spans := make([]Span, 0, len(stream))
	for _, tok := range stream {
		spans = append(spans, Span{Start: tok.Start, End: tok.End})
	}
	return spans
}

// Name returns the tokenizer mode.
func (t *WordTokenizer) Name() string { return TokenizerWord }

// WhitespaceTokenizer treats every maximal run of non-space runes as a token.
type WhitespaceTokenizer struct{}

// Tokenize returns spans of non-space runs.
func (WhitespaceTokenizer) Tokenize(text string) []Span {
	var spans []Span
	start := -1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, Span{Start: start, End: i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += size
	}
	if start >= 0 {
		spans = append(spans, Span{Start: start, End: len(text)})
	}
	return spans
}

// Name returns the tokenizer mode.
func (WhitespaceTokenizer) Name() string { return TokenizerWhitespace }
