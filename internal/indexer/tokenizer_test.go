package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spanTexts(text string, spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = text[s.Start:s.End]
	}
	return out
}

func TestNewTokenizer(t *testing.T) {
	tok, err := NewTokenizer("")
	require.NoError(t, err)
	assert.Equal(t, TokenizerWord, tok.Name())

	tok, err = NewTokenizer(TokenizerWhitespace)
	require.NoError(t, err)
	assert.Equal(t, TokenizerWhitespace, tok.Name())

	_, err = NewTokenizer("bpe")
	assert.Error(t, err)
}

func TestWordTokenizer_SkipsPunctuation(t *testing.T) {
	text := "Hello, world! Fire-exit 42."
	spans := NewWordTokenizer().Tokenize(text)
	assert.Equal(t, []string{"Hello", "world", "Fire", "exit", "42"}, spanTexts(text, spans))
}

func TestWhitespaceTokenizer(t *testing.T) {
	text := "  héllo,\tworld\n\nagain "
	spans := WhitespaceTokenizer{}.Tokenize(text)
	assert.Equal(t, []string{"héllo,", "world", "again"}, spanTexts(text, spans))
	assert.Empty(t, WhitespaceTokenizer{}.Tokenize("   "))
}
