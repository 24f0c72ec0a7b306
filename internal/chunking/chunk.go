// Package chunking splits documents into token-bounded chunks for embedding.
package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Defaults used when a chunker is built from configuration.
const (
	DefaultMaxTokens        = 512
	DefaultOverlapTokens    = 50
	DefaultOverlapSentences = 1
)

// Strategy names accepted by New.
const (
	StrategyToken    = "token"
	StrategySentence = "sentence"
)

var (
	// ErrOverlapTooLarge is returned when the window could never advance.
	ErrOverlapTooLarge = errors.New("overlap must be smaller than max tokens")
	// ErrInvalidMaxTokens is returned for a non-positive window size.
	ErrInvalidMaxTokens = errors.New("max tokens must be positive")
)

// Chunk is one segment of a document. StartChar and EndChar are byte offsets
// into the original text.
type Chunk struct {
	Text        string `json:"text"`
	Index       int    `json:"index"`
	StartChar   int    `json:"start_char"`
	EndChar     int    `json:"end_char"`
	TokenCount  int    `json:"token_count"`
	ContentHash string `json:"content_hash"`
}

// SourceRef identifies the database row a document came from.
type SourceRef struct {
	Schema string `json:"source_schema"`
	Table  string `json:"source_table"`
	ID     string `json:"source_id"`
}

// SourceChunk is a chunk annotated with the row it belongs to.
type SourceChunk struct {
	SourceRef
	Chunk
}

// Chunker splits text into chunks.
type Chunker interface {
	Chunk(text string) []Chunk
	CountTokens(text string) int
}

// ContentHash returns the first 16 hex characters of the SHA-256 of text.
// It is a deduplication key, not a security primitive.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// WithSource chunks text with c and attaches ref to every chunk.
func WithSource(c Chunker, text string, ref SourceRef) []SourceChunk {
	chunks := c.Chunk(text)
	out := make([]SourceChunk, len(chunks))
	for i, ch := range chunks {
		out[i] = SourceChunk{SourceRef: ref, Chunk: ch}
	}
	return out
}

// New builds a chunker for strategy. For the sentence strategy overlap is
// a sentence count, otherwise a token count.
func New(strategy string, tok Tokenizer, maxTokens, overlap int) (Chunker, error) {
	switch strings.ToLower(strategy) {
	case "", StrategyToken:
		return NewTextChunker(tok, maxTokens, overlap)
	case StrategySentence:
		return NewSentenceChunker(tok, maxTokens, overlap)
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
	}
}
