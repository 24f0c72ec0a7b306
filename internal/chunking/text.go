package chunking

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// TextChunker emits fixed token windows that overlap by OverlapTokens.
type TextChunker struct {
	tok           Tokenizer
	MaxTokens     int
	OverlapTokens int
}

// NewTextChunker validates the window parameters. An overlap at or above
// maxTokens would never advance and is rejected.
func NewTextChunker(tok Tokenizer, maxTokens, overlapTokens int) (*TextChunker, error) {
	if tok == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if maxTokens <= 0 {
		return nil, ErrInvalidMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		return nil, fmt.Errorf("%w: overlap=%d max=%d", ErrOverlapTooLarge, overlapTokens, maxTokens)
	}
	return &TextChunker{tok: tok, MaxTokens: maxTokens, OverlapTokens: overlapTokens}, nil
}

// CountTokens returns the number of tokens in text.
func (c *TextChunker) CountTokens(text string) int {
	return len(c.tok.Encode(text))
}

// Chunk splits text into overlapping windows. Blank text yields no chunks.
//
// BPE tokens can end inside a multi-byte character, so window edges are
// moved to the nearest character boundary and every emitted chunk is valid
// UTF-8. A window that re-encodes to more than MaxTokens is shrunk one
// character at a time. A single character needing more than MaxTokens
// tokens is emitted on its own.
func (c *TextChunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}

	tokens := c.tok.Encode(text)
	total := len(tokens)
	if total <= c.MaxTokens {
		return []Chunk{{
			Text:        text,
			Index:       0,
			StartChar:   0,
			EndChar:     len(text),
			TokenCount:  total,
			ContentHash: ContentHash(text),
		}}
	}

	// offsets[i] is the byte offset where token i starts
	offsets := make([]int, total+1)
	for i, t := range tokens {
		offsets[i+1] = offsets[i] + len(c.tok.Decode([]int{t}))
	}

	var chunks []Chunk
	for start := 0; start < len(text); {
		first := sort.SearchInts(offsets, start)
		end := offsets[min(first+c.MaxTokens, total)]
		for end > start && end < len(text) && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == start {
			_, size := utf8.DecodeRuneInString(text[start:])
			end = start + size
		}

		count := c.CountTokens(text[start:end])
		for count > c.MaxTokens {
			_, size := utf8.DecodeLastRuneInString(text[start:end])
			if end-size <= start {
				break
			}
			end -= size
			count = c.CountTokens(text[start:end])
		}

		chunkText := text[start:end]
		chunks = append(chunks, Chunk{
			Text:        chunkText,
			Index:       len(chunks),
			StartChar:   start,
			EndChar:     end,
			TokenCount:  count,
			ContentHash: ContentHash(chunkText),
		})
		if end == len(text) {
			break
		}

		next := end
		if c.OverlapTokens > 0 {
			last := sort.SearchInts(offsets, end)
			next = min(offsets[max(last-c.OverlapTokens, 0)], end)
			if next <= start {
				next = end
			}
			for next < end && !utf8.RuneStart(text[next]) {
				next++
			}
		}
		start = next
	}
	return chunks
}
