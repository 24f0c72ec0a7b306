package chunking

import (
	"fmt"
	"regexp"
	"strings"
)

var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// SentenceChunker packs whole sentences into chunks of at most MaxTokens,
// seeding each chunk with the last OverlapSentences of the previous one.
// A sentence longer than MaxTokens is split by a TextChunker.
type SentenceChunker struct {
	tok              Tokenizer
	MaxTokens        int
	OverlapSentences int
	fallback         *TextChunker
}

type sentence struct {
	text       string
	start, end int
}

// NewSentenceChunker validates maxTokens and builds the fallback window chunker.
func NewSentenceChunker(tok Tokenizer, maxTokens, overlapSentences int) (*SentenceChunker, error) {
	if tok == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if maxTokens <= 0 {
		return nil, ErrInvalidMaxTokens
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	fallbackOverlap := DefaultOverlapTokens
	if fallbackOverlap >= maxTokens {
		fallbackOverlap = maxTokens / 2
	}
	fallback, err := NewTextChunker(tok, maxTokens, fallbackOverlap)
	if err != nil {
		return nil, err
	}
	return &SentenceChunker{
		tok:              tok,
		MaxTokens:        maxTokens,
		OverlapSentences: overlapSentences,
		fallback:         fallback,
	}, nil
}

// CountTokens returns the number of tokens in text.
func (c *SentenceChunker) CountTokens(text string) int {
	return len(c.tok.Encode(text))
}

// splitSentences breaks text after ., ! or ? followed by whitespace.
func splitSentences(text string) []sentence {
	var out []sentence
	add := func(from, to int) {
		raw := text[from:to]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return
		}
		lead := strings.Index(raw, trimmed)
		out = append(out, sentence{text: trimmed, start: from + lead, end: from + lead + len(trimmed)})
	}

	prev := 0
	for _, m := range sentenceBoundary.FindAllStringIndex(text, -1) {
		add(prev, m[0]+1)
		prev = m[1]
	}
	add(prev, len(text))
	return out
}

// Chunk splits text on sentence boundaries. Chunk text is the member
// sentences joined by a single space; offsets span the first to last
// sentence in the original text.
func (c *SentenceChunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sentences := splitSentences(text)

	var (
		chunks  []Chunk
		current []sentence
	)
	join := func(ss []sentence) string {
		parts := make([]string, len(ss))
		for i, s := range ss {
			parts[i] = s.text
		}
		return strings.Join(parts, " ")
	}
	emit := func() {
		if len(current) == 0 {
			return
		}
		chunkText := join(current)
		chunks = append(chunks, Chunk{
			Text:        chunkText,
			Index:       len(chunks),
			StartChar:   current[0].start,
			EndChar:     current[len(current)-1].end,
			TokenCount:  c.CountTokens(chunkText),
			ContentHash: ContentHash(chunkText),
		})
	}
	retain := func() {
		if c.OverlapSentences == 0 || len(current) == 0 {
			current = nil
			return
		}
		keep := min(c.OverlapSentences, len(current))
		current = append([]sentence(nil), current[len(current)-keep:]...)
	}

	for _, s := range sentences {
		if c.CountTokens(s.text) > c.MaxTokens {
			emit()
			current = nil
			for _, sub := range c.fallback.Chunk(s.text) {
				sub.Index = len(chunks)
				sub.StartChar += s.start
				sub.EndChar += s.start
				chunks = append(chunks, sub)
			}
			continue
		}

		candidate := append(append([]sentence(nil), current...), s)
		if c.CountTokens(join(candidate)) <= c.MaxTokens {
			current = candidate
			continue
		}

		emit()
		retain()
		candidate = append(current, s)
		if c.CountTokens(join(candidate)) > c.MaxTokens {
			// the retained overlap does not fit alongside this sentence
			candidate = []sentence{s}
		}
		current = candidate
	}
	emit()
	return chunks
}
