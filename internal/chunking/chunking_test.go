package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runeTokenizer treats every rune as one token.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeTokenizer) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

func TestContentHash(t *testing.T) {
	h := ContentHash("Some text to chunk.")
	assert.Len(t, h, 16)
	assert.Equal(t, h, ContentHash("Some text to chunk."))
	assert.NotEqual(t, h, ContentHash("some text to chunk."))
	assert.NotEqual(t, h, ContentHash("Some text to chunk. "))
	// sha256("") prefix
	assert.Equal(t, "e3b0c44298fc1c14", ContentHash(""))
}

func TestNewTextChunker_RejectsStalledWindow(t *testing.T) {
	_, err := NewTextChunker(runeTokenizer{}, 10, 10)
	assert.ErrorIs(t, err, ErrOverlapTooLarge)

	_, err = NewTextChunker(runeTokenizer{}, 10, 12)
	assert.ErrorIs(t, err, ErrOverlapTooLarge)

	_, err = NewTextChunker(runeTokenizer{}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidMaxTokens)
}

func TestTextChunker_BlankText(t *testing.T) {
	c, err := NewTextChunker(runeTokenizer{}, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\t"))
}

func TestTextChunker_ShortTextIsSingleChunk(t *testing.T) {
	c, err := NewTextChunker(runeTokenizer{}, 100, 10)
	require.NoError(t, err)

	text := "This is a short sentence."
	chunks := c.Chunk(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, len(text), chunks[0].EndChar)
	assert.Equal(t, len(text), chunks[0].TokenCount)
}

func TestTextChunker_WindowsAndOverlap(t *testing.T) {
	c, err := NewTextChunker(runeTokenizer{}, 10, 2)
	require.NoError(t, err)

	text := strings.Repeat("abcdefghij", 3) // 30 tokens
	chunks := c.Chunk(text)

	// starts at 0, 8, 16, 24 and the last window reaches the end
	require.Len(t, chunks, 4)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.TokenCount, 10)
		assert.Equal(t, text[ch.StartChar:ch.EndChar], ch.Text)
	}
	assert.Equal(t, 24, chunks[3].StartChar)
	assert.Equal(t, 30, chunks[3].EndChar)
	assert.Equal(t, chunks[0].Text[8:], chunks[1].Text[:2])
}

func TestTextChunker_ExactFitHasNoTrailingChunk(t *testing.T) {
	c, err := NewTextChunker(runeTokenizer{}, 10, 2)
	require.NoError(t, err)

	// 18 tokens: windows [0,10) and [8,18)
	chunks := c.Chunk(strings.Repeat("x", 18))
	require.Len(t, chunks, 2)
	assert.Equal(t, 18, chunks[1].EndChar)
}

func TestTextChunker_RoundTrip(t *testing.T) {
	inputs := []string{
		"The quick brown fox jumps over the lazy dog. " + strings.Repeat("Lorem ipsum dolor sit amet. ", 40),
		strings.Repeat("é日本語 ", 50),
		"short",
	}
	for _, overlap := range []int{0, 3, 15} {
		c, err := NewTextChunker(runeTokenizer{}, 16, overlap)
		require.NoError(t, err)
		for _, text := range inputs {
			chunks := c.Chunk(text)
			require.NotEmpty(t, chunks)

			var b strings.Builder
			covered := 0
			for _, ch := range chunks {
				assert.LessOrEqual(t, c.CountTokens(ch.Text), 16)
				b.WriteString(ch.Text[covered-ch.StartChar:])
				covered = ch.EndChar
			}
			assert.Equal(t, text, b.String())
		}
	}
}

func TestSplitSentences(t *testing.T) {
	text := "First one.  Second?\nThird! trailing"
	got := splitSentences(text)
	require.Len(t, got, 4)
	assert.Equal(t, "First one.", got[0].text)
	assert.Equal(t, "Second?", got[1].text)
	assert.Equal(t, "Third!", got[2].text)
	assert.Equal(t, "trailing", got[3].text)
	for _, s := range got {
		assert.Equal(t, s.text, text[s.start:s.end])
	}
}

func TestSentenceChunker_PacksWholeSentences(t *testing.T) {
	c, err := NewSentenceChunker(runeTokenizer{}, 40, 1)
	require.NoError(t, err)

	text := "First sentence. Second sentence. Third sentence."
	chunks := c.Chunk(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, "First sentence. Second sentence.", chunks[0].Text)
	assert.Equal(t, "Second sentence. Third sentence.", chunks[1].Text)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, len(text), chunks[1].EndChar)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, 40)
	}
}

func TestSentenceChunker_NoOverlap(t *testing.T) {
	c, err := NewSentenceChunker(runeTokenizer{}, 21, 0)
	require.NoError(t, err)

	chunks := c.Chunk("Alpha beta. Gamma delta. Epsilon.")
	require.Len(t, chunks, 2)
	assert.Equal(t, "Alpha beta.", chunks[0].Text)
	assert.Equal(t, "Gamma delta. Epsilon.", chunks[1].Text)
}

func TestSentenceChunker_OversizedSentenceFallsBack(t *testing.T) {
	c, err := NewSentenceChunker(runeTokenizer{}, 10, 0)
	require.NoError(t, err)

	long := strings.Repeat("This is a very long sentence ", 20)
	chunks := c.Chunk("Hi. " + long)
	require.Greater(t, len(chunks), 2)
	assert.Equal(t, "Hi.", chunks[0].Text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.TokenCount, 10)
	}
	assert.Equal(t, 4, chunks[1].StartChar)
}

func TestNew_Strategies(t *testing.T) {
	c, err := New("", runeTokenizer{}, 512, 50)
	require.NoError(t, err)
	tc, ok := c.(*TextChunker)
	require.True(t, ok)
	assert.Equal(t, 50, tc.OverlapTokens)

	c, err = New(StrategySentence, runeTokenizer{}, 512, 2)
	require.NoError(t, err)
	sc, ok := c.(*SentenceChunker)
	require.True(t, ok)
	assert.Equal(t, 2, sc.OverlapSentences)

	_, err = New("paragraph", runeTokenizer{}, 512, 2)
	assert.Error(t, err)
}

func TestWithSource(t *testing.T) {
	c, err := NewTextChunker(runeTokenizer{}, 100, 10)
	require.NoError(t, err)

	ref := SourceRef{Schema: "usaspending", Table: "awards", ID: "test-123"}
	out := WithSource(c, "Text to chunk with metadata.", ref)
	require.Len(t, out, 1)
	assert.Equal(t, "usaspending", out[0].Schema)
	assert.Equal(t, "awards", out[0].Table)
	assert.Equal(t, "test-123", out[0].ID)
	assert.Equal(t, 0, out[0].Index)
}

func TestTiktokenTokenizer(t *testing.T) {
	tok, err := NewTiktokenTokenizer("")
	require.NoError(t, err)

	assert.Len(t, tok.Encode("Hello world"), 2)

	c, err := NewTextChunker(tok, 10, 2)
	require.NoError(t, err)
	text := "This is a longer text that should be split into multiple chunks for testing purposes."
	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.TokenCount, 10)
		assert.Equal(t, text[ch.StartChar:ch.EndChar], ch.Text)
	}
}

func TestTextChunker_TiktokenKeepsCharactersWhole(t *testing.T) {
	tok, err := NewTiktokenTokenizer("")
	require.NoError(t, err)

	inputs := []string{
		strings.Repeat("𓀀𓀁𓀂 🛂🦩🪿 ꙮ ", 10),
		strings.Repeat("移民局の記録と裁判所の文書。", 12),
		"Détention à l'aéroport 🛬 " + strings.Repeat("naïve café ", 15),
	}
	for _, maxTokens := range []int{5, 9, 16} {
		for _, overlap := range []int{0, 1, 3} {
			c, err := NewTextChunker(tok, maxTokens, overlap)
			require.NoError(t, err)
			for _, text := range inputs {
				chunks := c.Chunk(text)
				require.NotEmpty(t, chunks)

				var b strings.Builder
				covered := 0
				for i, ch := range chunks {
					assert.Equal(t, i, ch.Index)
					assert.True(t, utf8.ValidString(ch.Text), "chunk %d of max=%d is not valid UTF-8: %q", i, maxTokens, ch.Text)
					assert.LessOrEqual(t, c.CountTokens(ch.Text), maxTokens)
					assert.Equal(t, c.CountTokens(ch.Text), ch.TokenCount)
					assert.Equal(t, text[ch.StartChar:ch.EndChar], ch.Text)
					assert.Equal(t, ContentHash(ch.Text), ch.ContentHash)
					require.LessOrEqual(t, ch.StartChar, covered)
					b.WriteString(ch.Text[covered-ch.StartChar:])
					covered = ch.EndChar
				}
				assert.Equal(t, text, b.String())
			}
		}
	}
}

func TestSentenceChunker_TiktokenFallbackKeepsCharactersWhole(t *testing.T) {
	tok, err := NewTiktokenTokenizer("")
	require.NoError(t, err)

	c, err := NewSentenceChunker(tok, 8, 0)
	require.NoError(t, err)
	chunks := c.Chunk("Short one. " + strings.Repeat("🛂🦩🪿𓀀", 12) + ".")
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text), "%q", ch.Text)
		assert.LessOrEqual(t, c.CountTokens(ch.Text), 8)
	}
}

func TestTextChunker_OversizedCharacterStillAdvances(t *testing.T) {
	tok, err := NewTiktokenTokenizer("")
	require.NoError(t, err)

	c, err := NewTextChunker(tok, 1, 0)
	require.NoError(t, err)
	text := strings.Repeat("𓀀", 4)
	chunks := c.Chunk(text)
	require.Len(t, chunks, 4)
	for _, ch := range chunks {
		assert.Equal(t, "𓀀", ch.Text)
	}
}
