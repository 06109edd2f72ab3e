package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		maxSize int
		overlap int
	}{
		{"zero max size", 0, 0},
		{"negative max size", -1, 0},
		{"negative overlap", 100, -1},
		{"overlap equals max size", 100, 100},
		{"overlap exceeds max size", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.maxSize, tc.overlap)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c, err := New(512, 50)
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\n\t"} {
		_, err := c.Chunk(text, nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	c, err := New(512, 50)
	require.NoError(t, err)

	chunks, err := c.Chunk("A short paragraph.", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "A short paragraph.", chunks[0].Text)
	assert.Equal(t, 18, chunks[0].Size)
}

func TestChunkSeparatorRetained(t *testing.T) {
	c, err := New(15, 0)
	require.NoError(t, err)

	chunks, err := c.Chunk("Hello world. Goodbye moon.", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello world. ", chunks[0].Text)
	assert.Equal(t, "Goodbye moon.", chunks[1].Text)
}

func TestChunkBoundsAndOrdering(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Sentences vary a little in length here, naturally. ")
		if i%5 == 4 {
			b.WriteString("\n\n")
		}
	}

	c, err := New(200, 40)
	require.NoError(t, err)

	chunks, err := c.Chunk(b.String(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Greater(t, ch.Size, 0)
		assert.LessOrEqual(t, ch.Size, 200)
		assert.Equal(t, utf8.RuneCountInString(ch.Text), ch.Size)
	}
}

func TestChunkOverlapSharedSpan(t *testing.T) {
	// Ten sentences of exactly 20 characters each.
	sentences := make([]string, 10)
	for i := range sentences {
		sentences[i] = strings.Repeat(string(rune('a'+i)), 18) + ". "
	}
	text := strings.Join(sentences, "")

	c, err := New(100, 30)
	require.NoError(t, err)

	chunks, err := c.Chunk(text, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// Each chunk after the first starts with the tail of its predecessor.
	assert.True(t, strings.HasSuffix(chunks[0].Text, sentences[4]))
	assert.True(t, strings.HasPrefix(chunks[1].Text, sentences[4]))
	assert.True(t, strings.HasSuffix(chunks[1].Text, sentences[8]))
	assert.True(t, strings.HasPrefix(chunks[2].Text, sentences[8]))
}

func TestChunkTwelveHundredCharsYieldsThree(t *testing.T) {
	// 20 sentences x 60 chars = 1200 characters.
	sentence := strings.Repeat("a", 58) + ". "
	text := strings.Repeat(sentence, 20)
	require.Equal(t, 1200, len(text))

	c, err := New(512, 50)
	require.NoError(t, err)

	chunks, err := c.Chunk(text, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.Size, 512)
	}
}

func TestChunkHardCharacterFallback(t *testing.T) {
	text := strings.Repeat("x", 1300)

	c, err := New(512, 50)
	require.NoError(t, err)

	chunks, err := c.Chunk(text, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	var total int
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.Size, 512)
		total += ch.Size
	}
	assert.Equal(t, 1300, total)
}

func TestChunkUnicodeCountsRunes(t *testing.T) {
	text := strings.Repeat("日本語 ", 100) // 4 runes per repetition

	c, err := New(50, 10)
	require.NoError(t, err)

	chunks, err := c.Chunk(text, nil)
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.Size, 50)
	}
}

func TestChunkDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("Deterministic output matters for idempotent retries; truly. ")
	}
	text := b.String()

	c, err := New(180, 40)
	require.NoError(t, err)

	first, err := c.Chunk(text, map[string]string{"document_id": "doc_a"})
	require.NoError(t, err)
	second, err := c.Chunk(text, map[string]string{"document_id": "doc_a"})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].Index, second[i].Index)
	}
}

func TestChunkMetadataCopiedPerChunk(t *testing.T) {
	c, err := New(30, 5)
	require.NoError(t, err)

	meta := map[string]string{"document_id": "doc_a", "file_type": "pdf"}
	chunks, err := c.Chunk("First sentence here. Second sentence here. Third one.", meta)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	chunks[0].Metadata["mutated"] = "yes"
	_, leaked := chunks[1].Metadata["mutated"]
	assert.False(t, leaked)
	assert.Equal(t, "doc_a", chunks[1].Metadata["document_id"])
}
