package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextCoversWholeInput(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100)
	chunks := ChunkText("doc-1", text, ChunkParams{ChunkSize: 200, Overlap: 40})
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Equal(t, len(text), last.CharOffset+len(last.Text), "last chunk must reach the end of the text")

	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, "doc-1", c.DocumentID)
	}
}

func TestChunkTextIsDeterministic(t *testing.T) {
	text := strings.Repeat("Paragraph one.\n\nParagraph two has more words in it.\n\n", 20)
	params := ChunkParams{ChunkSize: 150, Overlap: 30}

	first := ChunkText("doc-2", text, params)
	second := ChunkText("doc-2", text, params)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

func TestChunkTextGuaranteesOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 50) // no separators at all, forces hard cuts
	chunks := ChunkText("doc-3", text, ChunkParams{ChunkSize: 100, Overlap: 20})
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].CharOffset + len(chunks[i-1].Text)
		assert.LessOrEqual(t, chunks[i].CharOffset, prevEnd, "chunk %d must start at or before the previous chunk's end", i)
	}
}

func TestChunkTextLeavesNoGapBetweenChunks(t *testing.T) {
	// an adversarial separator placement: paragraph breaks land just inside
	// the tolerance window, which used to snap a chunk's end backward far
	// enough that the next fixed-stride start skipped past it.
	text := strings.Repeat("word ", 5) + "\n\n" + strings.Repeat("y", 300)
	chunks := ChunkText("doc-6", text, ChunkParams{ChunkSize: 30, Overlap: 10})
	require.NotEmpty(t, chunks)

	covered := 0
	for i, c := range chunks {
		if i == 0 {
			assert.Equal(t, 0, c.CharOffset, "first chunk must start at 0")
		} else {
			assert.LessOrEqual(t, c.CharOffset, covered, "chunk %d leaves a gap: previous coverage ended at %d, this chunk starts at %d", i, covered, c.CharOffset)
		}
		end := c.CharOffset + len(c.Text)
		if end > covered {
			covered = end
		}
	}
	assert.Equal(t, len(text), covered, "chunks must cover the entire input with no gaps")
}

func TestChunkTextEmptyInput(t *testing.T) {
	assert.Nil(t, ChunkText("doc-4", "", ChunkParams{ChunkSize: 100, Overlap: 10}))
}

func TestChunkTextInvalidOverlapFallsBackToZero(t *testing.T) {
	text := strings.Repeat("x", 500)
	chunks := ChunkText("doc-5", text, ChunkParams{ChunkSize: 100, Overlap: 999})
	require.NotEmpty(t, chunks)
	// overlap >= chunk_size is invalid and resets to 0; windows should not
	// regress backward relative to each other.
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].CharOffset, chunks[i-1].CharOffset)
	}
}
