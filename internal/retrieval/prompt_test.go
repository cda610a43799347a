package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssemblePromptIncludesQuestionAndExcerpts(t *testing.T) {
	chunks := []ScoredChunk{
		{Chunk: Chunk{Text: "first excerpt text"}, Score: 0.9},
		{Chunk: Chunk{Text: "second excerpt text"}, Score: 0.5},
	}
	prompt := AssemblePrompt("What happened?", chunks)

	assert.Contains(t, prompt, "Excerpt 1:")
	assert.Contains(t, prompt, "first excerpt text")
	assert.Contains(t, prompt, "Excerpt 2:")
	assert.Contains(t, prompt, "second excerpt text")
	assert.Contains(t, prompt, "Question: What happened?")
}

func TestAssemblePromptWithNoChunks(t *testing.T) {
	prompt := AssemblePrompt("Anything here?", nil)
	assert.Contains(t, prompt, "Question: Anything here?")
	assert.NotContains(t, prompt, "Excerpt")
}
