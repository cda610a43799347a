package retrieval

import (
	"strconv"
	"strings"
)

const instruction = "Answer the question using only the excerpts below. " +
	"If the excerpts do not contain enough information to answer, say so plainly " +
	"rather than guessing."

// AssemblePrompt concatenates retrieved chunks with clear separators and a
// fixed instruction constraining the downstream model to the provided
// excerpts.
func AssemblePrompt(question string, chunks []ScoredChunk) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n")
	for i, sc := range chunks {
		b.WriteString("Excerpt ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(":\n")
		b.WriteString(sc.Chunk.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
