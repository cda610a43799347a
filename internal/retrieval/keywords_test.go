package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractKeywordsFiltersStopWordsAndRareWords(t *testing.T) {
	text := "the cat sat on the mat. the cat ran. a dog barked once."
	keywords := ExtractKeywords(text, 5)

	assert.Contains(t, keywords, "cat") // appears twice
	assert.NotContains(t, keywords, "the")
	assert.NotContains(t, keywords, "dog") // appears once, below the frequency floor
}

func TestExtractKeywordsIsDeterministic(t *testing.T) {
	text := "apple banana apple cherry banana apple cherry cherry banana"
	first := ExtractKeywords(text, 3)
	second := ExtractKeywords(text, 3)
	require.Equal(t, first, second)
	assert.Equal(t, []string{"apple", "banana", "cherry"}, first)
}

func TestExtractKeywordsRespectsLimit(t *testing.T) {
	text := "alpha alpha beta beta gamma gamma delta delta"
	keywords := ExtractKeywords(text, 2)
	assert.Len(t, keywords, 2)
}
