package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
)

func TestEvaluateTextQualityScoresCleanTextHigh(t *testing.T) {
	clean := "This is a perfectly ordinary sentence. It has punctuation, spacing, and real words."
	score := evaluateTextQuality(clean)
	// 0.7 is the band ExtractText accepts without a fallback; text under 100
	// characters gets no length bonus, so this sentence lands on it exactly.
	assert.GreaterOrEqual(t, score, 0.7)
}

func TestEvaluateTextQualityScoresCorruptedTextLow(t *testing.T) {
	corrupted := "������������"
	score := evaluateTextQuality(corrupted)
	assert.Less(t, score, 0.3)
}

func TestEvaluateTextQualityEmptyText(t *testing.T) {
	assert.Equal(t, 0.0, evaluateTextQuality(""))
}

func TestCheckYieldFlagsLowDensity(t *testing.T) {
	e := New(100)
	result := &Result{NumPages: 10, NumCharacters: 50} // 5 chars/page
	_, err := e.checkYield(result, 1000)
	require.Error(t, err)
	var lowYield *LowYieldError
	require.ErrorAs(t, err, &lowYield)
}

func TestCheckYieldAcceptsHighDensity(t *testing.T) {
	e := New(100)
	result := &Result{NumPages: 10, NumCharacters: 5000} // 500 chars/page
	_, err := e.checkYield(result, 1000)
	require.NoError(t, err)
}

func TestCheckYieldSkipsZeroPageDocuments(t *testing.T) {
	e := New(100)
	result := &Result{NumPages: 0, NumCharacters: 0}
	_, err := e.checkYield(result, 100)
	require.NoError(t, err)
}

func TestExtractTextMissingFile(t *testing.T) {
	e := New(100)
	_, err := e.ExtractText(filepath.Join(t.TempDir(), "does-not-exist.pdf"))
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ExtractFailed, appErr.Kind)
}

func TestExtractTextRefusesOversizedFile(t *testing.T) {
	e := New(100)
	e.MaxPDFBytes = 10

	path := filepath.Join(t.TempDir(), "big.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this file is longer than ten bytes"), 0o644))

	_, err := e.ExtractText(path)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.BadInput, appErr.Kind)
}

func TestGuessPageCountUsesFormFeeds(t *testing.T) {
	text := "page one\fpage two\fpage three"
	assert.Equal(t, 3, guessPageCount(text))
}

func TestGuessPageCountFallsBackToLengthHeuristic(t *testing.T) {
	text := "short text with no form feed markers"
	assert.Equal(t, 1, guessPageCount(text))
}
