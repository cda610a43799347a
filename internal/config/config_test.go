package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresModelAPIKey(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("MODEL_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 3, cfg.TopKDefault)
	assert.Equal(t, 20, cfg.TopKMax)
	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.Equal(t, 40000, cfg.FullDocumentCharCeiling)
	assert.Equal(t, "gemini-2.0-flash", cfg.ModelID)
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("MODEL_API_KEY", "test-key")
	t.Setenv("PORT", "9090")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("TOP_K_DEFAULT", "10")
	t.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 10, cfg.TopKDefault)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
}

func TestLoadIgnoresUnparseableIntAndFallsBackToDefault(t *testing.T) {
	t.Setenv("MODEL_API_KEY", "test-key")
	t.Setenv("CHUNK_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.ChunkSize)
}

func TestSplitCSVEmptyStringReturnsNil(t *testing.T) {
	assert.Nil(t, splitCSV(""))
}

func TestSplitCSVSingleValue(t *testing.T) {
	assert.Equal(t, []string{"a"}, splitCSV("a"))
}

func TestSplitCSVTrimsEmptyEntries(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV("a,,b,"))
}

func TestGetEnvFloat64Default(t *testing.T) {
	assert.Equal(t, 2.5, getEnvFloat64("UNSET_FLOAT_KEY_FOR_TEST", 2.5))
}

func TestGetEnvInt64Override(t *testing.T) {
	t.Setenv("OVERRIDE_INT64_KEY_FOR_TEST", "12345")
	assert.Equal(t, int64(12345), getEnvInt64("OVERRIDE_INT64_KEY_FOR_TEST", 0))
}
