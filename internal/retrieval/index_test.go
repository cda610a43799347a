package retrieval

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testChunks(documentID string, n int) ([]Chunk, [][]float32) {
	chunks := make([]Chunk, n)
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		chunks[i] = Chunk{ID: "c", DocumentID: documentID, Ordinal: i, Text: "text", CharOffset: i * 10}
		vectors[i] = []float32{float32(i), 1 - float32(i)*0.1, 0.5}
	}
	return chunks, vectors
}

func TestIndexSearchOrdersByScoreDescending(t *testing.T) {
	chunks, vectors := testChunks("doc-1", 5)
	idx, err := Build("doc-1", chunks, vectors, "embedder-a", ChunkParams{ChunkSize: 100, Overlap: 10})
	require.NoError(t, err)

	query := []float32{1, 1, 1}
	results := idx.Search(query, 3)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		require.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestIndexSearchClampsKToAvailableCount(t *testing.T) {
	chunks, vectors := testChunks("doc-2", 2)
	idx, err := Build("doc-2", chunks, vectors, "embedder-a", ChunkParams{ChunkSize: 100, Overlap: 10})
	require.NoError(t, err)

	results := idx.Search([]float32{1, 1, 1}, 50)
	require.Len(t, results, 2)
}

func TestIndexSearchIsMonotonicInK(t *testing.T) {
	chunks, vectors := testChunks("doc-3", 10)
	idx, err := Build("doc-3", chunks, vectors, "embedder-a", ChunkParams{ChunkSize: 100, Overlap: 10})
	require.NoError(t, err)

	query := []float32{1, 1, 1}
	small := idx.Search(query, 3)
	large := idx.Search(query, 6)

	seen := make(map[int]bool)
	for _, r := range small {
		seen[r.Chunk.Ordinal] = true
	}
	matched := 0
	for _, r := range large[:3] {
		if seen[r.Chunk.Ordinal] {
			matched++
		}
	}
	require.Equal(t, 3, matched, "the top-3 of a top-6 search must match a top-3 search exactly")
}

func TestBuildRejectsMismatchedChunkVectorCounts(t *testing.T) {
	chunks, vectors := testChunks("doc-4", 3)
	_, err := Build("doc-4", chunks, vectors[:2], "embedder-a", ChunkParams{ChunkSize: 100, Overlap: 10})
	require.Error(t, err)
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "index-root")

	chunks, vectors := testChunks("doc-5", 4)
	idx, err := Build("doc-5", chunks, vectors, "embedder-a", ChunkParams{ChunkSize: 100, Overlap: 10})
	require.NoError(t, err)

	target := Dir(root, "doc-5")
	require.NoError(t, idx.Persist(target))

	loaded, err := Load(target)
	require.NoError(t, err)
	require.Equal(t, idx.Manifest, loaded.Manifest)
	require.Len(t, loaded.Chunks, len(idx.Chunks))
	require.Len(t, loaded.Vectors, len(idx.Vectors))
	for i := range idx.Vectors {
		require.InDeltaSlice(t, idx.Vectors[i], loaded.Vectors[i], 1e-6)
	}
}

func TestLoadMissingManifestIsPlainError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "does-not-exist"))
	require.Error(t, err) // absence, not corruption: callers treat this as a cache-miss and rebuild
}

func TestManifestMatches(t *testing.T) {
	params := ChunkParams{ChunkSize: 500, Overlap: 50}
	m := Manifest{EmbedderID: "embedder-a", ChunkParams: params, Dim: 768}

	require.True(t, m.Matches("embedder-a", params, 768))
	require.False(t, m.Matches("embedder-b", params, 768))
	require.False(t, m.Matches("embedder-a", ChunkParams{ChunkSize: 400, Overlap: 50}, 768))
	require.False(t, m.Matches("embedder-a", params, 1536))
}
