package retrieval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// slowEmbedder embeds after a short delay and counts invocations, letting
// tests assert that concurrent callers for the same document share one build.
type slowEmbedder struct {
	calls atomic.Int64
	delay time.Duration
	dim   int
}

func (e *slowEmbedder) ID() string { return "slow-embedder" }
func (e *slowEmbedder) Dim() int   { return e.dim }

func (e *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func TestGetOrBuildSingleFlight(t *testing.T) {
	embedder := &slowEmbedder{delay: 50 * time.Millisecond, dim: 4}
	reg := New(t.TempDir(), embedder, ChunkParams{ChunkSize: 50, Overlap: 10})

	var extractCalls atomic.Int64
	extractText := func() (string, error) {
		extractCalls.Add(1)
		return "some document text that is long enough to produce a chunk or two of content.", nil
	}

	const concurrency = 10
	var wg sync.WaitGroup
	results := make([]*Index, concurrency)
	errs := make([]error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := reg.GetOrBuild(context.Background(), "doc-shared", extractText)
			results[i] = idx
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		require.NoError(t, errs[i])
		require.Same(t, results[0], results[i], "all concurrent callers must observe the same built index")
	}
	require.Equal(t, int64(1), extractCalls.Load(), "extraction must happen exactly once under concurrent callers")
	require.Equal(t, int64(1), embedder.calls.Load(), "embedding must happen exactly once under concurrent callers")
}

func TestGetOrBuildReusesReadyEntry(t *testing.T) {
	embedder := &slowEmbedder{delay: time.Millisecond, dim: 4}
	reg := New(t.TempDir(), embedder, ChunkParams{ChunkSize: 50, Overlap: 10})

	extractText := func() (string, error) {
		return "enough text here to produce at least one chunk of meaningful content.", nil
	}

	first, err := reg.GetOrBuild(context.Background(), "doc-seq", extractText)
	require.NoError(t, err)

	second, err := reg.GetOrBuild(context.Background(), "doc-seq", extractText)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, int64(1), embedder.calls.Load(), "a second call for an already-ready document must not rebuild")
}

func TestDeleteRefusesWhileBuilding(t *testing.T) {
	embedder := &slowEmbedder{delay: 100 * time.Millisecond, dim: 4}
	reg := New(t.TempDir(), embedder, ChunkParams{ChunkSize: 50, Overlap: 10})

	extractText := func() (string, error) {
		return "text long enough to chunk while the delete call races the build.", nil
	}

	done := make(chan struct{})
	go func() {
		_, _ = reg.GetOrBuild(context.Background(), "doc-building", extractText)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // let the build start and register as "building"
	err := reg.Delete("doc-building")
	require.Error(t, err)

	<-done
}
