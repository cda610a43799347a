package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
	"github.com/nishaddevendra/pdf-qa-core/internal/extractor"
	"github.com/nishaddevendra/pdf-qa-core/internal/logger"
)

type buildState string

const (
	stateAbsent   buildState = "absent"
	stateBuilding buildState = "building"
	stateReady    buildState = "ready"
	stateFailed   buildState = "failed"
)

// entry is a registry slot for one document path. done is closed exactly
// once, when the build transitions out of "building".
type entry struct {
	state buildState
	index *Index
	err   error
	done  chan struct{}
}

// Registry is the process-global, path-keyed index cache. Concurrent
// callers for the same path build the index exactly once (single-flight);
// all others wait on the same build.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	cacheDir string
	embedder Embedder
	params   ChunkParams
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry singleton, constructing it
// lazily on first access.
func Global(cacheDir string, embedder Embedder, params ChunkParams) *Registry {
	globalOnce.Do(func() {
		global = New(cacheDir, embedder, params)
	})
	return global
}

func New(cacheDir string, embedder Embedder, params ChunkParams) *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		cacheDir: cacheDir,
		embedder: embedder,
		params:   params,
	}
}

// ContentFingerprint is the cache key used alongside the document_id:
// SHA-256 of the source bytes, resolving the path-only-vs-content-hash
// open question in favor of content hashing (see DESIGN.md).
func ContentFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// GetOrBuild returns the ready index for documentID, building it at most
// once even under concurrent callers. extractText is invoked only if no
// valid cached index exists.
func (r *Registry) GetOrBuild(ctx context.Context, documentID string, extractText func() (string, error)) (*Index, error) {
	r.mu.Lock()
	e, ok := r.entries[documentID]
	if ok {
		switch e.state {
		case stateReady:
			r.mu.Unlock()
			return e.index, nil
		case stateBuilding:
			r.mu.Unlock()
			<-e.done
			if e.err != nil {
				return nil, e.err
			}
			return e.index, nil
		case stateFailed:
			// retry a previously failed build
		}
	}
	e = &entry{state: stateBuilding, done: make(chan struct{})}
	r.entries[documentID] = e
	r.mu.Unlock()

	index, err := r.buildOrLoad(ctx, documentID, extractText)

	r.mu.Lock()
	e.index = index
	e.err = err
	if err != nil {
		e.state = stateFailed
	} else {
		e.state = stateReady
	}
	r.mu.Unlock()
	close(e.done)

	if err != nil {
		return nil, err
	}
	return index, nil
}

func (r *Registry) buildOrLoad(ctx context.Context, documentID string, extractText func() (string, error)) (*Index, error) {
	dir := Dir(r.cacheDir, documentID)

	if cached, err := Load(dir); err == nil {
		if cached.Manifest.Matches(r.embedder.ID(), r.params, r.embedder.Dim()) {
			logger.Info("retrieval index cache hit", "document_id", documentID)
			return cached, nil
		}
		logger.Info("retrieval index cache stale, rebuilding", "document_id", documentID)
	}

	text, err := extractText()
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, apperr.New(apperr.LowYield, "extracted text is empty; no index built")
	}

	chunks := ChunkText(documentID, text, r.params)
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.LowYield, "no chunks produced from extracted text")
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		chunks[i].ID = fmt.Sprintf("%s-%d", documentID, i)
		chunks[i].Keywords = ExtractKeywords(c.Text, 5)
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	index, err := Build(documentID, chunks, vectors, r.embedder.ID(), r.params)
	if err != nil {
		return nil, err
	}
	if err := index.Persist(dir); err != nil {
		logger.Warn("failed to persist retrieval index", "document_id", documentID, "error", err)
	}
	return index, nil
}

// Delete removes the in-memory entry and unlinks its persisted files.
// Deletion of a `building` entry is refused rather than racing the build.
func (r *Registry) Delete(documentID string) error {
	r.mu.Lock()
	if e, ok := r.entries[documentID]; ok && e.state == stateBuilding {
		r.mu.Unlock()
		return apperr.New(apperr.BadInput, "cannot delete an index that is still building")
	}
	delete(r.entries, documentID)
	r.mu.Unlock()

	dir := Dir(r.cacheDir, documentID)
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// EnsureExtractorErrorsClassified is a small guard for callers that wrap
// extraction: it maps bare extractor errors into the apperr taxonomy in case
// a call site bypasses extractor's own classification. No code in this
// repository calls it.
func EnsureExtractorErrorsClassified(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	var lowYield *extractor.LowYieldError
	if lowYieldAs(err, &lowYield) {
		return apperr.New(apperr.LowYield, lowYield.Error())
	}
	return apperr.New(apperr.ExtractFailed, err.Error())
}

func lowYieldAs(err error, target **extractor.LowYieldError) bool {
	le, ok := err.(*extractor.LowYieldError)
	if ok {
		*target = le
	}
	return ok
}
