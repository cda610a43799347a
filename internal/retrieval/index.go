package retrieval

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
)

// Manifest is the cache-validity record written alongside an index.
type Manifest struct {
	EmbedderID  string      `json:"embedder_id"`
	ChunkParams ChunkParams `json:"chunk_params"`
	Dim         int         `json:"dim"`
}

// Matches reports whether a previously-persisted manifest is still valid
// for the given embedder and chunk parameters.
func (m Manifest) Matches(embedderID string, params ChunkParams, dim int) bool {
	return m.EmbedderID == embedderID && m.ChunkParams == params && m.Dim == dim
}

// Index is a document's searchable collection of chunks and their vectors.
// Vector ordinals are parallel to chunk ordinals.
type Index struct {
	DocumentID string
	Manifest   Manifest
	Chunks     []Chunk
	Vectors    [][]float32
}

// ScoredChunk is one retrieval result.
type ScoredChunk struct {
	Chunk Chunk
	Score float32
}

// Build constructs an Index from already-chunked text and its embeddings.
// Vectors must be parallel to chunks.
func Build(documentID string, chunks []Chunk, vectors [][]float32, embedderID string, params ChunkParams) (*Index, error) {
	if len(chunks) != len(vectors) {
		return nil, apperr.Newf(apperr.Internal, "chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
		for _, v := range vectors {
			if len(v) != dim {
				return nil, apperr.New(apperr.Internal, "vectors in one index must share identical dimension")
			}
		}
	}
	return &Index{
		DocumentID: documentID,
		Manifest:   Manifest{EmbedderID: embedderID, ChunkParams: params, Dim: dim},
		Chunks:     chunks,
		Vectors:    vectors,
	}, nil
}

// Search returns the top-k chunks by inner product against the query
// vector, descending by score, ties broken by ordinal (lower first).
// Fewer than k chunks in the index → all of them, no error.
func (idx *Index) Search(query []float32, k int) []ScoredChunk {
	if k <= 0 {
		k = 1
	}
	type scored struct {
		i     int
		score float32
	}
	scoredAll := make([]scored, len(idx.Vectors))
	for i, v := range idx.Vectors {
		scoredAll[i] = scored{i: i, score: innerProduct(query, v)}
	}
	sort.SliceStable(scoredAll, func(a, b int) bool {
		if scoredAll[a].score != scoredAll[b].score {
			return scoredAll[a].score > scoredAll[b].score
		}
		return idx.Chunks[scoredAll[a].i].Ordinal < idx.Chunks[scoredAll[b].i].Ordinal
	})
	if k > len(scoredAll) {
		k = len(scoredAll)
	}
	out := make([]ScoredChunk, k)
	for i := 0; i < k; i++ {
		out[i] = ScoredChunk{Chunk: idx.Chunks[scoredAll[i].i], Score: scoredAll[i].score}
	}
	return out
}

func innerProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	if math.IsNaN(sum) {
		return 0
	}
	return float32(sum)
}

// Dir returns the on-disk cache directory for a document_id under root.
func Dir(root, documentID string) string {
	return filepath.Join(root, documentID)
}

// Load reads a persisted index from dir. A missing manifest means the
// cache directory is not valid and must be rebuilt — a partial cache
// directory is never considered valid.
func Load(dir string) (*Index, error) {
	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err // absence => caller rebuilds, not an application error
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt manifest: %w", err)
	}

	chunks, err := loadChunks(filepath.Join(dir, "chunks.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	vectors, err := loadVectors(filepath.Join(dir, "vectors.bin"), m.Dim, len(chunks))
	if err != nil {
		return nil, fmt.Errorf("loading vectors: %w", err)
	}

	documentID := filepath.Base(dir)
	return &Index{DocumentID: documentID, Manifest: m, Chunks: chunks, Vectors: vectors}, nil
}

func loadChunks(path string) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, scanner.Err()
}

func loadVectors(path string, dim, count int) ([][]float32, error) {
	if count == 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vectors := make([][]float32, count)
	buf := make([]byte, 4)
	for i := 0; i < count; i++ {
		v := make([]float32, dim)
		for j := 0; j < dim; j++ {
			if _, err := f.Read(buf); err != nil {
				return nil, fmt.Errorf("truncated vector data: %w", err)
			}
			bits := binary.LittleEndian.Uint32(buf)
			v[j] = math.Float32frombits(bits)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Persist atomically writes the index to dir: write to a temp sibling
// directory, then rename, so a crash mid-write never leaves a partially
// valid cache directory.
func (idx *Index) Persist(dir string) error {
	tmp := dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return err
	}

	if err := writeChunks(filepath.Join(tmp, "chunks.ndjson"), idx.Chunks); err != nil {
		return fmt.Errorf("writing chunks: %w", err)
	}
	if err := writeVectors(filepath.Join(tmp, "vectors.bin"), idx.Vectors); err != nil {
		return fmt.Errorf("writing vectors: %w", err)
	}
	manifestData, err := json.Marshal(idx.Manifest)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmp, "manifest.json"), manifestData, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(tmp, dir)
}

func writeChunks(path string, chunks []Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeVectors(path string, vectors [][]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	buf := make([]byte, 4)
	for _, v := range vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}
