package retrieval

import (
	"context"
	"fmt"
	"math"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
)

// Embedder turns text into a normalized fixed-dimension vector. It is
// treated as an opaque dependency: its identity (ID) is recorded in the
// index manifest so that swapping embedders invalidates any cached index.
type Embedder interface {
	ID() string
	Dim() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GoogleEmbedder wraps the generative-language embedding model.
type GoogleEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGoogleEmbedder dials the embedding model. apiURL overrides the
// default generative-language endpoint when set (empty uses the SDK
// default).
func NewGoogleEmbedder(ctx context.Context, apiKey, apiURL, model string, dim int) (*GoogleEmbedder, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if apiURL != "" {
		opts = append(opts, option.WithEndpoint(apiURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GoogleEmbedder{client: client, model: model, dim: dim}, nil
}

func (e *GoogleEmbedder) ID() string { return "google:" + e.model }
func (e *GoogleEmbedder) Dim() int   { return e.dim }

func (e *GoogleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, apperr.Newf(apperr.EmbedFailed, "embedding batch of %d texts: %v", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperr.Newf(apperr.EmbedFailed, "embedder returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = normalize(emb.Values)
	}
	return out, nil
}

// normalize L2-normalizes a vector in place (returns a new slice), making
// inner product equivalent to cosine similarity downstream.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
