package embedding

import (
	"context"
	"math"
)

// HashEmbedder is a deterministic, dependency-free embedder: it derives a
// fixed-dimension unit vector from a hash of the text, so the same text always
// gets the same embedding. It is the default backend and the one used in tests;
// it captures lexical identity, not meaning.
type HashEmbedder struct {
	dimensions int
	version    string
}

// NewHashEmbedder returns a deterministic embedder with the given dimensions
// and version tag.
func NewHashEmbedder(dimensions int, version string) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	if version == "" {
		version = "hash-v1"
	}
	return &HashEmbedder{dimensions: dimensions, version: version}
}

// Embed returns a deterministic embedding based on the text hash.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Version returns the embedding-function version tag.
func (e *HashEmbedder) Version() string { return e.version }

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error { return nil }

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range x {
		x[i] *= norm
	}
}
