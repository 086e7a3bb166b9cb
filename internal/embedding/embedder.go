// Package embedding provides text embedding backends (deterministic hash,
// local ONNX, remote HTTP) and caching.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the embedding backend could not be reached or did
// not answer in time. Retryable: callers must surface it rather than
// fabricating an embedding.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Embedder produces vector embeddings for text. Version identifies the
// embedding function; corpus and query embeddings from different versions must
// never be mixed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Version() string
	Close() error
}
