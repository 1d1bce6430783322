// Package embeddings defines the embedding provider interface used to turn
// record text into vectors for the semantic index.
package embeddings

import "context"

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns the embedding for text. The dimension must match the
	// vector index the result is stored in.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
