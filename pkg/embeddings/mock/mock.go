// Package mock provides a deterministic Embedder for tests.
//
// Embeddings are derived from a hash of the input text, so identical text
// always yields identical vectors and distinct texts are overwhelmingly
// likely to be far apart. An optional Fail switch simulates provider outages
// for fallback-path tests.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/vector"
)

// DefaultDimensions matches common small embedding models.
const DefaultDimensions = 64

// Embedder generates deterministic hash-based embeddings.
type Embedder struct {
	dimensions int

	// fail, when nonzero, makes Embed return vector.ErrEmbedding.
	fail atomic.Bool
}

// NewEmbedder creates a mock embedder. dimensions defaults to
// DefaultDimensions when zero.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// SetFail toggles simulated provider failure.
func (m *Embedder) SetFail(fail bool) {
	m.fail.Store(fail)
}

// Embed creates a deterministic unit-length embedding from text.
func (m *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.fail.Load() {
		return nil, vector.ErrEmbedding
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// LCG over the hash seed keeps the output deterministic.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for the mock embedder.
func (m *Embedder) Close() error {
	return nil
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}

	return vec
}

var _ embeddings.Embedder = (*Embedder)(nil)
