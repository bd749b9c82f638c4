package embedding

import (
	"context"
	"math"
)

// MockEmbedder is a deterministic embedder for tests and offline use. It returns a
// fixed-dimension vector derived from the text hash so that the same text always gets
// the same embedding.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic unit vector based on the text hash. The credential is ignored.
func (e *MockEmbedder) Embed(ctx context.Context, text, _ string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	unitLength(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// ZeroEmbedder returns the zero vector for every text, so every stored document is at
// distance 0 from every query.
type ZeroEmbedder struct {
	dimensions int
}

// NewZeroEmbedder returns a ZeroEmbedder of the given dimensions (512 when unset).
func NewZeroEmbedder(dimensions int) *ZeroEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &ZeroEmbedder{dimensions: dimensions}
}

// Embed returns a fresh zero vector.
func (e *ZeroEmbedder) Embed(ctx context.Context, _, _ string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]float32, e.dimensions), nil
}

// Dimensions returns the embedding dimension.
func (e *ZeroEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *ZeroEmbedder) Close() error { return nil }
