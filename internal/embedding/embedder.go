// Package embedding turns text into fixed-dimension vectors through a remote or local provider.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text. The credential authenticates against
// remote providers and is ignored by local ones.
type Embedder interface {
	Embed(ctx context.Context, text, credential string) ([]float32, error)
	Dimensions() int
	Close() error
}

var (
	// ErrEmptyInput is returned when asked to embed empty text.
	ErrEmptyInput = errors.New("embedding: empty input")
	// ErrMissingCredential is returned by remote providers called without a credential.
	ErrMissingCredential = errors.New("embedding: missing credential")
)

// ProviderError wraps a failure reported by the embedding provider.
// Callers decide whether to retry; nothing in this package does.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedding failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s embedding failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the same request may succeed later: rate limits,
// server errors and failures without a response.
func (e *ProviderError) Transient() bool {
	if errors.Is(e.Err, ErrMissingCredential) || errors.Is(e.Err, ErrEmptyInput) {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// IsProviderError reports whether err came from an embedding provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
