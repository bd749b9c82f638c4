package embedding

import "fmt"

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
	ProviderZero   = "zero"
)

// Options select and configure an embedder.
type Options struct {
	Provider          string
	Model             string
	Dimensions        int
	BaseURL           string
	ModelPath         string
	MaxTokens         int
	CacheSize         int     // 0 disables caching
	RequestsPerSecond float64 // 0 disables rate limiting; remote providers only
}

// New builds the embedder described by opts, wrapped in a rate limiter and an LRU
// cache when those are configured.
func New(opts Options) (Embedder, error) {
	var e Embedder
	switch opts.Provider {
	case ProviderOpenAI, "":
		var oo []OpenAIOption
		if opts.BaseURL != "" {
			oo = append(oo, WithBaseURL(opts.BaseURL))
		}
		e = NewOpenAIEmbedder(opts.Model, opts.Dimensions, oo...)
		if opts.RequestsPerSecond > 0 {
			e = NewRateLimitedEmbedder(e, opts.RequestsPerSecond, int(opts.RequestsPerSecond)+1)
		}
	case ProviderONNX:
		onnx, err := NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		e = onnx
	case ProviderMock:
		e = NewMockEmbedder(opts.Dimensions)
	case ProviderZero:
		e = NewZeroEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, onnx, mock, zero)", opts.Provider)
	}
	if opts.CacheSize > 0 {
		e = NewCachedEmbedder(e, opts.CacheSize)
	}
	return e, nil
}
