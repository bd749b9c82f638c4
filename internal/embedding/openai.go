package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for the OpenAI provider.
const (
	DefaultOpenAIModel      = "text-embedding-3-small"
	DefaultOpenAIDimensions = 1536
)

// credentialClients bounds how many per-credential clients are kept alive.
const credentialClients = 8

// OpenAIEmbedder calls the OpenAI embeddings endpoint. A client is built per credential
// so that switching API keys at runtime needs no restart.
type OpenAIEmbedder struct {
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
	clients    *lru.Cache[string, *openai.Client]
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithBaseURL points the embedder at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.httpClient = c }
}

// NewOpenAIEmbedder creates an embedder for model producing vectors of dimensions.
func NewOpenAIEmbedder(model string, dimensions int, opts ...OpenAIOption) *OpenAIEmbedder {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if dimensions <= 0 {
		dimensions = DefaultOpenAIDimensions
	}
	clients, _ := lru.New[string, *openai.Client](credentialClients)
	e := &OpenAIEmbedder{
		model:      model,
		dimensions: dimensions,
		httpClient: http.DefaultClient,
		clients:    clients,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Embed returns the embedding of text. Failures are reported as *ProviderError.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text, credential string) ([]float32, error) {
	if text == "" {
		return nil, &ProviderError{Provider: "openai", Err: ErrEmptyInput}
	}
	if credential == "" {
		return nil, &ProviderError{Provider: "openai", Err: ErrMissingCredential}
	}
	client := e.client(credential)
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          e.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Dimensions:     openai.Int(int64(e.dimensions)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		pe := &ProviderError{Provider: "openai", Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.StatusCode
		}
		return nil, pe
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{Provider: "openai", Err: fmt.Errorf("empty embedding response")}
	}
	vec := float64sToFloat32s(resp.Data[0].Embedding)
	if len(vec) != e.dimensions {
		return nil, &ProviderError{Provider: "openai", Err: fmt.Errorf("got %d dimensions, expected %d", len(vec), e.dimensions)}
	}
	return vec, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close drops cached clients.
func (e *OpenAIEmbedder) Close() error {
	e.clients.Purge()
	return nil
}

func (e *OpenAIEmbedder) client(credential string) *openai.Client {
	if c, ok := e.clients.Get(credential); ok {
		return c
	}
	opts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithHTTPClient(e.httpClient),
		option.WithMaxRetries(0),
	}
	if e.baseURL != "" {
		opts = append(opts, option.WithBaseURL(e.baseURL))
	}
	c := openai.NewClient(opts...)
	e.clients.Add(credential, &c)
	return &c
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
