package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
)

// Client provides both embedding and grounded answer generation.
//
// Embed returns one vector per input text, in input order, all with
// dimension Dim(). Identical text must produce identical vectors: the index
// store's duplicate guard and the ingest-vs-query symmetry both depend on
// this determinism. Neither call retries internally; retry policy belongs to
// the caller.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Generate(ctx context.Context, query, docContext string) (string, error)
	Dim() int
	Model() string
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	GenModel   string
	Dim        int
	ProjectID  string
	Location   string
	BaseURL    string
	Provider   Provider
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(context.Background(), config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is an offline implementation of the Client interface. Its
// embeddings are derived from a hash of the text, so the same text always
// maps to the same vector, which is enough for tests and local runs.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 16
	}
	return &StubClient{dim: dim}
}

// Embed implements the embedding functionality
func (s *StubClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, s.dim)
	}
	return out, nil
}

// Generate returns a canned grounded answer so callers can exercise the
// full pipeline without credentials.
func (s *StubClient) Generate(ctx context.Context, query, docContext string) (string, error) {
	if docContext == "" {
		return "I cannot find this information in the provided documents", nil
	}
	return "Based on the provided documents: see [Source 1]", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

// Model returns the embedder identifier persisted alongside indexes.
func (s *StubClient) Model() string {
	return "stub"
}

// hashVector spreads FNV hashes of the text over the vector and normalizes
// to unit length so L2 distances stay well behaved.
func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	h := fnv.New64a()
	for i := 0; i < dim; i++ {
		h.Reset()
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		_, _ = h.Write([]byte(text))
		u := h.Sum64()
		v[i] = float32(int64(u%2048)-1024) / 1024.0
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}
