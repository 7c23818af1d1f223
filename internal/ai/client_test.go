package ai

import (
	"context"
	"math"
	"reflect"
	"testing"
)

func TestProviderConstants(t *testing.T) {
	tests := []struct {
		provider Provider
		expected string
	}{
		{ProviderOpenAI, "openai"},
		{ProviderVertexAI, "vertexai"},
		{ProviderStub, "stub"},
	}

	for _, tt := range tests {
		if string(tt.provider) != tt.expected {
			t.Errorf("Expected provider %q, got %q", tt.expected, string(tt.provider))
		}
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *ClientConfig
		wantErr bool
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:    "unsupported provider",
			config:  &ClientConfig{Provider: Provider("mystery")},
			wantErr: true,
		},
		{
			name:    "stub provider",
			config:  &ClientConfig{Provider: ProviderStub, Dim: 8},
			wantErr: false,
		},
		{
			name:    "openai provider",
			config:  &ClientConfig{Provider: ProviderOpenAI, APIKey: "sk-test"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			if c == nil {
				t.Fatal("Expected non-nil client")
			}
		})
	}
}

func TestStubClientDeterminism(t *testing.T) {
	// The duplicate guard depends on identical text producing identical
	// vectors, across calls and across client instances.
	a := NewStubClient(16)
	b := NewStubClient(16)

	ctx := context.Background()
	va, err := a.Embed(ctx, []string{"remote work policy", "expense policy"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	vb, err := b.Embed(ctx, []string{"remote work policy", "expense policy"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if !reflect.DeepEqual(va, vb) {
		t.Error("Identical texts produced different vectors across clients")
	}
	if reflect.DeepEqual(va[0], va[1]) {
		t.Error("Different texts produced identical vectors")
	}
}

func TestStubClientDimensions(t *testing.T) {
	tests := []struct {
		name    string
		dim     int
		wantDim int
	}{
		{"explicit dimension", 384, 384},
		{"zero falls back", 0, 16},
		{"negative falls back", -3, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewStubClient(tt.dim)
			if c.Dim() != tt.wantDim {
				t.Errorf("Expected Dim %d, got %d", tt.wantDim, c.Dim())
			}
			vecs, err := c.Embed(context.Background(), []string{"x"})
			if err != nil {
				t.Fatalf("Embed failed: %v", err)
			}
			if len(vecs) != 1 || len(vecs[0]) != tt.wantDim {
				t.Errorf("Expected one vector of dimension %d, got %d vectors, dim %d",
					tt.wantDim, len(vecs), len(vecs[0]))
			}
		})
	}
}

func TestStubClientVectorShape(t *testing.T) {
	c := NewStubClient(32)
	vecs, err := c.Embed(context.Background(), []string{"some policy text"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-4 {
		t.Errorf("Expected unit-length vector, got norm %v", math.Sqrt(norm))
	}
}

func TestStubClientEmptyBatch(t *testing.T) {
	c := NewStubClient(8)
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != 0 {
		t.Errorf("Expected empty output for empty batch, got %d", len(vecs))
	}
}

func TestStubClientGenerate(t *testing.T) {
	c := NewStubClient(8)

	answer, err := c.Generate(context.Background(), "what is the policy?", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if answer != "I cannot find this information in the provided documents" {
		t.Errorf("Expected not-found answer for empty context, got %q", answer)
	}

	answer, err = c.Generate(context.Background(), "what is the policy?", "[Source 1: a.txt]\nsome text")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if answer == "" {
		t.Error("Expected non-empty answer for non-empty context")
	}
}

func TestClientInterfaceCompliance(t *testing.T) {
	var _ Client = (*StubClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*VertexAIClient)(nil)
}

func TestOpenAIClientDefaults(t *testing.T) {
	tests := []struct {
		name       string
		embedModel string
		wantDim    int
	}{
		{"small model", "text-embedding-3-small", 1536},
		{"large model", "text-embedding-3-large", 3072},
		{"ada model", "text-embedding-ada-002", 1536},
		{"unknown model", "custom-embedding", 1536},
		{"empty model", "", 1536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ClientConfig{Provider: ProviderOpenAI, APIKey: "sk-test", EmbedModel: tt.embedModel}
			c := NewOpenAIClient(cfg)
			if c.Dim() != tt.wantDim {
				t.Errorf("Expected dim %d for model %q, got %d", tt.wantDim, tt.embedModel, c.Dim())
			}
			if cfg.GenModel == "" {
				t.Error("Expected a default generation model to be set")
			}
		})
	}
}

func TestOpenAIClientModelIdentifier(t *testing.T) {
	c := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI, APIKey: "k", EmbedModel: "text-embedding-3-small"})
	if c.Model() != "openai/text-embedding-3-small" {
		t.Errorf("Unexpected model identifier %q", c.Model())
	}
}

func TestOpenAIClientMissingKey(t *testing.T) {
	c := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI})
	ctx := context.Background()

	if _, err := c.Embed(ctx, []string{"x"}); err == nil {
		t.Error("Expected error when API key is unset")
	}
	if _, err := c.Generate(ctx, "q", "context"); err == nil {
		t.Error("Expected error when API key is unset")
	}
}
