package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// groundedSystemPrompt constrains the model to the retrieved context. The
// retriever hands over an empty context when nothing relevant was indexed,
// and rule 2 turns that into an explicit "not found" answer instead of an
// invented one.
const groundedSystemPrompt = "You are a helpful assistant answering questions about company policies.\n" +
	"RULES:\n" +
	"1) Answer ONLY from the provided context.\n" +
	"2) If not in context, reply: 'I cannot find this information in the provided documents'.\n" +
	"3) Cite sources with [Source X].\n" +
	"4) Be concise and accurate. No hallucinations."

type OpenAIClient struct {
	config *ClientConfig
	client *openai.Client
}

// NewOpenAIClient creates a client for the OpenAI API or any
// OpenAI-compatible endpoint (Groq, local gateways) selected via BaseURL.
func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.GenModel == "" {
		config.GenModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		// Set default dimensions based on the embedding model
		switch config.EmbedModel {
		case "text-embedding-3-small":
			config.Dim = 1536
		case "text-embedding-3-large":
			config.Dim = 3072
		case "text-embedding-ada-002":
			config.Dim = 1536
		default:
			config.Dim = 1536
		}
	}

	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cc.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		config: config,
		client: openai.NewClientWithConfig(cc),
	}
}

// Embed implements the embedding functionality. One request per batch, no
// internal retry.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("embedding failed: PROVIDER_API_KEY unset")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.config.EmbedModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding failed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Generate produces a grounded answer from the query and retrieved context.
func (c *OpenAIClient) Generate(ctx context.Context, query, docContext string) (string, error) {
	if c.config.APIKey == "" {
		return "", errors.New("generation failed: PROVIDER_API_KEY unset")
	}

	user := "Context:\n" + docContext + "\n\nQuestion: " + query + "\n\nAnswer (with [Source X] citations):"

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.GenModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: groundedSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
		MaxTokens:   500,
		TopP:        0.9,
	})
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generation failed: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

// Model returns the embedder identifier persisted alongside indexes.
func (c *OpenAIClient) Model() string {
	return "openai/" + c.config.EmbedModel
}
