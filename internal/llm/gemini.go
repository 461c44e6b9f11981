package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini-backed client.
type GeminiConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
}

// DefaultGeminiConfig returns the model defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:         apiKey,
		Model:          "gemini-2.5-flash",
		EmbeddingModel: "gemini-embedding-001",
	}
}

// GeminiClient implements Client and Embedder on the Google GenAI API.
type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

// NewGeminiClient creates a client for the configured model.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultGeminiConfig("").Model
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = DefaultGeminiConfig("").EmbeddingModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: config.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{
		client:         client,
		model:          config.Model,
		embeddingModel: config.EmbeddingModel,
	}, nil
}

// Model returns the generation model in use.
func (c *GeminiClient) Model() string { return c.model }

// Complete sends a single-turn prompt and returns the response text.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generateWithConfig(ctx, nil, prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var config *genai.GenerateContentConfig
	if systemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}
	return c.generateWithConfig(ctx, config, userPrompt)
}

func (c *GeminiClient) generateWithConfig(ctx context.Context, config *genai.GenerateContentConfig, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model %s returned an empty response", c.model)
	}
	return text, nil
}

// Embed generates an embedding for exemplar retrieval.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	result, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding model %s returned no values", c.embeddingModel)
	}
	return result.Embeddings[0].Values, nil
}
