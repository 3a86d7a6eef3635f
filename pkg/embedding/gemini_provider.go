package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	dims := int32(p.Dimensions())
	result, err := p.client.Models.EmbedContent(ctx,
		p.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			TaskType:             taskType,
			OutputDimensionality: &dims,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return normalizeVector(result.Embeddings[0].Values), nil
}

func (p *GeminiProvider) Dimensions() int {
	return 768
}
