package factory

import (
	"context"
	"fmt"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm/gemini"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm/huggingface"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm/ollama"
)

type Params struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func NewLLMProvider(ctx context.Context, p Params) (llm.LLMProvider, error) {
	switch p.Provider {
	case "ollama", "":
		baseURL := p.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewOllamaProvider(baseURL, p.Model), nil
	case "gemini":
		return gemini.NewGeminiProvider(ctx, p.APIKey, p.Model)
	case "huggingface":
		return huggingface.NewHuggingFaceProvider(p.APIKey, p.BaseURL, p.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", p.Provider)
	}
}
