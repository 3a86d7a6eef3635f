package embedding

import (
	"context"
	"fmt"
	"math"
)

const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// EmbeddingProvider turns text into a unit-length vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	Dimensions() int
}

func NewProvider(ctx context.Context, provider, model, baseURL, apiKey string) (EmbeddingProvider, error) {
	switch provider {
	case "ollama", "":
		return NewOllamaProvider(baseURL, model), nil
	case "gemini":
		return NewGeminiProvider(ctx, apiKey, model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
}

// normalizeVector scales vec to magnitude 1 so cosine distance in pgvector
// and qdrant behaves.
func normalizeVector(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)

	if magnitude == 0 {
		return vec
	}

	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
