package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_EmbedNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	vec, err := NewOllamaProvider(srv.URL, "").Embed(context.Background(), "cotton in Chad", TaskRetrievalQuery)
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestOllamaProvider_EmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "").Embed(context.Background(), "x", "")
	assert.Error(t, err)
}

func TestNormalizeVector_Zero(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, normalizeVector([]float32{0, 0}))

	v := normalizeVector([]float32{1, 1, 1, 1})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}
