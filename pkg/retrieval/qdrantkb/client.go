// Package qdrantkb serves the knowledge base from a qdrant collection. The
// knowledge base ID names the collection. When a generator is configured
// the top passages are summarised into an answer, mirroring the
// retrieve-and-generate contract of the HTTP backend.
package qdrantkb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/embedding"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
)

// PointQuerier is the slice of *qdrant.Client used here.
type PointQuerier interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

type Client struct {
	points    PointQuerier
	embedder  embedding.EmbeddingProvider
	generator llm.LLMProvider
}

var _ retrieval.KnowledgeBase = &Client{}

type ConnConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

func Dial(cfg ConnConfig) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return client, nil
}

// NewClient wires a querier and embedder. generator may be nil, in which
// case responses carry passages only.
func NewClient(points PointQuerier, embedder embedding.EmbeddingProvider, generator llm.LLMProvider) *Client {
	return &Client{points: points, embedder: embedder, generator: generator}
}

func (c *Client) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	vector, err := c.embedder.Embed(ctx, req.Query, embedding.TaskRetrievalQuery)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, retrieval.NewError(retrieval.KindTimeout, req.KnowledgeBaseID, err)
		}
		return nil, retrieval.NewTransientError(req.KnowledgeBaseID, fmt.Errorf("embed query: %w", err))
	}

	limit := uint64(req.MaxResults)
	hits, err := c.points.Query(ctx, &qdrant.QueryPoints{
		CollectionName: req.KnowledgeBaseID,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, grpcError(err, req.KnowledgeBaseID)
	}

	resp := &retrieval.Response{}
	for _, hit := range hits {
		payload := hit.GetPayload()
		content := firstString(payload, "content", "text", "chunk")
		if content == "" {
			continue
		}
		resp.Results = append(resp.Results, retrieval.Result{
			Content: content,
			Score:   float64(hit.GetScore()),
			Source:  firstString(payload, "source", "document", "uri"),
		})
	}

	if c.generator != nil && len(resp.Results) > 0 {
		var opts []llm.Option
		if req.ModelID != "" {
			opts = append(opts, llm.WithModel(req.ModelID))
		}
		answer, err := c.generator.Generate(ctx, generationPrompt(req.Query, resp.Results), append(opts, llm.WithTemperature(0.2))...)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, retrieval.NewError(retrieval.KindTimeout, req.KnowledgeBaseID, err)
			}
			return nil, retrieval.NewTransientError(req.KnowledgeBaseID, fmt.Errorf("generate answer: %w", err))
		}
		resp.OutputText = answer
	}

	return resp, nil
}

func grpcError(err error, kbID string) error {
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return retrieval.NewError(retrieval.KindTimeout, kbID, err)
		}
		return retrieval.NewError(retrieval.KindUnknown, kbID, err)
	}

	switch st.Code() {
	case codes.NotFound:
		return retrieval.NewError(retrieval.KindNotFound, kbID, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return retrieval.NewError(retrieval.KindAccessDenied, kbID, err)
	case codes.ResourceExhausted:
		return retrieval.NewError(retrieval.KindThrottled, kbID, err)
	case codes.DeadlineExceeded:
		return retrieval.NewError(retrieval.KindTimeout, kbID, err)
	case codes.Unavailable, codes.Aborted:
		return retrieval.NewTransientError(kbID, err)
	default:
		return retrieval.NewError(retrieval.KindUnknown, kbID, err)
	}
}

func firstString(payload map[string]*qdrant.Value, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			if s := strings.TrimSpace(v.GetStringValue()); s != "" {
				return s
			}
		}
	}
	return ""
}

func generationPrompt(query string, results []retrieval.Result) string {
	var b strings.Builder
	b.WriteString("You recommend monitoring and evaluation indicators for circular bioeconomy projects.\n")
	b.WriteString("Answer using only the passages below. For each indicator give its name, definition, cost, accuracy, ease of use and suitable methods.\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "<passage id=\"%d\" source=\"%s\">\n%s\n</passage>\n", i+1, r.Source, r.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}
