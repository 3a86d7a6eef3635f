// Package httpkb talks to a retrieve-and-generate knowledge base service
// over HTTP/JSON.
package httpkb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
)

type Client struct {
	endpoint string
	apiKey   string
	region   string
	http     *http.Client
}

var _ retrieval.KnowledgeBase = &Client{}

func NewClient(endpoint, apiKey, region string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		region:   region,
		// the gateway's context bounds each call; this is a backstop
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

type inputText struct {
	Text string `json:"text"`
}

type retrieveRequest struct {
	Input           inputText `json:"input"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	ModelID         string    `json:"model_id,omitempty"`
	Region          string    `json:"region,omitempty"`
	MaxResults      int       `json:"max_results"`
}

type retrieveResult struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
}

type retrieveResponse struct {
	OutputText string           `json:"output_text"`
	Results    []retrieveResult `json:"results"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	body, err := json.Marshal(retrieveRequest{
		Input:           inputText{Text: req.Query},
		KnowledgeBaseID: req.KnowledgeBaseID,
		ModelID:         req.ModelID,
		Region:          c.region,
		MaxResults:      req.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/retrieve-and-generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, retrieval.NewError(retrieval.KindTimeout, req.KnowledgeBaseID, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, retrieval.NewError(retrieval.KindUnknown, req.KnowledgeBaseID, err)
		}
		return nil, retrieval.NewTransientError(req.KnowledgeBaseID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retrieval.NewTransientError(req.KnowledgeBaseID, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw, req.KnowledgeBaseID)
	}

	var parsed retrieveResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, retrieval.NewError(retrieval.KindUnknown, req.KnowledgeBaseID, fmt.Errorf("decode response: %w", err))
	}

	out := &retrieval.Response{OutputText: parsed.OutputText}
	for _, r := range parsed.Results {
		out.Results = append(out.Results, retrieval.Result{Content: r.Content, Score: r.Score, Source: r.Source})
	}
	return out, nil
}

// statusError maps HTTP status codes (and the service's own error codes,
// when present) onto the retrieval taxonomy.
func statusError(status int, body []byte, kbID string) error {
	var payload errorResponse
	_ = json.Unmarshal(body, &payload)
	detail := fmt.Errorf("status %d: %s", status, firstNonEmpty(payload.Message, string(body)))

	switch payload.Code {
	case "ResourceNotFoundException":
		return retrieval.NewError(retrieval.KindNotFound, kbID, detail)
	case "AccessDeniedException":
		return retrieval.NewError(retrieval.KindAccessDenied, kbID, detail)
	case "ThrottlingException":
		return retrieval.NewError(retrieval.KindThrottled, kbID, detail)
	}

	switch {
	case status == http.StatusNotFound:
		return retrieval.NewError(retrieval.KindNotFound, kbID, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return retrieval.NewError(retrieval.KindAccessDenied, kbID, detail)
	case status == http.StatusTooManyRequests:
		return retrieval.NewError(retrieval.KindThrottled, kbID, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return retrieval.NewError(retrieval.KindTimeout, kbID, detail)
	case status >= 500:
		return retrieval.NewTransientError(kbID, detail)
	default:
		return retrieval.NewError(retrieval.KindUnknown, kbID, detail)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
