package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
)

const (
	logModule = "RETRIEVAL"

	DefaultMaxResults = 5
	MaxResultsLimit   = 10
)

// Request is the retrieve-and-generate call sent to a knowledge base.
type Request struct {
	Query           string
	KnowledgeBaseID string
	ModelID         string
	MaxResults      int
}

type Result struct {
	Content string  `json:"content"`
	Score   float64 `json:"relevance_score"`
	Source  string  `json:"source"`
}

type Response struct {
	OutputText string
	Results    []Result
}

// KnowledgeBase is the external retrieval engine. Implementations should
// return *Error for failures they can classify.
type KnowledgeBase interface {
	Retrieve(ctx context.Context, req Request) (*Response, error)
}

// Observer receives one call per Retrieve. kind is "" on success.
type Observer interface {
	ObserveRetrieval(kind string, attempts int, elapsed time.Duration)
}

type Config struct {
	KnowledgeBaseID string
	ModelID         string
	MaxResults      int
	Timeout         time.Duration
	MaxAttempts     int
	RetryInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxResults:    DefaultMaxResults,
		Timeout:       30 * time.Second,
		MaxAttempts:   2,
		RetryInterval: 500 * time.Millisecond,
	}
}

// Gateway bounds knowledge base calls with a timeout, retries throttling
// and transient failures, and translates everything else into *Error.
type Gateway struct {
	kb       KnowledgeBase
	cfg      Config
	logger   logger.ILogger
	observer Observer
}

func NewGateway(kb KnowledgeBase, cfg Config, log logger.ILogger, observer Observer) *Gateway {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	cfg.MaxResults = ClampMaxResults(cfg.MaxResults)

	return &Gateway{kb: kb, cfg: cfg, logger: log, observer: observer}
}

func ClampMaxResults(n int) int {
	if n <= 0 {
		return DefaultMaxResults
	}
	if n > MaxResultsLimit {
		return MaxResultsLimit
	}
	return n
}

func (g *Gateway) KnowledgeBaseID() string {
	return g.cfg.KnowledgeBaseID
}

// Retrieve runs query against the configured knowledge base. maxResults <= 0
// uses the configured default. Results keep the backend's order.
func (g *Gateway) Retrieve(ctx context.Context, query string, maxResults int) ([]Result, error) {
	resp, err := g.RetrieveAndGenerate(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// RetrieveAndGenerate is Retrieve but also returns the generated answer.
func (g *Gateway) RetrieveAndGenerate(ctx context.Context, query string, maxResults int) (*Response, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewError(KindUnknown, g.cfg.KnowledgeBaseID, errors.New("empty query"))
	}

	limit := g.cfg.MaxResults
	if maxResults > 0 {
		limit = ClampMaxResults(maxResults)
	}
	req := Request{
		Query:           query,
		KnowledgeBaseID: g.cfg.KnowledgeBaseID,
		ModelID:         g.cfg.ModelID,
		MaxResults:      limit,
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	attempts := 0
	operation := func() (*Response, error) {
		attempts++
		resp, err := g.kb.Retrieve(callCtx, req)
		if err == nil {
			return resp, nil
		}
		rerr := g.classify(callCtx, err)
		if rerr.shouldRetry() {
			g.logger.Warn(logModule, "Retryable knowledge base failure", map[string]interface{}{
				"kind":    string(rerr.Kind),
				"attempt": attempts,
				"error":   rerr.Error(),
			})
			return nil, rerr
		}
		return nil, backoff.Permanent(rerr)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.RetryInterval
	b.MaxInterval = 4 * g.cfg.RetryInterval

	resp, err := backoff.Retry(callCtx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(g.cfg.MaxAttempts)),
	)
	elapsed := time.Since(start)

	if err != nil {
		rerr := g.finalError(callCtx, err)
		g.logger.Error(logModule, "Knowledge base query failed", map[string]interface{}{
			"kind":              string(rerr.Kind),
			"knowledge_base_id": g.cfg.KnowledgeBaseID,
			"attempts":          attempts,
			"elapsed_ms":        elapsed.Milliseconds(),
			"error":             rerr.Error(),
		})
		g.observe(string(rerr.Kind), attempts, elapsed)
		return nil, rerr
	}

	resp = normalize(resp, req)
	g.logger.Info(logModule, "Knowledge base query succeeded", map[string]interface{}{
		"results":    len(resp.Results),
		"attempts":   attempts,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	g.observe("", attempts, elapsed)
	return resp, nil
}

// classify maps any backend error onto the taxonomy. A deadline on the call
// context always wins, since the backend may report it as a transport error.
func (g *Gateway) classify(ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, g.cfg.KnowledgeBaseID, err)
	}
	if rerr, ok := AsError(err); ok {
		if rerr.KnowledgeBaseID == "" {
			copied := *rerr
			copied.KnowledgeBaseID = g.cfg.KnowledgeBaseID
			return &copied
		}
		return rerr
	}
	return NewError(KindUnknown, g.cfg.KnowledgeBaseID, err)
}

func (g *Gateway) finalError(ctx context.Context, err error) *Error {
	rerr := g.classify(ctx, err)
	if rerr.Kind == KindUnknown && rerr.Transient {
		// retries exhausted; the caller sees a plain unknown failure
		copied := *rerr
		copied.Transient = false
		return &copied
	}
	return rerr
}

func (g *Gateway) observe(kind string, attempts int, elapsed time.Duration) {
	if g.observer != nil {
		g.observer.ObserveRetrieval(kind, attempts, elapsed)
	}
}

// normalize caps the result count and turns an answer-only response into a
// single result so callers always get at least the generated text.
func normalize(resp *Response, req Request) *Response {
	if resp == nil {
		resp = &Response{}
	}
	out := &Response{OutputText: strings.TrimSpace(resp.OutputText)}

	for _, r := range resp.Results {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		r.Score = clampScore(r.Score)
		if r.Source == "" {
			r.Source = "unknown"
		}
		out.Results = append(out.Results, r)
		if len(out.Results) == req.MaxResults {
			break
		}
	}

	if len(out.Results) == 0 && out.OutputText != "" {
		out.Results = []Result{{
			Content: out.OutputText,
			Score:   1,
			Source:  fmt.Sprintf("knowledge-base:%s", req.KnowledgeBaseID),
		}}
	}
	if out.Results == nil {
		out.Results = []Result{}
	}
	return out
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
