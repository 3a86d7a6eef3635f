package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedKB struct {
	mu       sync.Mutex
	calls    []Request
	outcomes []func(ctx context.Context) (*Response, error)
}

func (s *scriptedKB) Retrieve(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	i := len(s.calls)
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	return s.outcomes[i](ctx)
}

func (s *scriptedKB) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func respond(resp *Response, err error) func(context.Context) (*Response, error) {
	return func(context.Context) (*Response, error) { return resp, err }
}

type recordingObserver struct {
	kinds    []string
	attempts []int
}

func (o *recordingObserver) ObserveRetrieval(kind string, attempts int, _ time.Duration) {
	o.kinds = append(o.kinds, kind)
	o.attempts = append(o.attempts, attempts)
}

func testConfig() Config {
	return Config{
		KnowledgeBaseID: "KB123",
		ModelID:         "model-x",
		Timeout:         time.Second,
		MaxAttempts:     2,
		RetryInterval:   time.Millisecond,
	}
}

func TestGateway_Success(t *testing.T) {
	kb := &scriptedKB{outcomes: []func(context.Context) (*Response, error){
		respond(&Response{
			OutputText: "Use soil organic carbon.",
			Results: []Result{
				{Content: "Soil organic carbon", Score: 0.91, Source: "s3://kb/a.pdf"},
				{Content: "Water use", Score: 0.95, Source: "s3://kb/b.pdf"},
				{Content: "", Score: 0.5},
				{Content: "Income", Score: 1.4},
			},
		}, nil),
	}}
	obs := &recordingObserver{}
	g := NewGateway(kb, testConfig(), logger.NewNop(), obs)

	results, err := g.Retrieve(context.Background(), "  cotton in Chad ", 0)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "Soil organic carbon", results[0].Content, "backend order is preserved")
	assert.Equal(t, "Water use", results[1].Content)
	assert.Equal(t, 1.0, results[2].Score)
	assert.Equal(t, "unknown", results[2].Source)

	require.Len(t, kb.calls, 1)
	assert.Equal(t, Request{Query: "cotton in Chad", KnowledgeBaseID: "KB123", ModelID: "model-x", MaxResults: 5}, kb.calls[0])
	assert.Equal(t, []string{""}, obs.kinds)
}

func TestGateway_MaxResultsBound(t *testing.T) {
	many := make([]Result, 20)
	for i := range many {
		many[i] = Result{Content: "r", Score: 0.5, Source: "x"}
	}
	kb := &scriptedKB{outcomes: []func(context.Context) (*Response, error){respond(&Response{Results: many}, nil)}}
	g := NewGateway(kb, testConfig(), logger.NewNop(), nil)

	results, err := g.Retrieve(context.Background(), "q", 50)
	require.NoError(t, err)
	assert.Len(t, results, MaxResultsLimit)
	assert.Equal(t, MaxResultsLimit, kb.calls[0].MaxResults)

	results, err = g.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestGateway_OutputTextOnly(t *testing.T) {
	kb := &scriptedKB{outcomes: []func(context.Context) (*Response, error){
		respond(&Response{OutputText: "Indicator 1: Soil carbon"}, nil),
	}}
	g := NewGateway(kb, testConfig(), logger.NewNop(), nil)

	resp, err := g.RetrieveAndGenerate(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Indicator 1: Soil carbon", resp.Results[0].Content)
	assert.Equal(t, "knowledge-base:KB123", resp.Results[0].Source)
}

func TestGateway_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name         string
		outcomes     []func(context.Context) (*Response, error)
		wantSentinel error
		wantCalls    int
		retryable    bool
	}{
		{
			name:         "not found is not retried",
			outcomes:     []func(context.Context) (*Response, error){respond(nil, ErrNotFound)},
			wantSentinel: ErrNotFound,
			wantCalls:    1,
		},
		{
			name:         "access denied is not retried",
			outcomes:     []func(context.Context) (*Response, error){respond(nil, NewError(KindAccessDenied, "", errors.New("403")))},
			wantSentinel: ErrAccessDenied,
			wantCalls:    1,
		},
		{
			name:         "throttled retried until attempts exhausted",
			outcomes:     []func(context.Context) (*Response, error){respond(nil, ErrThrottled)},
			wantSentinel: ErrThrottled,
			wantCalls:    2,
			retryable:    true,
		},
		{
			name:         "transient failure retried then unknown",
			outcomes:     []func(context.Context) (*Response, error){respond(nil, NewTransientError("", errors.New("503")))},
			wantSentinel: ErrUnknown,
			wantCalls:    2,
		},
		{
			name:         "foreign error is unknown and not retried",
			outcomes:     []func(context.Context) (*Response, error){respond(nil, errors.New("boom"))},
			wantSentinel: ErrUnknown,
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb := &scriptedKB{outcomes: tt.outcomes}
			obs := &recordingObserver{}
			g := NewGateway(kb, testConfig(), logger.NewNop(), obs)

			_, err := g.Retrieve(context.Background(), "q", 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantSentinel)
			assert.Equal(t, tt.wantCalls, kb.callCount())

			rerr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, "KB123", rerr.KnowledgeBaseID)
			assert.Equal(t, tt.retryable, rerr.Retryable())
			assert.False(t, rerr.Transient)
			assert.NotEmpty(t, rerr.Hint())
			assert.Equal(t, []int{tt.wantCalls}, obs.attempts)
		})
	}
}

func TestGateway_ThrottleThenSuccess(t *testing.T) {
	kb := &scriptedKB{outcomes: []func(context.Context) (*Response, error){
		respond(nil, ErrThrottled),
		respond(&Response{Results: []Result{{Content: "ok", Score: 0.7, Source: "s"}}}, nil),
	}}
	g := NewGateway(kb, testConfig(), logger.NewNop(), nil)

	results, err := g.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 2, kb.callCount())
}

func TestGateway_Timeout(t *testing.T) {
	kb := &scriptedKB{outcomes: []func(context.Context) (*Response, error){
		func(ctx context.Context) (*Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	g := NewGateway(kb, cfg, logger.NewNop(), nil)

	start := time.Now()
	_, err := g.Retrieve(context.Background(), "q", 0)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, kb.callCount(), "timeouts are not retried")
	assert.True(t, err.(*Error).Retryable())
}

func TestGateway_EmptyQuery(t *testing.T) {
	kb := &scriptedKB{outcomes: []func(context.Context) (*Response, error){respond(&Response{}, nil)}}
	g := NewGateway(kb, testConfig(), logger.NewNop(), nil)

	_, err := g.Retrieve(context.Background(), "   ", 0)
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Equal(t, 0, kb.callCount())
}

func TestClampMaxResults(t *testing.T) {
	assert.Equal(t, 5, ClampMaxResults(0))
	assert.Equal(t, 7, ClampMaxResults(7))
	assert.Equal(t, 10, ClampMaxResults(11))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindThrottled, KindOf(NewError(KindThrottled, "kb", nil)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))
	assert.False(t, errors.Is(ErrNotFound, ErrThrottled))
}
