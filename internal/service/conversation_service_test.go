package service

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/metrics"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	sessionrepo "github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/memory"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/blob"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/document"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/events"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/extractor"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm/llmtest"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/memory"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/query"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/response"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/session"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/state"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/recommendation"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

const (
	testMaxUpload = 10 * 1024 * 1024
	emptyJSON     = `{"location": null, "project_type": null, "outcomes": [], "budget": null, "capacity": null}`
)

// scriptedExtraction answers extraction prompts by matching the analyzed text.
func scriptedExtraction(history []llm.Message) (string, error) {
	text := history[len(history)-1].Content
	switch {
	case strings.Contains(text, "cotton farming in Chad"):
		return `{"location": "Chad", "project_type": "cotton farming", "outcomes": [], "budget": null, "capacity": null}`, nil
	case strings.Contains(text, "low budget, basic capacity"):
		return `{"location": null, "project_type": null, "outcomes": [], "budget": "low", "capacity": "basic"}`, nil
	case strings.Contains(text, "Location: Chad, Commodity: Cotton"):
		return "```json\n" + `{"location": "Chad", "commodity": "Cotton", "outcomes": null, "budget": "Low", "capacity": null}` + "\n```", nil
	case strings.Contains(text, "improve soil health"):
		return `{"location": null, "project_type": null, "outcomes": ["soil health"], "budget": null, "capacity": null}`, nil
	}
	return emptyJSON, nil
}

type fakeKB struct {
	mu      sync.Mutex
	queries []string
	respond func(req retrieval.Request) (*retrieval.Response, error)
}

func (f *fakeKB) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, req.Query)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeKB) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func answeringKB(text string) *fakeKB {
	return &fakeKB{respond: func(retrieval.Request) (*retrieval.Response, error) {
		return &retrieval.Response{OutputText: text}, nil
	}}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type harness struct {
	svc       IConversationService
	llm       *llmtest.Provider
	kb        *fakeKB
	publisher *recordingPublisher
}

func newHarness(t *testing.T, kb *fakeKB, mem memory.Store) *harness {
	t.Helper()
	log := logger.NewNop()
	fake := &llmtest.Provider{Respond: scriptedExtraction}

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	gateway := retrieval.NewGateway(kb, retrieval.Config{
		KnowledgeBaseID: "kb-test",
		MaxAttempts:     2,
		RetryInterval:   time.Millisecond,
		Timeout:         time.Second,
	}, log, nil)

	sessions := session.NewManager(
		sessionrepo.NewSessionRepository(100, time.Hour, nil),
		memory.NewAdapter(mem, log),
		log,
	)
	publisher := &recordingPublisher{}

	svc := NewConversationService(
		sessions,
		state.NewManager(log),
		extractor.NewExtractor(fake, log, extractor.Options{CacheTTL: time.Minute}),
		query.NewBuilder(true),
		gateway,
		response.NewGenerator(fake, log),
		recommendation.NewParser(),
		blobs,
		publisher,
		metrics.New(),
		log,
		ConversationLimits{MaxUploadBytes: testMaxUpload},
	)
	return &harness{svc: svc, llm: fake, kb: kb, publisher: publisher}
}

func completeProfile() *dto.ProfileInput {
	return &dto.ProfileInput{
		Location:    "Chad",
		ProjectType: "cotton",
		Outcomes:    []string{"soil health"},
		Budget:      "low",
		Capacity:    "basic",
	}
}

func TestProcessTurn_EmptyMessageRejected(t *testing.T) {
	h := newHarness(t, answeringKB("unused"), nil)

	resp := h.svc.ProcessTurn(context.Background(), &dto.TurnRequest{Prompt: "   ", SessionID: "s1"})

	assert.Equal(t, dto.StatusError, resp.Status)
	assert.Equal(t, "validation", resp.ErrorType)
	assert.Equal(t, "s1", resp.SessionID)
	assert.NotEmpty(t, resp.ActorID)
	assert.Equal(t, 0, h.llm.Calls())
}

func TestProcessTurn_TwoTurnIntakeDoesNotReask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, answeringKB("unused"), nil)

	first := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "Project is cotton farming in Chad", SessionID: "s1", ActorID: "a1"})
	require.Equal(t, dto.StatusSuccess, first.Status)
	assert.Equal(t, string(store.PhaseAsk), first.Phase)
	assert.Equal(t, []string{"outcomes", "budget", "capacity"}, first.Missing)
	assert.True(t, strings.HasSuffix(first.Result, response.ClarifyingQuestion(profile.FieldOutcomes)))

	second := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "low budget, basic capacity", SessionID: "s1", ActorID: "a1"})
	require.Equal(t, dto.StatusSuccess, second.Status)
	assert.Equal(t, []string{"outcomes"}, second.Missing)
	assert.NotContains(t, second.Result, response.ClarifyingQuestion(profile.FieldLocation))
	assert.NotContains(t, second.Result, response.ClarifyingQuestion(profile.FieldProjectType))
	assert.True(t, strings.HasSuffix(second.Result, response.ClarifyingQuestion(profile.FieldOutcomes)))

	s, err := h.svc.GetSession(ctx, "a1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Chad", s.Profile.Location)
	assert.Equal(t, "cotton farming", s.Profile.ProjectType)
	assert.Equal(t, "low", s.Profile.Budget)
	assert.Equal(t, "basic", s.Profile.Capacity)
	assert.Len(t, s.History, 4)
	assert.Equal(t, "Project is cotton farming in...", s.Title)
	assert.Empty(t, h.kb.calls(), "no retrieval before the profile is complete")
}

func TestProcessTurn_AsksOnlyForCapacity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, answeringKB("unused"), nil)

	in := completeProfile()
	in.Capacity = ""
	h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "skip", Profile: in, SessionID: "s1", ActorID: "a1"})

	resp := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "what do you need?", SessionID: "s1", ActorID: "a1"})

	assert.Equal(t, string(store.PhaseAsk), resp.Phase)
	assert.Equal(t, []string{"capacity"}, resp.Missing)
	assert.Equal(t, response.ClarifyingQuestion(profile.FieldCapacity), resp.Result)
}

func TestProcessTurn_SkipInUploadAsksFirstField(t *testing.T) {
	h := newHarness(t, answeringKB("unused"), nil)

	resp := h.svc.ProcessTurn(context.Background(), &dto.TurnRequest{Prompt: "Skip, I have no document", SessionID: "s1", ActorID: "a1"})

	assert.Equal(t, string(store.PhaseAsk), resp.Phase)
	assert.Equal(t, response.ClarifyingQuestion(profile.FieldLocation), resp.Result)
	assert.Equal(t, 0, h.llm.Calls(), "skip phrases are not sent to the extractor")
}

func TestProcessTurn_SkipWithProjectDetailsIsExtracted(t *testing.T) {
	h := newHarness(t, answeringKB("unused"), nil)

	resp := h.svc.ProcessTurn(context.Background(), &dto.TurnRequest{
		Prompt:    "No document, but the project is cotton farming in Chad",
		SessionID: "s1",
		ActorID:   "a1",
	})

	assert.Equal(t, string(store.PhaseAsk), resp.Phase)
	assert.Equal(t, []string{"outcomes", "budget", "capacity"}, resp.Missing)
	assert.Equal(t, 1, h.llm.Calls())
}

func TestSkipCarriesDetails(t *testing.T) {
	tests := []struct {
		prompt string
		want   bool
	}{
		{prompt: "skip", want: false},
		{prompt: "Skip, I have no document", want: false},
		{prompt: "No file for now, thanks!", want: false},
		{prompt: "continue without it please", want: false},
		{prompt: "No document, but the project is cotton farming in Chad", want: true},
		{prompt: "skip - budget is low", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, skipCarriesDetails(tt.prompt))
		})
	}
}

func TestProcessTurn_RetrievalNotFoundFallsBackToAsk(t *testing.T) {
	ctx := context.Background()
	kb := &fakeKB{respond: func(retrieval.Request) (*retrieval.Response, error) {
		return nil, retrieval.NewError(retrieval.KindNotFound, "", nil)
	}}
	h := newHarness(t, kb, nil)

	resp := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "skip", Profile: completeProfile(), SessionID: "s1", ActorID: "a1"})

	assert.Equal(t, dto.StatusError, resp.Status)
	assert.Equal(t, string(retrieval.KindNotFound), resp.ErrorType)
	assert.False(t, resp.Retryable)
	assert.Contains(t, resp.Hint, "knowledge base ID")
	assert.Equal(t, string(store.PhaseAsk), resp.Phase)
	assert.Len(t, kb.calls(), 1, "not found is not retried")

	s, err := h.svc.GetSession(ctx, "a1", "s1")
	require.NoError(t, err)
	assert.Equal(t, completeProfile().ToProfile(), s.Profile)
	assert.Empty(t, s.Indicators)
	require.Len(t, s.History, 1, "only the user's utterance is kept")
	assert.Equal(t, llm.RoleUser, s.History[0].Role)

	assert.Contains(t, h.publisher.types(), events.TypeRetrievalFailed)
}

func TestProcessTurn_ThrottledIsRetryableAndUserCanRetry(t *testing.T) {
	ctx := context.Background()
	var attempts int
	kb := &fakeKB{}
	kb.respond = func(retrieval.Request) (*retrieval.Response, error) {
		attempts++
		if attempts <= 2 {
			return nil, retrieval.NewError(retrieval.KindThrottled, "", nil)
		}
		return &retrieval.Response{OutputText: "Indicator 1: Soil organic carbon"}, nil
	}
	h := newHarness(t, kb, nil)

	first := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "skip", Profile: completeProfile(), SessionID: "s1", ActorID: "a1"})
	assert.Equal(t, string(retrieval.KindThrottled), first.ErrorType)
	assert.True(t, first.Retryable)
	assert.Equal(t, string(store.PhaseAsk), first.Phase)

	second := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "try again", SessionID: "s1", ActorID: "a1"})
	assert.Equal(t, dto.StatusSuccess, second.Status)
	assert.Equal(t, string(store.PhaseChat), second.Phase)
}

func TestProcessTurn_CompleteIntakeThenFollowUp(t *testing.T) {
	ctx := context.Background()
	kb := answeringKB("Indicator 1: Soil organic carbon\nDefinition: Carbon stored in soil\nCost: low")
	h := newHarness(t, kb, nil)

	resp := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "skip", Profile: completeProfile(), SessionID: "s1", ActorID: "a1"})
	require.Equal(t, dto.StatusSuccess, resp.Status)
	assert.Equal(t, string(store.PhaseChat), resp.Phase)
	assert.Contains(t, resp.Result, "Soil organic carbon")
	require.Len(t, resp.Indicators, 1)
	assert.Equal(t, "knowledge-base:kb-test", resp.Indicators[0].Source)

	calls := kb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, query.NewBuilder(true).Build(completeProfile().ToProfile(), nil), calls[0])

	assert.Equal(t, []string{
		events.TypeIntakeCompleted,
		events.TypeRecommendationsDelivered,
		events.TypeSessionSummarized,
	}, h.publisher.types())

	follow := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "How do I measure soil carbon cheaply?", SessionID: "s1", ActorID: "a1"})
	assert.Equal(t, string(store.PhaseChat), follow.Phase)
	assert.Equal(t, "How do I measure soil carbon cheaply?", kb.calls()[1], "follow-ups use the raw utterance")

	topical := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "budget options", Topic: "budget", SessionID: "s1", ActorID: "a1"})
	assert.Equal(t, string(store.PhaseChat), topical.Phase)
	assert.Contains(t, kb.calls()[2], "low budget")

	recs, err := h.svc.GetRecommendations(ctx, "a1", "s1")
	require.NoError(t, err)
	require.Len(t, recs.Recommendations, 1)
	assert.Equal(t, "Soil organic carbon", recs.Recommendations[0].Name)
}

func TestProcessTurn_FollowUpFailureStaysInChat(t *testing.T) {
	ctx := context.Background()
	calls := 0
	kb := &fakeKB{}
	kb.respond = func(retrieval.Request) (*retrieval.Response, error) {
		calls++
		if calls == 1 {
			return &retrieval.Response{OutputText: "Indicator 1: Water use"}, nil
		}
		return nil, retrieval.NewError(retrieval.KindAccessDenied, "", nil)
	}
	h := newHarness(t, kb, nil)

	h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "skip", Profile: completeProfile(), SessionID: "s1", ActorID: "a1"})
	resp := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "more please", SessionID: "s1", ActorID: "a1"})

	assert.Equal(t, dto.StatusError, resp.Status)
	assert.Equal(t, string(retrieval.KindAccessDenied), resp.ErrorType)
	assert.Equal(t, string(store.PhaseChat), resp.Phase)
}

func TestProcessTurn_DocumentInUploadPhase(t *testing.T) {
	h := newHarness(t, answeringKB("unused"), nil)

	resp := h.svc.ProcessTurn(context.Background(), &dto.TurnRequest{
		FileContent: "Location: Chad, Commodity: Cotton, Budget: low",
		SessionID:   "s1",
		ActorID:     "a1",
	})

	assert.Equal(t, string(store.PhaseAsk), resp.Phase)
	assert.Equal(t, []string{"outcomes", "capacity"}, resp.Missing)
	assert.True(t, strings.HasSuffix(resp.Result, response.ClarifyingQuestion(profile.FieldOutcomes)))

	s, err := h.svc.GetSession(context.Background(), "a1", "s1")
	require.NoError(t, err)
	assert.True(t, s.Profile.DocumentsUploaded)
}

func TestProcessUpload_FieldRoundTrip(t *testing.T) {
	h := newHarness(t, answeringKB("unused"), nil)

	out, err := h.svc.ProcessUpload(context.Background(), &dto.UploadRequest{
		Data:     []byte("Location: Chad, Commodity: Cotton, Budget: low"),
		Filename: "brief.txt",
	})
	require.NoError(t, err)

	assert.Equal(t, "Chad", out.Found["location"])
	assert.Equal(t, "Cotton", out.Found["project_type"])
	assert.Equal(t, "Cotton", out.Found["commodity"])
	assert.Equal(t, "low", out.Found["budget"])
	assert.Equal(t, []string{"outcomes", "capacity"}, out.Missing)
	assert.Regexp(t, `uploads/\d{8}/[0-9a-f-]{36}\.txt$`, out.DocumentURI)
	assert.Empty(t, out.SessionID)
}

func TestProcessUpload_SizeBoundary(t *testing.T) {
	h := newHarness(t, answeringKB("unused"), nil)

	exact := bytes.Repeat([]byte("a"), testMaxUpload)
	_, err := h.svc.ProcessUpload(context.Background(), &dto.UploadRequest{Data: exact, Filename: "big.txt"})
	require.NoError(t, err, "exactly the limit is accepted")
	callsAfterExact := h.llm.Calls()

	over := bytes.Repeat([]byte("a"), testMaxUpload+1)
	_, err = h.svc.ProcessUpload(context.Background(), &dto.UploadRequest{Data: over, Filename: "big.txt"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, document.ErrTooLarge)
	assert.Equal(t, callsAfterExact, h.llm.Calls(), "no extraction runs for an oversized upload")
}

func TestProcessUpload_IntoSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, answeringKB("unused"), nil)

	out, err := h.svc.ProcessUpload(ctx, &dto.UploadRequest{
		Data:      []byte("Location: Chad, Commodity: Cotton, Budget: low"),
		Filename:  "brief.md",
		SessionID: "s1",
		ActorID:   "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, string(store.PhaseAsk), out.Phase)
	assert.Contains(t, out.Message, "location: Chad")

	s, err := h.svc.GetSession(ctx, "a1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Chad", s.Profile.Location)
	assert.True(t, s.Profile.DocumentsUploaded)
	assert.Equal(t, out.DocumentURI, s.DocumentURI)
	assert.Contains(t, h.publisher.types(), events.TypeDocumentUploaded)
}

func TestProcessUpload_RejectsUnsupportedType(t *testing.T) {
	h := newHarness(t, answeringKB("unused"), nil)

	_, err := h.svc.ProcessUpload(context.Background(), &dto.UploadRequest{
		Data:     []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"),
		Filename: "photo.png",
	})
	assert.ErrorIs(t, err, document.ErrUnsupportedType)
	assert.Equal(t, 0, h.llm.Calls())
}

func TestSetField(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, answeringKB("unused"), nil)
	h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "Project is cotton farming in Chad", SessionID: "s1", ActorID: "a1"})

	s, err := h.svc.SetField(ctx, "a1", "s1", &dto.SetFieldRequest{Field: "outcomes", Value: "soil health; farmer income"})
	require.NoError(t, err)
	assert.Equal(t, []string{"soil health", "farmer income"}, s.Profile.Outcomes)
	assert.Equal(t, []string{"budget", "capacity"}, s.Missing)

	_, err = h.svc.SetField(ctx, "a1", "s1", &dto.SetFieldRequest{Field: "colour", Value: "blue"})
	assert.True(t, IsValidationError(err))

	_, err = h.svc.SetField(ctx, "a1", "missing", &dto.SetFieldRequest{Field: "budget", Value: "low"})
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestDeleteSession_PublishesSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, answeringKB("unused"), nil)
	h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "Project is cotton farming in Chad", SessionID: "s1", ActorID: "a1"})

	require.NoError(t, h.svc.DeleteSession(ctx, "a1", "s1"))
	assert.Contains(t, h.publisher.types(), events.TypeSessionSummarized)

	_, err := h.svc.GetSession(ctx, "a1", "s1")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.ErrorIs(t, h.svc.DeleteSession(ctx, "a1", "s1"), store.ErrSessionNotFound)
}

func TestProcessTurn_RecallsFactsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, answeringKB("unused"), memory.NewInMemoryStore())

	h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "Project is cotton farming in Chad", SessionID: "s1", ActorID: "a1"})

	resp := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "skip", SessionID: "s2", ActorID: "a1"})
	assert.Equal(t, []string{"outcomes", "budget", "capacity"}, resp.Missing)
	assert.Equal(t, response.ClarifyingQuestion(profile.FieldOutcomes), resp.Result)

	s, err := h.svc.GetSession(ctx, "a1", "s2")
	require.NoError(t, err)
	assert.Len(t, s.History, 2, "short-term history starts empty")
}

func TestProcessTurn_ExtractionFailureDegrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, answeringKB("unused"), nil)
	h.llm.Respond = func([]llm.Message) (string, error) { return "I cannot help with that", nil }

	resp := h.svc.ProcessTurn(ctx, &dto.TurnRequest{Prompt: "Project is cotton farming in Chad", SessionID: "s1", ActorID: "a1"})

	assert.Equal(t, dto.StatusSuccess, resp.Status)
	assert.Equal(t, profile.FieldNames(profile.RequiredFields), resp.Missing)
	assert.Equal(t, response.ClarifyingQuestion(profile.FieldLocation), resp.Result)
}

func TestSummarize(t *testing.T) {
	s := &store.Session{Profile: profile.ProjectProfile{Location: "Chad", Budget: "low"}}
	assert.Equal(t, "Project location: Chad; budget: low.", Summarize(s))

	s.Indicators = []retrieval.Result{{Content: "a"}, {Content: "b"}}
	assert.Contains(t, Summarize(s), "2 indicator passages")

	assert.Empty(t, Summarize(&store.Session{}))
}
