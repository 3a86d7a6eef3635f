package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/serverutils"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/service"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/document"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/recommendation"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

type fakeConversation struct {
	panicTurn  bool
	lastTurn   *dto.TurnRequest
	lastUpload *dto.UploadRequest
	uploadErr  error
	sessions   map[string]bool
}

func (f *fakeConversation) ProcessTurn(_ context.Context, req *dto.TurnRequest) *dto.TurnResponse {
	if f.panicTurn {
		panic("provider returned nil response")
	}
	f.lastTurn = req
	return &dto.TurnResponse{Result: "ok", Status: dto.StatusSuccess, SessionID: req.SessionID, ActorID: req.ActorID}
}

func (f *fakeConversation) ProcessUpload(_ context.Context, req *dto.UploadRequest) (*dto.UploadResponse, error) {
	f.lastUpload = req
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &dto.UploadResponse{Found: map[string]interface{}{"location": "Chad"}, Missing: []string{"capacity"}}, nil
}

func (f *fakeConversation) GetSession(_ context.Context, actorID, sessionID string) (*dto.SessionResponse, error) {
	if !f.sessions[actorID+":"+sessionID] {
		return nil, store.ErrSessionNotFound
	}
	return &dto.SessionResponse{SessionID: sessionID, ActorID: actorID, Phase: string(store.PhaseAsk)}, nil
}

func (f *fakeConversation) DeleteSession(_ context.Context, actorID, sessionID string) error {
	if !f.sessions[actorID+":"+sessionID] {
		return store.ErrSessionNotFound
	}
	delete(f.sessions, actorID+":"+sessionID)
	return nil
}

func (f *fakeConversation) GetRecommendations(_ context.Context, _, sessionID string) (*dto.RecommendationsResponse, error) {
	return &dto.RecommendationsResponse{SessionID: sessionID, Recommendations: []recommendation.IndicatorRecommendation{}}, nil
}

func (f *fakeConversation) SetField(_ context.Context, actorID, sessionID string, req *dto.SetFieldRequest) (*dto.SessionResponse, error) {
	if !f.sessions[actorID+":"+sessionID] {
		return nil, store.ErrSessionNotFound
	}
	return &dto.SessionResponse{SessionID: sessionID, ActorID: actorID}, nil
}

func newTestApp(fake *fakeConversation) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	app.Use(serverutils.RecoverMiddleware(logger.NewNop()))
	NewChatbotController(fake, nil, 1<<20, logger.NewNop()).RegisterRoutes(app.Group("/api"))
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return resp.StatusCode, body
}

func TestTurn_ReturnsTurnResponse(t *testing.T) {
	fake := &fakeConversation{}
	app := newTestApp(fake)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/v1/turn", strings.NewReader(`{"prompt":"cotton in Chad","session_id":"s1","actor_id":"a1"}`))
	req.Header.Set("Content-Type", "application/json")
	status, body := do(t, app, req)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["result"])
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "a1", fake.lastTurn.ActorID)
}

func TestTurn_PanicBecomesServerError(t *testing.T) {
	app := newTestApp(&fakeConversation{panicTurn: true})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/v1/turn", strings.NewReader(`{"prompt":"cotton in Chad","session_id":"s1","actor_id":"a1"}`))
	req.Header.Set("Content-Type", "application/json")
	status, body := do(t, app, req)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, false, body["success"])
}

func TestTurn_InvalidTopicIsRejected(t *testing.T) {
	fake := &fakeConversation{}
	app := newTestApp(fake)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/v1/turn", strings.NewReader(`{"prompt":"hi","topic":"weather"}`))
	req.Header.Set("Content-Type", "application/json")
	status, body := do(t, app, req)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Nil(t, fake.lastTurn)
}

func TestUpload_Base64Detection(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   bool
	}{
		{name: "raw body", target: "/api/chat/v1/upload?filename=brief.txt", want: false},
		{name: "query flag", target: "/api/chat/v1/upload?encoding=base64", want: true},
		{name: "transfer encoding header", target: "/api/chat/v1/upload", header: "base64", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeConversation{}
			app := newTestApp(fake)

			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader("Location: Chad"))
			if tt.header != "" {
				req.Header.Set("Content-Transfer-Encoding", tt.header)
			}
			status, _ := do(t, app, req)

			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.want, fake.lastUpload.Base64)
			assert.Equal(t, []byte("Location: Chad"), fake.lastUpload.Data)
		})
	}
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "too large", err: &service.ValidationError{Err: fmt.Errorf("%w: 11 bytes > 10 bytes", document.ErrTooLarge)}, want: http.StatusRequestEntityTooLarge},
		{name: "unsupported type", err: &service.ValidationError{Err: document.ErrUnsupportedType}, want: http.StatusBadRequest},
		{name: "session missing", err: fmt.Errorf("load session: %w", store.ErrSessionNotFound), want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&fakeConversation{uploadErr: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/chat/v1/upload", strings.NewReader("x"))
			status, body := do(t, app, req)

			assert.Equal(t, tt.want, status)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	fake := &fakeConversation{sessions: map[string]bool{"a1:s1": true}}
	app := newTestApp(fake)

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/chat/v1/sessions/s1?actor_id=a1", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ASK", body["data"].(map[string]interface{})["phase"])

	status, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/api/chat/v1/sessions/s1", nil))
	assert.Equal(t, http.StatusBadRequest, status, "actor is required")

	patch := httptest.NewRequest(http.MethodPatch, "/api/chat/v1/sessions/s1/profile?actor_id=a1", strings.NewReader(`{"field":"budget","value":"low"}`))
	patch.Header.Set("Content-Type", "application/json")
	status, _ = do(t, app, patch)
	assert.Equal(t, http.StatusOK, status)

	badPatch := httptest.NewRequest(http.MethodPatch, "/api/chat/v1/sessions/s1/profile?actor_id=a1", strings.NewReader(`{"field":"colour","value":"blue"}`))
	badPatch.Header.Set("Content-Type", "application/json")
	status, _ = do(t, app, badPatch)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, httptest.NewRequest(http.MethodDelete, "/api/chat/v1/sessions/s1?actor_id=a1", nil))
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/api/chat/v1/sessions/s1?actor_id=a1", nil))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetRecommendations(t *testing.T) {
	app := newTestApp(&fakeConversation{})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/chat/v1/recommendations?session_id=s1&actor_id=a1", nil))
	assert.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "s1", data["session_id"])
	assert.Empty(t, data["recommendations"])

	status, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/api/chat/v1/recommendations?actor_id=a1", nil))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServeWs_DisabledWithoutHub(t *testing.T) {
	app := newTestApp(&fakeConversation{})

	status, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/api/chat/v1/ws?actor_id=a1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
