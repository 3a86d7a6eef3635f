package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/events"
)

type echoTurns struct {
	last *dto.TurnRequest
}

func (e *echoTurns) ProcessTurn(_ context.Context, req *dto.TurnRequest) *dto.TurnResponse {
	e.last = req
	return &dto.TurnResponse{Result: "echo: " + req.Prompt, Status: dto.StatusSuccess, ActorID: req.ActorID}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil, logger.NewNop())
	go hub.Run(ctx)
	return hub
}

func register(t *testing.T, hub *Hub, actorID string) *Client {
	t.Helper()
	c := newClient(hub, nil, actorID, &echoTurns{}, 1024)
	require.True(t, hub.add(c))
	require.Eventually(t, func() bool { return hub.Connected(actorID) > 0 }, time.Second, 5*time.Millisecond)
	return c
}

func decode(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestHub_NotifyReachesOnlyTheActor(t *testing.T) {
	hub := startHub(t)
	alice := register(t, hub, "alice")
	bob := register(t, hub, "bob")

	hub.Notify("alice", events.New(events.TypeIntakeCompleted, map[string]interface{}{"session_id": "s1"}))

	select {
	case raw := <-alice.Send:
		frame := decode(t, raw)
		assert.Equal(t, "event", frame["type"])
		data := frame["data"].(map[string]interface{})
		assert.Equal(t, events.TypeIntakeCompleted, data["type"])
	case <-time.After(time.Second):
		t.Fatal("alice got nothing")
	}
	assert.Empty(t, bob.Send)
}

func TestHub_MultipleConnectionsPerActor(t *testing.T) {
	hub := startHub(t)
	first := register(t, hub, "alice")
	second := newClient(hub, nil, "alice", &echoTurns{}, 1024)
	require.True(t, hub.add(second))
	require.Eventually(t, func() bool { return hub.Connected("alice") == 2 }, time.Second, 5*time.Millisecond)

	hub.Notify("alice", events.New(events.TypeDocumentUploaded, nil))

	assert.Len(t, first.Send, 1)
	assert.Len(t, second.Send, 1)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := startHub(t)
	c := register(t, hub, "alice")

	hub.remove(c)
	require.Eventually(t, func() bool { return hub.Connected("alice") == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-c.Send
	assert.False(t, open)
	// late frames are discarded, not panicking on a closed channel
	assert.True(t, c.enqueue([]byte("late")))
}

func TestHub_FullBufferDropsConnection(t *testing.T) {
	hub := startHub(t)
	c := register(t, hub, "alice")
	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.enqueue([]byte("x")))
	}

	hub.Notify("alice", events.New(events.TypeRetrievalFailed, nil))

	assert.Eventually(t, func() bool { return hub.Connected("alice") == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_HandleTurnUsesSocketActor(t *testing.T) {
	turns := &echoTurns{}
	c := newClient(NewHub(nil, logger.NewNop()), nil, "alice", turns, 1024)

	frame := decode(t, c.handleTurn(context.Background(), []byte(`{"prompt":"hello","actor_id":"mallory","session_id":"s1"}`)))

	assert.Equal(t, "turn", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, "echo: hello", data["result"])
	assert.Equal(t, "alice", turns.last.ActorID)
	assert.Equal(t, "s1", turns.last.SessionID)
}

func TestClient_HandleTurnRejectsBadFrames(t *testing.T) {
	turns := &echoTurns{}
	c := newClient(NewHub(nil, logger.NewNop()), nil, "alice", turns, 1024)

	frame := decode(t, c.handleTurn(context.Background(), []byte(`not json`)))
	assert.Equal(t, "error", frame["type"])

	frame = decode(t, c.handleTurn(context.Background(), []byte(`{"prompt":"hi","topic":"weather"}`)))
	assert.Equal(t, "error", frame["type"])
	assert.Nil(t, turns.last)
}

type panickingTurns struct{}

func (panickingTurns) ProcessTurn(context.Context, *dto.TurnRequest) *dto.TurnResponse {
	panic("knowledge base client bug")
}

func TestClient_HandleTurnRecoversFromPanic(t *testing.T) {
	c := newClient(NewHub(nil, logger.NewNop()), nil, "alice", panickingTurns{}, 1024)

	var raw []byte
	require.NotPanics(t, func() {
		raw = c.handleTurn(context.Background(), []byte(`{"prompt":"hello","session_id":"s1"}`))
	})

	frame := decode(t, raw)
	assert.Equal(t, "error", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, float64(500), data["code"])
}
