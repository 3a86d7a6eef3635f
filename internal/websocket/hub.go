package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/events"
)

const clusterChannel = "cba_cluster_events"

// Hub tracks live connections per actor and relays intake events to them.
// With Redis configured every instance publishes to a shared channel, so an
// actor connected to another instance still gets the event.
type Hub struct {
	// ActorID -> connections (one per open tab or device)
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// closed when Run returns
	done chan struct{}

	rdb    *redis.Client
	logger logger.ILogger
}

// Frame is what clients receive for pushed events and turn replies.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type clusterMessage struct {
	TargetActorID string          `json:"target_actor_id"`
	Origin        string          `json:"origin"`
	Message       json.RawMessage `json:"message"`
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		done:       make(chan struct{}),
		rdb:        rdb,
		logger:     log,
	}
}

// Run owns the client map. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ActorID] = append(h.clients[client.ActorID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"actor_id": client.ActorID})

		case client := <-h.unregister:
			h.mu.Lock()
			clients := h.clients[client.ActorID]
			for i, c := range clients {
				if c == client {
					h.clients[client.ActorID] = append(clients[:i], clients[i+1:]...)
					client.close()
					break
				}
			}
			if len(h.clients[client.ActorID]) == 0 {
				delete(h.clients, client.ActorID)
				h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"actor_id": client.ActorID})
			}
			h.mu.Unlock()
		}
	}
}

// Connected reports how many live connections an actor has on this instance.
func (h *Hub) Connected(actorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[actorID])
}

// Notify pushes an event to every connection of actorID.
func (h *Hub) Notify(actorID string, event events.Event) {
	data, err := json.Marshal(Frame{
		Type: "event",
		Data: events.Envelope{
			Type:       event.EventType(),
			OccurredAt: event.Timestamp(),
			Data:       event.Payload(),
		},
	})
	if err != nil {
		h.logger.Warn("Hub", "Failed to encode event", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
		return
	}

	h.deliver(actorID, data)

	if h.rdb != nil {
		payload, _ := json.Marshal(clusterMessage{TargetActorID: actorID, Origin: instanceID, Message: data})
		if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
			h.logger.Warn("Hub", "Cluster publish failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// deliver writes to local connections only. A connection whose buffer is
// full is dropped.
func (h *Hub) deliver(actorID string, data []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[actorID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.enqueue(data) {
			h.logger.Warn("Hub", "Client send buffer full, dropping connection", map[string]interface{}{"actor_id": actorID})
			go h.remove(client)
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis message parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			// our own publishes were already delivered locally
			if payload.Origin == instanceID {
				continue
			}
			h.deliver(payload.TargetActorID, payload.Message)
		}
	}
}
