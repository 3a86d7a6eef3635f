package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/serverutils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// instanceID tags cluster messages published by this process.
var instanceID = uuid.NewString()

// TurnProcessor runs one conversation turn.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req *dto.TurnRequest) *dto.TurnResponse
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	Conn *websocket.Conn

	ActorID string

	// Buffered channel of outbound frames.
	Send chan []byte

	turns        TurnProcessor
	maxReadBytes int64

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, actorID string, turns TurnProcessor, maxReadBytes int64) *Client {
	return &Client{
		Hub:          hub,
		Conn:         conn,
		ActorID:      actorID,
		Send:         make(chan []byte, sendBuffer),
		turns:        turns,
		maxReadBytes: maxReadBytes,
	}
}

// enqueue reports false only when the buffer is full. Frames sent after the
// client was closed are discarded.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// readPump runs turns sent over the socket. Turns from one connection are
// processed in order; the reply is queued before the next frame is read.
func (c *Client) readPump() {
	defer func() {
		c.Hub.remove(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(c.maxReadBytes)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("Hub", "Unexpected websocket close", map[string]interface{}{
					"actor_id": c.ActorID,
					"error":    err.Error(),
				})
			}
			return
		}
		frame := c.handleTurn(context.Background(), raw)
		if !c.enqueue(frame) {
			c.Hub.logger.Warn("Hub", "Client send buffer full, dropping turn reply", map[string]interface{}{"actor_id": c.ActorID})
		}
		// pongs are not read while a turn runs
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// handleTurn decodes one turn frame and returns the encoded reply frame.
func (c *Client) handleTurn(ctx context.Context, raw []byte) (frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.Hub.logger.Error("Hub", "Recovered from panic in turn", map[string]interface{}{
				"actor_id": c.ActorID,
				"panic":    fmt.Sprint(r),
				"stack":    string(debug.Stack()),
			})
			frame = encodeFrame("error", serverutils.ErrorResponse(500, "Internal server error"))
		}
	}()

	var req dto.TurnRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeFrame("error", serverutils.ErrorResponse(400, "Invalid turn payload"))
	}
	if err := serverutils.ValidateRequest(&req); err != nil {
		return encodeFrame("error", serverutils.ErrorResponse(400, err.Error()))
	}
	// a socket speaks for the actor it was opened by
	req.ActorID = c.ActorID

	return encodeFrame("turn", c.turns.ProcessTurn(ctx, &req))
}

func encodeFrame(frameType string, data interface{}) []byte {
	out, _ := json.Marshal(Frame{Type: frameType, Data: data})
	return out
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one frame per message so clients can decode each as JSON
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
