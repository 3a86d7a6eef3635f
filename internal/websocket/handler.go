package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs attaches a connection to the hub for actorID and blocks until it
// closes. Frames read from the socket are conversation turns.
func ServeWs(hub *Hub, c *websocket.Conn, actorID string, turns TurnProcessor, maxReadBytes int64) {
	client := newClient(hub, c, actorID, turns, maxReadBytes)
	if !hub.add(client) {
		c.Close()
		return
	}

	go client.writePump()
	client.readPump()
}
