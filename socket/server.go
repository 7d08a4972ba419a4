package socket

import (
	"log"

	socketio "github.com/googollee/go-socket.io"
)

const sessionRoom = "session"

// Gateway pushes session lifecycle events to connected UI clients.
type Gateway struct {
	server *socketio.Server
}

// NewGateway initializes the Socket.IO server and the event gateway.
func NewGateway() *Gateway {
	server := socketio.NewServer(nil)

	// Handle connection events
	server.OnConnect("/", func(c socketio.Conn) error {
		log.Println("✅ Socket connected:", c.ID())
		return nil
	})

	// UI clients join the session room to receive lifecycle events
	server.OnEvent("/", "join", func(c socketio.Conn) {
		log.Printf("👥 Client %s joined session events\n", c.ID())
		c.Join(sessionRoom)
	})

	server.OnDisconnect("/", func(c socketio.Conn, reason string) {
		log.Println("❌ Socket disconnected:", c.ID(), reason)
	})

	return &Gateway{server: server}
}

// Server exposes the underlying Socket.IO server for mounting and serving.
func (g *Gateway) Server() *socketio.Server {
	return g.server
}

// Publish broadcasts one session lifecycle event to all joined clients.
// Implements services.EventSink.
func (g *Gateway) Publish(event string, payload interface{}) {
	g.server.BroadcastToRoom("/", sessionRoom, event, payload)
}
