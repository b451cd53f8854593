package dashboard

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

type directMessage struct {
	conn *websocket.Conn
	msg  Message
}

// Hub owns every WebSocket connection. All writes happen on the Run
// goroutine, so a connection never has two concurrent writers.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	direct     chan directMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	viewers    atomic.Int64
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 64),
		direct:     make(chan directMessage, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's event loop. It closes every connection when ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.viewers.Store(0)
			return
		case client := <-h.register:
			h.clients[client] = true
			h.viewers.Store(int64(len(h.clients)))
			h.logger.Debug("websocket client connected", "remote", client.RemoteAddr().String(), "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.viewers.Store(int64(len(h.clients)))
				h.logger.Debug("websocket client disconnected", "clients", len(h.clients))
			}
		case d := <-h.direct:
			if !h.clients[d.conn] {
				continue
			}
			if err := d.conn.WriteJSON(d.msg); err != nil {
				h.drop(d.conn, err)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteJSON(message); err != nil {
					h.drop(client, err)
				}
			}
		}
	}
}

func (h *Hub) drop(client *websocket.Conn, err error) {
	h.logger.Debug("websocket write failed", "error", err)
	client.Close()
	delete(h.clients, client)
	h.viewers.Store(int64(len(h.clients)))
}

// Broadcast queues msg for every client. When the queue is full the
// message is dropped rather than stalling the event relay.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Register adds conn to the hub. It returns false once the hub has
// stopped.
func (h *Hub) Register(conn *websocket.Conn) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes and closes conn.
func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Send queues msg for a single registered client.
func (h *Hub) Send(conn *websocket.Conn, msg Message) {
	select {
	case h.direct <- directMessage{conn: conn, msg: msg}:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.viewers.Load())
}
