// Package hub fans runtime lifecycle events out to WebSocket
// subscribers. Dashboards follow create/build/invoke/reap activity
// here instead of polling the list endpoint.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

type Event struct {
	Type      string `json:"type"` // runtime.created, build.failed, runtime.deleted, execution.completed, runtime.reaped
	RuntimeID string `json:"runtimeId"`
	Payload   any    `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the subscriber set. The clients map is touched only from
// the Run goroutine, so membership needs no lock.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
}

func New(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients
				}
				if allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Subscriber fell behind; drop it rather than
					// stall the broadcast.
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish satisfies the orchestrator's Notifier interface.
func (h *Hub) Publish(eventType, runtimeID string, payload any) {
	data, err := json.Marshal(Event{Type: eventType, RuntimeID: runtimeID, Payload: payload})
	if err != nil {
		log.Printf("hub: marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Broadcast queue full: events are advisory, drop rather than
		// block a request path.
	}
}

func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: ws upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.register <- c

	go c.writeLoop()
	go h.readLoop(c)
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	c.conn.Close()
}

// readLoop discards inbound frames; its only job is noticing the peer
// going away and unregistering the client.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister <- c
	c.conn.Close()
}
