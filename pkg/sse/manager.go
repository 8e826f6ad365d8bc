package sse

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gin-gonic/gin"
)

// Event is one server-sent event pushed to a connected client.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type client struct {
	userID string
	send   chan Event
}

// Manager tracks connected SSE clients per user and fans events out to
// them. A user may hold several connections (multiple tabs/devices).
type Manager struct {
	mu         sync.RWMutex
	clients    map[string]map[*client]bool
	register   chan *client
	unregister chan *client
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run processes connection lifecycle events. Call in its own goroutine.
func (m *Manager) Run() {
	for {
		select {
		case c := <-m.register:
			m.mu.Lock()
			if m.clients[c.userID] == nil {
				m.clients[c.userID] = make(map[*client]bool)
			}
			m.clients[c.userID][c] = true
			m.mu.Unlock()
			log.Printf("[SSE] client connected for user %s", c.userID)

		case c := <-m.unregister:
			m.mu.Lock()
			if conns, ok := m.clients[c.userID]; ok {
				if conns[c] {
					delete(conns, c)
					close(c.send)
				}
				if len(conns) == 0 {
					delete(m.clients, c.userID)
				}
			}
			m.mu.Unlock()
			log.Printf("[SSE] client disconnected for user %s", c.userID)
		}
	}
}

// HasUser reports whether the user has at least one open connection.
func (m *Manager) HasUser(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID]) > 0
}

// SendToUser pushes an event to every connection the user holds.
// Fire-and-forget: slow connections are skipped, not waited on.
func (m *Manager) SendToUser(userID, eventType string, payload interface{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for c := range m.clients[userID] {
		select {
		case c.send <- Event{Type: eventType, Payload: payload}:
		default:
		}
	}
}

// ServeHTTP holds the connection open and streams events until the
// client goes away.
func (m *Manager) ServeHTTP(c *gin.Context, userID string) {
	conn := &client{
		userID: userID,
		send:   make(chan Event, 16),
	}
	m.register <- conn
	defer func() { m.unregister <- conn }()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case ev, ok := <-conn.send:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				log.Printf("[SSE] failed to marshal payload for user %s: %v", userID, err)
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
