package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Same-origin requests carry no Origin header
		return r.Header.Get("Origin") == "" || r.Header.Get("Origin") == "http://"+r.Host
	},
}

// WSMessage is one live feed message.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type entityChange struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Key     string `json:"key,omitempty"`
	Verdict string `json:"verdict,omitempty"`
}

// WSManager broadcasts model changes to WebSocket clients. It listens
// to the model; change callbacks fire while an event is being applied,
// so they only enqueue and a separate goroutine does the writes.
type WSManager struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	feed    chan WSMessage
}

// NewWSManager creates a WebSocket feed manager.
func NewWSManager() *WSManager {
	return &WSManager{
		clients: make(map[*websocket.Conn]struct{}),
		feed:    make(chan WSMessage, 256),
	}
}

// Start runs the broadcaster until the context ends.
func (m *WSManager) Start(ctx context.Context) {
	go m.broadcastLoop(ctx)
}

// HandleWebSocket upgrades the request and registers the client.
func (m *WSManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	m.mu.Lock()
	m.clients[conn] = struct{}{}
	m.mu.Unlock()
	log.Printf("WebSocket connected: %s", conn.RemoteAddr())

	// Drain the client until it disconnects
	go func() {
		defer conn.Close()
		defer func() {
			m.mu.Lock()
			delete(m.clients, conn)
			m.mu.Unlock()
			log.Printf("WebSocket disconnected: %s", conn.RemoteAddr())
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (m *WSManager) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.feed:
			m.broadcastMessage(msg)
		}
	}
}

func (m *WSManager) broadcastMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Println("JSON marshal error:", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(m.clients, conn)
		}
	}
}

// enqueue drops messages when the feed is full rather than blocking
// the event pipeline.
func (m *WSManager) enqueue(msg WSMessage) {
	select {
	case m.feed <- msg:
	default:
	}
}

func (m *WSManager) entityMessage(kind string, e domain.ModelEntity) {
	m.enqueue(WSMessage{Type: kind, Payload: entityChange{
		ID:     e.ID(),
		Name:   e.LongName(),
		Status: domain.StatusString(e),
	}})
}

// ConnectionChange implements domain.ModelListener.
func (m *WSManager) ConnectionChange(c *domain.Connection) { m.entityMessage("connection", c) }

// HostChange implements domain.ModelListener.
func (m *WSManager) HostChange(h *domain.Host) { m.entityMessage("host", h) }

// AddressChange implements domain.ModelListener.
func (m *WSManager) AddressChange(h *domain.Host) { m.entityMessage("address", h) }

// ServiceChange implements domain.ModelListener.
func (m *WSManager) ServiceChange(s *domain.Service) { m.entityMessage("service", s) }

// PropertyChange implements domain.ModelListener.
func (m *WSManager) PropertyChange(entity domain.ModelEntity, key domain.PropertyKey, value domain.PropertyValue) {
	change := entityChange{
		ID:     entity.ID(),
		Name:   entity.LongName(),
		Status: domain.StatusString(entity),
		Key:    string(key),
	}
	if v, ok := value.(domain.VerdictValue); ok {
		change.Verdict = string(v.Verdict)
	}
	m.enqueue(WSMessage{Type: "property", Payload: change})
}

var _ domain.ModelListener = (*WSManager)(nil)
