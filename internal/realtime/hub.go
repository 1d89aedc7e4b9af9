package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Message is one escalation lifecycle change pushed to subscribers
type Message struct {
	Type      string                 `json:"type"`
	Event     models.EscalationEvent `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
}

type broadcast struct {
	entityID string
	payload  []byte
}

// Hub fans escalation lifecycle changes out to websocket clients
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan broadcast
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      int
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

type client struct {
	id       string
	actorID  string
	entityID string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
}

// NewHub creates a hub; call Run to start it
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Named("realtime"),
	}
}

// Run owns the client set until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			h.logger.Debug("Client connected", zap.String("client_id", c.id), zap.String("actor_id", c.actorID))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("Client disconnected", zap.String("client_id", c.id))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.entityID != "" && c.entityID != msg.entityID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					h.logger.Warn("Dropping slow client", zap.String("client_id", c.id))
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish queues a lifecycle change for broadcast. It never blocks; changes
// are dropped when the hub is saturated.
func (h *Hub) Publish(kind string, ev models.EscalationEvent) {
	payload, err := json.Marshal(Message{Type: kind, Event: ev, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Error("Failed to marshal realtime message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- broadcast{entityID: ev.EntityID, payload: payload}:
	default:
		h.logger.Warn("Realtime broadcast queue full", zap.String("event_id", ev.ID))
	}
}

// HandleWebSocket upgrades the request. An entity_id query parameter limits
// the stream to that entity.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	cl := &client{
		id:       uuid.NewString(),
		actorID:  c.GetString("actor_id"),
		entityID: c.Query("entity_id"),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- cl:
	case <-h.done:
		conn.Close()
		return
	case <-c.Request.Context().Done():
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump()
}

// readPump only services control frames; clients do not send data
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
