package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/events"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // SDK clients connect from anywhere
	},
}

const writeWait = 10 * time.Second

// wsClient is one connected SDK consumer. Writes from the read loop
// (pong replies) and from the pump share conn, so they serialize on mu.
type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) writeText(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Hub tracks live WebSocket connections and pushes signal events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	db      *db.Database
}

// NewHub creates an empty connection registry.
func NewHub(database *db.Database) *Hub {
	return &Hub{
		clients: make(map[string]*wsClient),
		db:      database,
	}
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	// A reconnect with the same ID replaces the stale connection.
	if old, ok := h.clients[c.id]; ok {
		old.conn.Close()
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	log.Printf("[WS] ✅ Client connected: %s (%d online)", c.id, h.Count())
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.conn.Close()
	log.Printf("[WS] Client disconnected: %s (%d online)", c.id, h.Count())
}

// snapshot returns the current client set without holding the lock
// during writes.
func (h *Hub) snapshot() []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// broadcast pushes one event to every connected client. A failed write
// disconnects only that client; signalID, when set, records a delivery
// row per client that got the message.
func (h *Hub) broadcast(signalID string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, c := range h.snapshot() {
		if err := c.writeJSON(payload); err != nil {
			log.Printf("[WS] ⚠️ Write to %s failed, dropping connection: %v", c.id, err)
			h.unregister(c)
			continue
		}
		if signalID != "" {
			if err := h.db.RecordDelivery(ctx, signalID, c.id); err != nil {
				log.Printf("[WS] ⚠️ Delivery record failed for %s: %v", c.id, err)
			}
		}
	}
}

// Pump consumes signal events from the bus and relays them to connected
// clients. It runs for the lifetime of the server.
func (h *Hub) Pump(bus *events.Bus) {
	newCh, _ := bus.Subscribe(events.EventSignalNew, 16)
	closeCh, _ := bus.Subscribe(events.EventSignalClose, 16)
	sltpCh, _ := bus.Subscribe(events.EventSignalSLTP, 16)
	levCh, _ := bus.Subscribe(events.EventSignalLeverage, 16)

	for {
		select {
		case msg, ok := <-newCh:
			if !ok {
				return
			}
			if sig, ok := msg.(events.SignalNew); ok {
				h.broadcast(sig.SignalID, gin.H{
					"type":   "NEW_SIGNAL",
					"signal": sig,
				})
			}
		case msg, ok := <-closeCh:
			if !ok {
				return
			}
			if ev, ok := msg.(events.SignalClose); ok {
				h.broadcast(ev.SignalID, gin.H{
					"type":       "CLOSE_SIGNAL",
					"signal_id":  ev.SignalID,
					"symbol":     ev.Symbol,
					"percentage": ev.Percentage,
				})
			}
		case msg, ok := <-sltpCh:
			if !ok {
				return
			}
			if ev, ok := msg.(events.SignalSLTP); ok {
				h.broadcast(ev.SignalID, gin.H{
					"type":        "EDIT_SLTP",
					"signal_id":   ev.SignalID,
					"symbol":      ev.Symbol,
					"stop_loss":   ev.StopLoss,
					"take_profit": ev.TakeProfit,
				})
			}
		case msg, ok := <-levCh:
			if !ok {
				return
			}
			if ev, ok := msg.(events.SignalLeverage); ok {
				h.broadcast(ev.SignalID, gin.H{
					"type":      "UPDATE_LEVERAGE",
					"signal_id": ev.SignalID,
					"symbol":    ev.Symbol,
					"leverage":  ev.Leverage,
				})
			}
		}
	}
}

// websocket upgrades the connection and services the read loop. Clients
// identify with ?client_id=; a text "ping" frame gets "pong" back and
// refreshes the heartbeat.
func (s *Server) websocket(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id query parameter is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] ❌ Upgrade failed for %s: %v", clientID, err)
		return
	}

	ctx := context.Background()
	if err := s.DB.UpdateClientHeartbeat(ctx, clientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Unknown clients get an implicit registration on connect.
			if err := s.DB.RegisterClient(ctx, clientID, 0); err != nil {
				log.Printf("[WS] ❌ Implicit registration failed for %s: %v", clientID, err)
			}
		} else {
			log.Printf("[WS] ⚠️ Heartbeat refresh failed for %s: %v", clientID, err)
		}
	}

	client := &wsClient{id: clientID, conn: conn}
	s.Hub.register(client)

	defer func() {
		s.Hub.unregister(client)
		if err := s.DB.DeactivateClient(ctx, clientID); err != nil {
			log.Printf("[WS] ⚠️ Deactivate failed for %s: %v", clientID, err)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "ping" {
			if err := s.DB.UpdateClientHeartbeat(ctx, clientID); err != nil {
				log.Printf("[WS] ⚠️ Heartbeat refresh failed for %s: %v", clientID, err)
			}
			if err := client.writeText("pong"); err != nil {
				return
			}
		}
	}
}
