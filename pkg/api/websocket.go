// WebSocket support for real-time safe-mode updates
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/richmills3/bitcoin-sv/internal/logger"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // operator API, origin policy is handled upstream
	},
}

// WSClient represents a WebSocket client
type WSClient struct {
	conn       *websocket.Conn
	send       chan []byte
	hub        *WSHub
	subscribed map[string]bool // subscription topics
	mu         sync.RWMutex
}

// WSHub manages WebSocket connections and broadcasts
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan *WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
	log        *logger.Logger
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`    // "safemode", "chain"
	Topic   string      `json:"topic"`   // subscription topic
	Payload interface{} `json:"payload"` // message data
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(log *logger.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan *WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		log:        log,
	}
}

// Run starts the WebSocket hub
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.WithField("client_count", h.ClientCount()).Debug("WebSocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.WithField("client_count", h.ClientCount()).Debug("WebSocket client unregistered")

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.log.WithError(err).Warn("Failed to marshal WebSocket message")
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				client.mu.RLock()
				subscribed := client.subscribed[message.Topic] || client.subscribed["all"]
				client.mu.RUnlock()

				if subscribed {
					select {
					case client.send <- data:
					default:
						// Send buffer full, client will be dropped by its
						// write pump timing out
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to all subscribed clients
func (h *WSHub) Broadcast(msgType, topic string, payload interface{}) {
	msg := &WSMessage{
		Type:    msgType,
		Topic:   topic,
		Payload: payload,
	}

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("WebSocket broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection and attaches it to the hub
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn:       conn,
		send:       make(chan []byte, 64),
		hub:        s.wsHub,
		subscribed: map[string]bool{"all": true},
	}

	s.wsHub.register <- client

	go client.writePump()
	go client.readPump()
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// readPump handles subscription messages from the client
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var req struct {
			Subscribe   string `json:"subscribe"`
			Unsubscribe string `json:"unsubscribe"`
		}
		if err := c.conn.ReadJSON(&req); err != nil {
			return
		}

		c.mu.Lock()
		if req.Subscribe != "" {
			delete(c.subscribed, "all")
			c.subscribed[req.Subscribe] = true
		}
		if req.Unsubscribe != "" {
			delete(c.subscribed, req.Unsubscribe)
		}
		c.mu.Unlock()
	}
}

// writePump pushes hub messages and keepalive pings to the client
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
