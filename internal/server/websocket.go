package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lanse6899/previewd/internal/eventbus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Message is the WebSocket envelope. Frame traffic uses the
// "image_preview_update" type in both directions: the hub broadcasts
// authoritative frames to clients, and upstream producers push finished
// base frames into the daemon with the same shape.
type Message struct {
	Type      string    `json:"type"`
	NodeID    string    `json:"node_id,omitempty"`
	ImageData string    `json:"image_data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const typePreviewUpdate = "image_preview_update"

// Client represents one WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub manages WebSocket connections and frame fan-out.
type Hub struct {
	bus        *eventbus.Bus
	logger     *log.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

func newHub(bus *eventbus.Bus, logger *log.Logger) *Hub {
	return &Hub{
		bus:        bus,
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run is the hub event loop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case payload := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Client's send channel is full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts the hub loop down and disconnects all clients.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// HandleWebSocket upgrades the connection and starts the client pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[WebSocket] upgrade error: %v", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastPreviewUpdate pushes an authoritative frame to every connected
// client, keyed by the node it belongs to.
func (h *Hub) BroadcastPreviewUpdate(nodeID, imageData string) {
	msg := Message{
		Type:      typePreviewUpdate,
		NodeID:    nodeID,
		ImageData: imageData,
		Timestamp: time.Now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("[WebSocket] marshal preview update: %v", err)
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.quit:
	}
}

// readPump consumes messages from the connection. Incoming preview updates
// are republished on the bus so engine sessions can pick up new base frames.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("[WebSocket] read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.hub.logger.Printf("[WebSocket] invalid message: %v", err)
			continue
		}

		switch msg.Type {
		case typePreviewUpdate:
			if msg.NodeID == "" || msg.ImageData == "" {
				continue
			}
			eventbus.Publish(context.Background(), c.hub.bus, eventbus.TopicPreviewFrame, eventbus.SourceProcessor,
				eventbus.PreviewFrameEvent{NodeID: msg.NodeID, ImageData: msg.ImageData})
		}
	}
}

// writePump writes queued messages and keeps the connection alive with pings.
func (c *Client) writePump() {
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
