// Package websocket is the push channel between the download service and its UI.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/streamvault/streamvault/internal/downloader"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 256
)

// Message types.
const (
	TypeEnqueue = "download:enqueue"
	TypeCancel  = "download:cancel"
	TypeAck     = "download:ack"
	TypeError   = "error"
)

var ErrHubStopped = errors.New("websocket hub stopped")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI may be served from a file:// or app:// origin
	},
}

// Commands is the queue surface reachable from clients.
type Commands interface {
	Enqueue(task downloader.Task) downloader.Ack
	Cancel(id string) downloader.Ack
}

// incomingMessage wraps a message from a client.
type incomingMessage struct {
	client  *Client
	message []byte
}

// EnqueuePayload is the payload for download:enqueue messages.
type EnqueuePayload struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	ProfileID string `json:"profileId"`
}

// CancelPayload is the payload for download:cancel messages.
type CancelPayload struct {
	ID string `json:"id"`
}

// AckPayload answers a client command.
type AckPayload struct {
	Request string `json:"request"`
	ID      string `json:"id"`
	downloader.Ack
}

// Hub manages WebSocket connections and broadcasts.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	incoming   chan incomingMessage
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	commands   Commands
	logger     zerolog.Logger
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Message represents a WebSocket message.
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// inbound mirrors Message with a raw payload for decoding.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewHub creates a new WebSocket hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan incomingMessage, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "websocket").Logger(),
	}
}

// SetCommands wires the queue that download:enqueue and download:cancel act on.
func (h *Hub) SetCommands(c Commands) {
	h.mu.Lock()
	h.commands = c
	h.mu.Unlock()
}

// Run starts the hub's main loop. It returns when ctx is done.
//
// Client commands run on a separate goroutine: they call into the queue,
// which broadcasts through this loop.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()
	defer h.shutdown()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.dispatch(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug().Int("clients", h.ClientCount()).Msg("Client connected")

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// dispatch handles client commands in arrival order.
func (h *Hub) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case incoming := <-h.incoming:
			h.handleIncoming(incoming)
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// handleIncoming processes messages received from clients.
func (h *Hub) handleIncoming(incoming incomingMessage) {
	var msg inbound
	if err := json.Unmarshal(incoming.message, &msg); err != nil {
		h.reply(incoming.client, TypeError, map[string]string{"error": "invalid message"})
		return
	}

	h.mu.RLock()
	commands := h.commands
	h.mu.RUnlock()

	switch msg.Type {
	case TypeEnqueue:
		var p EnqueuePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.URL == "" {
			h.reply(incoming.client, TypeError, map[string]string{"error": "url is required"})
			return
		}
		if commands == nil {
			h.reply(incoming.client, TypeError, map[string]string{"error": "downloads unavailable"})
			return
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		ack := commands.Enqueue(downloader.Task{ID: p.ID, URL: p.URL, Name: p.Name, ProfileID: p.ProfileID})
		h.reply(incoming.client, TypeAck, AckPayload{Request: msg.Type, ID: p.ID, Ack: ack})

	case TypeCancel:
		var p CancelPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.ID == "" {
			h.reply(incoming.client, TypeError, map[string]string{"error": "id is required"})
			return
		}
		if commands == nil {
			h.reply(incoming.client, TypeError, map[string]string{"error": "downloads unavailable"})
			return
		}
		ack := commands.Cancel(p.ID)
		h.reply(incoming.client, TypeAck, AckPayload{Request: msg.Type, ID: p.ID, Ack: ack})

	default:
		h.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
	}
}

// reply sends a message to one client if it is still registered. The read
// lock keeps Run from closing c.send during the send.
func (h *Hub) reply(c *Client, msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msgType string, payload interface{}) error {
	data, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket connection upgrade.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("Client closed unexpectedly")
			}
			return
		}

		select {
		case c.hub.incoming <- incomingMessage{client: c, message: message}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush queued messages as separate frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
