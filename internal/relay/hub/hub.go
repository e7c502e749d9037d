// Package hub maintains the set of connected notification sockets and
// routes pushes to the connections a user has joined from.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/notify/transport"
	"github.com/huddleup/huddle-notify/internal/platform/logger"
)

// Client represents one connected socket
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	hub    *Hub

	mu     sync.Mutex
	joined bool
}

// Hub maintains the set of active clients and routes per-user pushes
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool
	logger  logger.Logger

	pingInterval  time.Duration
	readDeadline  time.Duration
	writeDeadline time.Duration
}

// New creates a hub
func New(log logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		clients:       make(map[*Client]bool),
		byUser:        make(map[string]map[*Client]bool),
		logger:        log,
		pingInterval:  30 * time.Second,
		readDeadline:  60 * time.Second,
		writeDeadline: 10 * time.Second,
	}
}

// Register attaches a freshly upgraded connection and starts its pumps.
// Push routing only begins once the client sends its join event.
func (h *Hub) Register(conn *websocket.Conn, userID string) *Client {
	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		hub:    h,
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)

	if clients, ok := h.byUser[client.UserID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.byUser, client.UserID)
		}
	}
}

// join subscribes the client to its user's push channel. Re-joining after
// a reconnect is expected and idempotent.
func (h *Hub) join(client *Client, userID string) {
	client.mu.Lock()
	alreadyJoined := client.joined
	client.joined = true
	client.UserID = userID
	client.mu.Unlock()

	h.mu.Lock()
	if _, ok := h.byUser[userID]; !ok {
		h.byUser[userID] = make(map[*Client]bool)
	}
	h.byUser[userID][client] = true
	h.mu.Unlock()

	if !alreadyJoined {
		h.logger.Info("Client joined", "user_id", userID, "client_id", client.ID)
	}
}

// PushToUser delivers a notification record to every joined connection of
// the user.
func (h *Hub) PushToUser(userID string, rec model.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	frame, err := json.Marshal(transport.Envelope{
		Event: transport.EventNotification,
		Data:  data,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.byUser[userID]))
	for client := range h.byUser[userID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Send <- frame:
		default:
			// Slow consumer, drop the connection
			h.unregister(client)
		}
	}
}

// ConnectedUsers returns the number of users with at least one joined
// connection.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.readDeadline))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.hub.readDeadline))
	})
	c.Conn.SetPingHandler(func(appData string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.readDeadline))
		return c.Conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.hub.writeDeadline))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Socket read error", "client_id", c.ID, "error", err)
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.hub.readDeadline))

		var env transport.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		c.handleMessage(&env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.hub.writeDeadline))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.hub.writeDeadline))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(env *transport.Envelope) {
	switch env.Event {
	case transport.EventJoin:
		var payload struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.UserID == "" {
			return
		}
		c.hub.join(c, payload.UserID)
	}
}
