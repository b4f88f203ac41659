package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Hub fans quest lifecycle events out to the websocket clients in each quest
// room. Rooms are keyed by quest id and only ever hold the host and accepted
// participants.
type Hub struct {
	rooms      map[uuid.UUID]map[*Client]bool
	broadcast  chan roomMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	log        *slog.Logger
}

type Client struct {
	hub     *Hub
	questID uuid.UUID
	userID  uuid.UUID
	socket  *websocket.Conn
	send    chan []byte
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type roomMessage struct {
	questID uuid.UUID
	data    []byte
	// evict, when set, is dropped from the room after the message is sent.
	evict uuid.UUID
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		broadcast:  make(chan roomMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.With("component", "hub"),
	}
}

// Run owns the room registry until ctx is cancelled, then closes every
// client connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for questID, room := range h.rooms {
				for client := range room {
					close(client.send)
				}
				delete(h.rooms, questID)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			room, ok := h.rooms[client.questID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.questID] = room
			}
			room[client] = true
			h.mutex.Unlock()
			h.log.Debug("client joined room", "quest_id", client.questID, "user_id", client.userID, "clients", len(room))

		case client := <-h.unregister:
			h.mutex.Lock()
			h.removeLocked(client)
			h.mutex.Unlock()

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.rooms[msg.questID] {
				if msg.evict != uuid.Nil && client.userID == msg.evict {
					h.removeLocked(client)
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					h.log.Warn("client send buffer full, dropping", "quest_id", client.questID, "user_id", client.userID)
					h.removeLocked(client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	room, ok := h.rooms[client.questID]
	if !ok || !room[client] {
		return
	}
	delete(room, client)
	close(client.send)
	if len(room) == 0 {
		delete(h.rooms, client.questID)
	}
	h.log.Debug("client left room", "quest_id", client.questID, "user_id", client.userID)
}

// Publish queues an event for every client in the quest's room. It never
// blocks; events are dropped when the hub is saturated or stopped.
func (h *Hub) Publish(questID uuid.UUID, eventType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		h.log.Error("failed to marshal event", "type", eventType, "error", err)
		return
	}
	msg := roomMessage{questID: questID, data: data}
	if gone, ok := payload.(ParticipantGone); ok {
		msg.evict = gone.User.ID
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.log.Warn("hub saturated, dropping event", "quest_id", questID, "type", eventType)
	}
}

// ConnectedUsers lists the users currently connected to a quest room.
func (h *Hub) ConnectedUsers(questID uuid.UUID) []uuid.UUID {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var users []uuid.UUID
	for client := range h.rooms[questID] {
		users = append(users, client.userID)
	}
	return users
}

// RegisterClient attaches conn to the quest room and starts its pumps. The
// caller must have checked that userID may access the room.
func (h *Hub) RegisterClient(conn *websocket.Conn, questID, userID uuid.UUID) *Client {
	client := &Client{
		hub:     h,
		questID: questID,
		userID:  userID,
		socket:  conn,
		send:    make(chan []byte, sendBuffer),
	}

	welcome, _ := json.Marshal(Message{Type: "connected", Payload: map[string]interface{}{"quest_id": questID}})
	client.send <- welcome

	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}

	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", "quest_id", c.questID, "user_id", c.userID, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients only talk to keep the connection alive; quest changes go
// through the HTTP API.
func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		data, _ := json.Marshal(Message{Type: "pong", Payload: "pong"})
		c.hub.deliver(c, data)
	default:
		c.hub.log.Debug("ignoring client message", "type", msg.Type, "user_id", c.userID)
	}
}

// deliver sends to one client if it is still registered. Holding the lock
// keeps Run from closing the channel mid-send.
func (h *Hub) deliver(c *Client, data []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if !h.rooms[c.questID][c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
