package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"tchat-server/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // widgets are embedded on arbitrary customer sites
	},
}

// Client represents a connected WebSocket client. A client with an empty
// conversationID receives every event.
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	conversationID string
}

type envelope struct {
	conversationID string
	payload        []byte
}

// Hub maintains the set of active clients and broadcasts conversation
// events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("WebSocket client registered", zap.String("conversation_id", client.conversationID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("WebSocket client unregistered")
		case env := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.conversationID != "" && client.conversationID != env.conversationID {
					continue
				}
				select {
				case client.send <- env.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type WSEvent struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Data           interface{} `json:"data"`
}

const (
	EventNewMessage         = "new_message"
	EventConversationUpdate = "conversation_update"
)

// BroadcastEvent queues an event; it drops the event instead of blocking
// when the queue is full.
func (h *Hub) BroadcastEvent(eventType, conversationID string, data interface{}) {
	payload, err := json.Marshal(WSEvent{
		Type:           eventType,
		ConversationID: conversationID,
		Data:           data,
	})
	if err != nil {
		h.logger.Error("Error marshaling WS event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- envelope{conversationID: conversationID, payload: payload}:
	default:
		h.logger.Warn("WebSocket broadcast queue full, dropping event", zap.String("type", eventType))
	}
}

func (h *Hub) NotifyMessage(msg models.Message) {
	h.BroadcastEvent(EventNewMessage, msg.ConversationID, msg)
}

func (h *Hub) NotifyStatus(conversationID string, status models.ConversationStatus) {
	h.BroadcastEvent(EventConversationUpdate, conversationID, map[string]interface{}{
		"id":     conversationID,
		"status": status,
	})
}

// ServeWs upgrades the request. ?conversationId= limits the stream to one
// conversation.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}
	client := &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, 256),
		conversationID: r.URL.Query().Get("conversationId"),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		// clients only send pings / close frames
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
