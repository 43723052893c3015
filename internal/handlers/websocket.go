package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"game-lobby-backend/internal/models"
	"game-lobby-backend/internal/services"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type      string `json:"type"`
	UserID    int64  `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type Client struct {
	UserID int64
	Conn   *websocket.Conn

	mu     sync.Mutex
	send   chan *Message
	closed bool
}

func newClient(userID int64, conn *websocket.Conn) *Client {
	return &Client{UserID: userID, Conn: conn, send: make(chan *Message, sendBuffer)}
}

// queue hands msg to the write pump. It reports false once the client is
// closed or too slow to keep up.
func (c *Client) queue(msg *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) writePump() {
	for msg := range c.send {
		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// WebSocketHub fans session and balance events out to every connection a
// user has open. It is the services.Broadcaster of the process.
type WebSocketHub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	logger     *slog.Logger
}

func NewWebSocketHub(logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is done, then closes every client.
func (hub *WebSocketHub) Run(ctx context.Context) {
	defer close(hub.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range hub.clients {
				for client := range set {
					client.close()
				}
			}
			hub.clients = make(map[int64]map[*Client]struct{})
			return

		case client := <-hub.register:
			set, ok := hub.clients[client.UserID]
			if !ok {
				set = make(map[*Client]struct{})
				hub.clients[client.UserID] = set
			}
			set[client] = struct{}{}
			hub.logger.Debug("websocket client registered", "user_id", client.UserID, "connections", len(set))

		case client := <-hub.unregister:
			hub.remove(client)

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)
		}
	}
}

// join and leave give up once the hub has stopped.
func (hub *WebSocketHub) join(client *Client) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *WebSocketHub) leave(client *Client) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

func (hub *WebSocketHub) remove(client *Client) {
	set, ok := hub.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := set[client]; ok {
		delete(set, client)
		client.close()
		hub.logger.Debug("websocket client unregistered", "user_id", client.UserID)
	}
	if len(set) == 0 {
		delete(hub.clients, client.UserID)
	}
}

func (hub *WebSocketHub) broadcastMessage(message *Message) {
	for client := range hub.clients[message.UserID] {
		if !client.queue(message) {
			hub.remove(client)
		}
	}
}

func (hub *WebSocketHub) publish(msg *Message) {
	select {
	case hub.broadcast <- msg:
	default:
		hub.logger.Warn("websocket broadcast queue full, dropping", "type", msg.Type, "user_id", msg.UserID)
	}
}

func (hub *WebSocketHub) BroadcastSessionUpdate(userID int64, session *models.GameSession) {
	hub.publish(&Message{
		Type:      "SESSION_UPDATE",
		UserID:    userID,
		SessionID: session.ID,
		Data:      session,
	})
}

func (hub *WebSocketHub) BroadcastBalance(userID int64, balance models.BalanceResponse) {
	hub.publish(&Message{
		Type:   "BALANCE_UPDATE",
		UserID: userID,
		Data:   balance,
	})
}

type WebSocketHandler struct {
	hub          *WebSocketHub
	sessions     *services.SessionRegistry
	redisService *services.RedisService
	logger       *slog.Logger
}

func NewWebSocketHandler(hub *WebSocketHub, sessions *services.SessionRegistry, redisService *services.RedisService, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		sessions:     sessions,
		redisService: redisService,
		logger:       logger,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := newClient(userID, conn)
	if !h.hub.join(client) {
		conn.Close()
		return
	}
	go client.writePump()

	defer func() {
		h.hub.leave(client)
		conn.Close()
	}()

	ctx := context.WithoutCancel(c.Request.Context())
	h.sendBalance(ctx, client)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "user_id", userID, "err", err)
			}
			break
		}

		h.handleMessage(ctx, client, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, client *Client, msg *Message) {
	switch msg.Type {
	case "PING":
		client.queue(&Message{
			Type: "PONG",
			Data: gin.H{"timestamp": time.Now().Unix()},
		})
	case "SURFACE_HEARTBEAT":
		if err := h.sessions.Heartbeat(ctx, client.UserID, msg.SessionID); err != nil {
			h.sendError(client, msg.SessionID, err)
		}
	case "SURFACE_CLOSED":
		// the teardown waits on the provider; keep reading meanwhile
		go func() {
			if err := h.sessions.NotifyUserSurfaceClosed(ctx, client.UserID, msg.SessionID); err != nil {
				h.logger.Warn("surface closed signal failed", "user_id", client.UserID, "session_id", msg.SessionID, "err", err)
				h.sendError(client, msg.SessionID, err)
			}
		}()
	}
}

func (h *WebSocketHandler) sendBalance(ctx context.Context, client *Client) {
	wallet, err := h.redisService.GetWallet(ctx, client.UserID)
	if err != nil {
		h.logger.Warn("load wallet for websocket", "user_id", client.UserID, "err", err)
		return
	}

	client.queue(&Message{
		Type:   "BALANCE_UPDATE",
		UserID: client.UserID,
		Data:   wallet.Response(),
	})
}

func (h *WebSocketHandler) sendError(client *Client, sessionID string, err error) {
	data := gin.H{"error": err.Error()}
	if kind := services.KindOf(err); kind != "" {
		data["error_kind"] = kind
	}
	client.queue(&Message{
		Type:      "ERROR",
		SessionID: sessionID,
		Data:      data,
	})
}
