package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the first (auth) message
	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one dashboard connection. It only receives data after
// authenticating with its first message.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	logger    *zap.Logger
	principal *auth.Principal

	// registered is owned by readPump.
	registered bool

	filterMu sync.RWMutex
	machines map[uuid.UUID]bool
}

type clientMessage struct {
	Type       string      `json:"type"`
	Token      string      `json:"token,omitempty"`
	MachineIDs []uuid.UUID `json:"machine_ids,omitempty"`
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// wants applies the machine subscription filter. Messages without a
// machine, and clients without a filter, always match.
func (c *Client) wants(msg Message) bool {
	if msg.machineID == uuid.Nil {
		return true
	}
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return len(c.machines) == 0 || c.machines[msg.machineID]
}

func (c *Client) readPump(userAgent string) {
	defer func() {
		if c.registered {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
		} else {
			close(c.send)
		}
		// writePump drains pending replies, then closes the connection
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}

		// First message MUST be authentication
		if c.principal == nil {
			if !c.authenticate(msg, userAgent) {
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			c.conn.SetPongHandler(func(string) error {
				return c.conn.SetReadDeadline(time.Now().Add(pongWait))
			})

			select {
			case c.hub.register <- c:
				c.registered = true
			case <-c.hub.done:
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage, userAgent string) bool {
	if msg.Type != "auth" {
		c.sendControl(MessageTypeAuthFailed, map[string]any{"reason": "First message must be authentication"})
		return false
	}
	if msg.Token == "" {
		c.sendControl(MessageTypeAuthFailed, map[string]any{"reason": "Missing token in auth message"})
		return false
	}

	principal, err := c.hub.validator.ValidateToken(context.Background(), msg.Token, c.remoteAddr(), userAgent)
	if err != nil || !principal.Has(auth.PermOperator) {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.sendControl(MessageTypeAuthFailed, map[string]any{"reason": "Invalid or expired token"})
		return false
	}

	c.principal = principal
	c.sendControl(MessageTypeAuthSuccess, map[string]any{
		"username":    principal.Username,
		"permissions": principal.Permissions,
	})
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.String("username", principal.Username))
	return true
}

// handleMessage processes subscription changes. An empty machine list
// subscribes to everything.
func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		filter := make(map[uuid.UUID]bool, len(msg.MachineIDs))
		for _, id := range msg.MachineIDs {
			filter[id] = true
		}
		c.filterMu.Lock()
		c.machines = filter
		c.filterMu.Unlock()
		c.sendControl(MessageTypeSubscribed, map[string]any{"machine_ids": msg.MachineIDs})
	default:
		c.sendControl(MessageTypeError, map[string]any{"reason": "unknown message type " + msg.Type})
	}
}

// sendControl writes a reply to this client only. Once registered, the
// hub owns the send channel and may already have closed it.
func (c *Client) sendControl(msgType MessageType, data map[string]any) {
	payload, err := json.Marshal(NewMessage(msgType, data))
	if err != nil {
		return
	}
	if c.registered {
		c.hub.mu.RLock()
		defer c.hub.mu.RUnlock()
		if !c.hub.clients[c] {
			return
		}
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs upgrades the request; the client registers with the hub once it
// has authenticated.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: h.logger,
	}

	go client.writePump()
	go client.readPump(r.UserAgent())
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWs(w, r)
}
