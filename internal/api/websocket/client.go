package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/auth"
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

	// Time allowed for the auth message after connecting
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

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	permissions []auth.Permission

	mu    sync.RWMutex
	nodes map[string]bool
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// subscribed reports whether updates of node go to this client. A client
// without subscriptions receives everything.
func (c *Client) subscribed(node string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes) == 0 || c.nodes[node]
}

func (c *Client) subscribe(nodes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[string]bool, len(nodes))
	for _, node := range nodes {
		c.nodes[node] = true
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

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
		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage) bool {
	if msg.Type != "auth" || msg.Token == "" {
		c.writeDirect(NewMessage(MessageTypeAuthFailed, map[string]string{
			"reason": "first message must be authentication",
		}))
		return false
	}

	permissions, err := c.hub.auth.Authenticate(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.writeDirect(NewMessage(MessageTypeAuthFailed, map[string]string{
			"reason": "invalid or expired token",
		}))
		return false
	}

	c.permissions = permissions
	c.conn.SetReadDeadline(time.Time{})

	data, err := json.Marshal(NewMessage(MessageTypeAuthSuccess, map[string]any{"permissions": permissions}))
	if err != nil {
		return false
	}
	c.send <- data

	if !c.hub.join(c) {
		return false
	}

	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.Any("permissions", permissions))
	return true
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Nodes)
		c.logger.Debug("WebSocket client subscribed",
			zap.String("remote_addr", c.remoteAddr()),
			zap.Strings("nodes", msg.Nodes))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", msg.Type))
	}
}

// writeDirect is used before the write pump runs.
func (c *Client) writeDirect(msg Message) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteJSON(msg)
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
				// Hub closed the channel
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

// ServeWs handles WebSocket upgrade requests. With authentication
// enabled the client joins the hub after a valid auth message.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	if hub.auth == nil || !hub.auth.Enabled() {
		client.permissions = auth.AllPermissions
		if !hub.join(client) {
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
		return
	}

	// Authentication runs before the write pump starts, so failures are
	// written directly.
	go func() {
		client.conn.SetReadLimit(maxMessageSize)
		client.conn.SetReadDeadline(time.Now().Add(authWait))
		var msg clientMessage
		if err := client.conn.ReadJSON(&msg); err != nil || !client.authenticate(msg) {
			client.conn.Close()
			return
		}
		go client.writePump()
		client.readPump()
	}()
}
