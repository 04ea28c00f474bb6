package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiwari-pos/orderflow/internal/auth"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/realtime"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Time allowed to authorize one join
	authorizeWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (we validate via JWT)
	},
}

// Client represents a single WebSocket connection
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	claims    *auth.Claims
	authorize Authorizer
	send      chan []byte

	// rooms is owned by the hub and guarded by hub.mu
	rooms map[string]bool
}

func (c *Client) userID() string {
	if c.claims == nil {
		return ""
	}
	return c.claims.UserID
}

// ReadPump pumps join requests from the WebSocket connection to the hub.
// The application runs ReadPump in a per-connection goroutine
func (c *Client) ReadPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket error", zap.Error(err))
			}
			break
		}

		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != enum.EventJoin {
			c.hub.logger.Debug("ignoring client frame", zap.ByteString("frame", data))
			continue
		}
		if !c.hub.queueJoin(c.subscribe(env)) {
			return
		}
	}
}

func (c *Client) subscribe(env realtime.Envelope) subscription {
	sub := subscription{client: c, room: env.Room, ref: env.Ref}
	ctx, cancel := context.WithTimeout(context.Background(), authorizeWait)
	defer cancel()
	if err := c.authorize(ctx, c.claims, env.Room); err != nil {
		sub.denied = err.Error()
		c.hub.logger.Info("join denied",
			zap.String("room", env.Room),
			zap.String("role", c.claims.Role),
			zap.String("user_id", c.claims.UserID),
		)
	}
	return sub
}

// WritePump pumps messages from the hub to the WebSocket connection
// The application runs WritePump in a per-connection goroutine
func (c *Client) WritePump() {
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// ServeWS handles WebSocket requests from clients
// Endpoint: WS /ws?token=JWT
func ServeWS(hub *Hub, jwtSecret string, authorize Authorizer, w http.ResponseWriter, r *http.Request) {
	// 1. Extract token from query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	// 2. Validate JWT
	claims, err := auth.ValidateToken(jwtSecret, tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// 3. Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	// 4. Create client and register with hub. Rooms are joined by message.
	client := &Client{
		hub:       hub,
		conn:      conn,
		claims:    claims,
		authorize: authorize,
		send:      make(chan []byte, 256),
		rooms:     make(map[string]bool),
	}
	if !client.hub.add(client) {
		conn.Close()
		return
	}

	// 5. Start pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}
