package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// inboundMessage is what a WebSocket client may send upstream.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionActions is the subset of coordinator operations reachable over
// a viewer's WebSocket.
type SessionActions interface {
	Heartbeat(sessionID, viewerID uuid.UUID) error
	Chat(sessionID, viewerID uuid.UUID, message string) error
	Leave(sessionID, viewerID uuid.UUID) error
}

// client is one WebSocket connection bound to a hub subscription.
type client struct {
	sessionID uuid.UUID
	viewerID  uuid.UUID
	sub       *Subscription
	actions   SessionActions
	conn      *websocket.Conn
	logger    *zap.Logger
}

// ServeWs upgrades the connection, subscribes it to the session's event
// stream and runs the read/write pumps until the peer goes away.
func ServeWs(hub *Hub, actions SessionActions, logger *zap.Logger, validate func(token string) (viewerID uuid.UUID, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Query("session_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		viewerID, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		cl := &client{
			sessionID: sessionID,
			viewerID:  viewerID,
			sub:       hub.Subscribe(sessionID),
			actions:   actions,
			conn:      conn,
			logger:    logger,
		}
		go cl.writePump()
		cl.readPump()
	}
}

func (c *client) readPump() {
	defer func() {
		c.sub.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		// A live transport counts as a presence heartbeat too.
		_ = c.actions.Heartbeat(c.sessionID, c.viewerID)
		return nil
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Event {
		case "heartbeat":
			_ = c.actions.Heartbeat(c.sessionID, c.viewerID)
		case "chat_message":
			var payload struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err == nil && payload.Message != "" {
				if err := c.actions.Chat(c.sessionID, c.viewerID, payload.Message); err != nil {
					c.logger.Debug("chat rejected", zap.String("session_id", c.sessionID.String()), zap.Error(err))
				}
			}
		case "leave":
			_ = c.actions.Leave(c.sessionID, c.viewerID)
		default:
			// ignore
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
