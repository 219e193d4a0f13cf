package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/middleware"
	"github.com/crewdesk/backend/internal/session"
	"github.com/crewdesk/backend/internal/subscription"
	"github.com/crewdesk/backend/pkg/response"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection of a workspace member.
type Client struct {
	ID          string
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	hub         *Hub
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// NewUpgrader returns an upgrader accepting the given comma-separated origins, or any origin for "*".
// Requests without an Origin header are not from browsers and are accepted.
func NewUpgrader(allowedOrigins string) *websocket.Upgrader {
	allowAll := strings.TrimSpace(allowedOrigins) == "*"
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || allowed[origin]
		},
	}
}

// ServeWs handles GET /ws for the current workspace and runs the client loop. The route sits
// behind RequireUser and RequireWorkspaceRole, so both the session and workspace are present.
func ServeWs(hub *Hub, upgrader *websocket.Upgrader, grace time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		sess := session.FromGin(c)
		ws, _ := middleware.WorkspaceFromGin(c)
		if !sess.Authenticated() || ws == nil {
			response.BadRequest(c, "no current workspace")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			WorkspaceID: ws.ID,
			UserID:      *sess.UserID,
			hub:         hub,
			conn:        conn,
			send:        make(chan WSMessage, 16),
			logger:      logger,
		}
		if data, err := json.Marshal(subscription.Summarize(ws, time.Now(), grace)); err == nil {
			client.send <- WSMessage{Event: EventSubscriptionStatus, Data: data}
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump drains client frames. Members only listen; "ping" is answered for liveness checks.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == "ping" {
			select {
			case c.send <- WSMessage{Event: "pong"}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
