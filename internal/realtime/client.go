package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/pkg/apperr"
	"github.com/hostelcast/livesession/pkg/response"
	"github.com/hostelcast/livesession/pkg/retry"
)

const (
	// PongWait is how long the connection may stay silent before it is dropped.
	PongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	actionWait = 5 * time.Second
)

// pingInterval paces keepalive pings. Every pong from a viewer also counts as
// a presence heartbeat, so it stays well under the presence timeout.
var pingInterval = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the HTTP middleware
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionReader reads session snapshots for backfill.
type SessionReader interface {
	Get(ctx context.Context, id string) (*models.LiveSession, error)
}

// ViewerActions are the mutations a connected viewer may trigger over the socket.
type ViewerActions interface {
	Heartbeat(ctx context.Context, sessionID, viewerID string, now time.Time) error
	Leave(ctx context.Context, sessionID, viewerID string) error
	PostAsViewer(ctx context.Context, sessionID, viewerID, text string) (*models.ChatMessage, error)
}

// Client is a single WebSocket connection following one session.
type Client struct {
	SessionID string
	ViewerID  string // empty for observers (e.g. the host dashboard)
	hub       *Hub
	actions   ViewerActions
	conn      *websocket.Conn
	sub       *Subscription
	direct    chan WSMessage
	logger    *zap.Logger
}

// ServeWs upgrades GET /ws/sessions/:id?viewer_id=... and streams the chat,
// control and presence feeds, starting with a full backfill.
func ServeWs(hub *Hub, sessions SessionReader, actions ViewerActions, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		viewerID := c.Query("viewer_id")

		s, err := sessions.Get(c.Request.Context(), sessionID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if s == nil {
			response.Error(c, apperr.NotFound("session %s not found", sessionID))
			return
		}
		if viewerID != "" && s.FindViewer(viewerID) < 0 {
			response.Error(c, apperr.NotFound("viewer %s not found", viewerID))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			SessionID: sessionID,
			ViewerID:  viewerID,
			hub:       hub,
			actions:   actions,
			conn:      conn,
			direct:    make(chan WSMessage, 16),
			logger:    logger.With(zap.String("session_id", sessionID), zap.String("viewer_id", viewerID)),
		}
		client.sub = hub.Subscribe(sessionID, StreamChat, StreamControl, StreamPresence)

		backfill, err := client.backfill(c.Request.Context(), sessions)
		if err != nil {
			client.logger.Warn("feed backfill failed", zap.Error(err))
			client.sub.Close()
			_ = conn.Close()
			return
		}
		go client.writePump(backfill)
		client.readPump()
	}
}

// backfill reads the snapshot after subscribing and primes every stream with it.
func (c *Client) backfill(ctx context.Context, sessions SessionReader) ([]WSMessage, error) {
	s, err := sessions.Get(ctx, c.SessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errSessionGone
	}
	history, err := json.Marshal(s.Messages)
	if err != nil {
		return nil, err
	}
	control, err := json.Marshal(s.ControlSnapshot())
	if err != nil {
		return nil, err
	}
	presence, err := json.Marshal(s.PresenceSnapshot())
	if err != nil {
		return nil, err
	}
	c.sub.Prime(StreamChat, s.LastMessageID)
	c.sub.Prime(StreamControl, s.ControlRev)
	c.sub.Prime(StreamPresence, s.PresenceRev)
	return []WSMessage{
		{Event: EventChatHistory, Seq: s.LastMessageID, Data: history},
		{Event: EventControlState, Seq: s.ControlRev, Data: control},
		{Event: EventPresence, Seq: s.PresenceRev, Data: presence},
	}, nil
}

type inbound struct {
	Text string `json:"text"`
}

func (c *Client) readPump() {
	defer func() {
		c.sub.Close()
		if c.ViewerID != "" && c.actions != nil {
			ctx, cancel := context.WithTimeout(context.Background(), actionWait)
			err := retry.Busy(ctx, retry.Default, func() error {
				return c.actions.Leave(ctx, c.SessionID, c.ViewerID)
			})
			if err != nil {
				c.logger.Debug("leave on disconnect", zap.Error(err))
			}
			cancel()
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		if err := c.heartbeat(); err != nil {
			c.logger.Debug("heartbeat on pong", zap.Error(err))
		}
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		if c.ViewerID == "" || c.actions == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), actionWait)
		switch msg.Event {
		case "heartbeat":
			if err := c.heartbeat(); err != nil {
				c.sendError(err)
			}
		case "chat_message":
			var in inbound
			if err := json.Unmarshal(msg.Data, &in); err != nil {
				c.sendError(err)
				break
			}
			err := retry.Busy(ctx, retry.Default, func() error {
				_, err := c.actions.PostAsViewer(ctx, c.SessionID, c.ViewerID, in.Text)
				return err
			})
			if err != nil {
				c.sendError(err)
			}
		default:
			// ignore
		}
		cancel()
	}
}

// heartbeat refreshes the viewer's presence. Observers have none.
func (c *Client) heartbeat() error {
	if c.ViewerID == "" || c.actions == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionWait)
	defer cancel()
	now := time.Now()
	return retry.Busy(ctx, retry.Default, func() error {
		return c.actions.Heartbeat(ctx, c.SessionID, c.ViewerID, now)
	})
}

func (c *Client) sendError(err error) {
	_, code := response.Status(err)
	data, _ := json.Marshal(gin.H{"error": err.Error(), "code": code})
	select {
	case c.direct <- WSMessage{Event: EventError, Data: data}:
	default:
	}
}

func (c *Client) writePump(backfill []WSMessage) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for _, msg := range backfill {
		if !c.write(msg) {
			return
		}
	}
	events := c.sub.C()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "feed closed, reconnect"))
				return
			}
			if !c.write(WSMessage{Event: ev.Name, Seq: ev.Seq, Data: ev.Data}) {
				return
			}
		case msg := <-c.direct:
			if !c.write(msg) {
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

func (c *Client) write(msg WSMessage) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg) == nil
}
