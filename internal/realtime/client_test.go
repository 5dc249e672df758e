package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/models"
)

type staticSessions struct{ s *models.LiveSession }

func (f staticSessions) Get(_ context.Context, id string) (*models.LiveSession, error) {
	if id != f.s.ID {
		return nil, nil
	}
	return f.s.Clone(), nil
}

type recordingActions struct {
	mu         sync.Mutex
	heartbeats int
	left       int
}

func (a *recordingActions) Heartbeat(context.Context, string, string, time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heartbeats++
	return nil
}

func (a *recordingActions) Leave(context.Context, string, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.left++
	return nil
}

func (a *recordingActions) PostAsViewer(context.Context, string, string, string) (*models.ChatMessage, error) {
	return &models.ChatMessage{}, nil
}

func (a *recordingActions) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heartbeats, a.left
}

func TestPongRefreshesViewerPresence(t *testing.T) {
	prev := pingInterval
	pingInterval = 20 * time.Millisecond
	t.Cleanup(func() { pingInterval = prev })

	gin.SetMode(gin.TestMode)
	s := &models.LiveSession{ID: "s1", HostID: "host-1", Status: models.SessionActive, Control: models.DefaultControlState()}
	s.AddViewer(models.Viewer{ID: "v1", Name: "Asha", JoinedAt: time.Now(), LastSeen: time.Now()})
	actions := &recordingActions{}
	hub := NewHub(nil, nil, nil, 16)

	r := gin.New()
	r.GET("/ws/sessions/:id", ServeWs(hub, staticSessions{s: s}, actions, zap.NewNop()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/s1?viewer_id=v1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	// Reading lets the default ping handler answer with pongs. The viewer
	// never sends a heartbeat frame.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		hb, _ := actions.counts()
		return hb >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		_, left := actions.counts()
		return left == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestObserverPongDoesNotTouchPresence(t *testing.T) {
	c := &Client{SessionID: "s1", actions: &recordingActions{}}
	assert.NoError(t, c.heartbeat())
	hb, _ := c.actions.(*recordingActions).counts()
	assert.Zero(t, hb)
}
