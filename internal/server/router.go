// Package server assembles the HTTP and WebSocket surface of the coordinator.
package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/archive"
	"github.com/hostelcast/livesession/internal/auth"
	"github.com/hostelcast/livesession/internal/chat"
	"github.com/hostelcast/livesession/internal/control"
	"github.com/hostelcast/livesession/internal/middleware"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/presence"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/sessionlog"
	"github.com/hostelcast/livesession/internal/sessions"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/pkg/response"
)

// Deps are the services behind the router. Attendance and Transcripts may be nil.
type Deps struct {
	Store       store.Store
	Hub         *realtime.Hub
	Sessions    *sessions.Manager
	Presence    *presence.Tracker
	Chat        *chat.Channel
	Control     *control.Synchronizer
	Attendance  *sessionlog.Repository
	Transcripts archive.Presigner
	JWT         *auth.JWTService
	CORSOrigins string
	Logger      *zap.Logger
}

// viewerActions routes socket actions to the presence tracker and chat channel.
type viewerActions struct {
	presence *presence.Tracker
	chat     *chat.Channel
}

func (a viewerActions) Heartbeat(ctx context.Context, sessionID, viewerID string, now time.Time) error {
	return a.presence.Heartbeat(ctx, sessionID, viewerID, now)
}

func (a viewerActions) Leave(ctx context.Context, sessionID, viewerID string) error {
	return a.presence.Leave(ctx, sessionID, viewerID)
}

func (a viewerActions) PostAsViewer(ctx context.Context, sessionID, viewerID, text string) (*models.ChatMessage, error) {
	return a.chat.PostAsViewer(ctx, sessionID, viewerID, text)
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(d.CORSOrigins))
	router.Use(middleware.Logger(d.Logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessionHandler := sessions.NewHandler(d.Sessions)
	presenceHandler := presence.NewHandler(d.Presence)
	chatHandler := chat.NewHandler(d.Chat)
	controlHandler := control.NewHandler(d.Control)

	// Viewer-facing
	router.GET("/sessions", sessionHandler.List)
	router.GET("/sessions/:id", sessionHandler.Get)
	router.POST("/sessions/:id/viewers", presenceHandler.Join)
	router.GET("/sessions/:id/viewers", presenceHandler.List)
	router.DELETE("/sessions/:id/viewers/:viewerId", presenceHandler.Leave)
	router.POST("/sessions/:id/viewers/:viewerId/heartbeat", presenceHandler.Heartbeat)
	router.GET("/sessions/:id/messages", chatHandler.History)
	router.POST("/sessions/:id/messages", chatHandler.Post)
	router.GET("/sessions/:id/control", controlHandler.Get)

	// Host-only
	host := router.Group("")
	host.Use(middleware.JWT(d.JWT), middleware.RequireRole(auth.RoleHost))
	{
		host.POST("/sessions", sessionHandler.Start)
		host.POST("/sessions/:id/end", sessionHandler.End)
		host.PUT("/sessions/:id/control", controlHandler.Set)
		host.POST("/sessions/:id/announcements", chatHandler.Announce)
		host.POST("/sessions/:id/messages/:messageId/moderate", chatHandler.Moderate)
		host.POST("/sessions/:id/viewers/:viewerId/kick", presenceHandler.Kick)
		if d.Attendance != nil {
			host.GET("/sessions/:id/attendance", sessionlog.NewHandler(d.Attendance, d.Sessions, d.Logger).GetAttendance)
		}
		if d.Transcripts != nil {
			host.GET("/sessions/:id/transcript", archive.NewHandler(d.Sessions, d.Transcripts, d.Logger).GetTranscript)
		}
	}

	actions := viewerActions{presence: d.Presence, chat: d.Chat}
	router.GET("/ws/sessions/:id", realtime.ServeWs(d.Hub, d.Store, actions, d.Logger))

	return router
}
