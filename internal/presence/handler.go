package presence

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hostelcast/livesession/internal/middleware"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/pkg/response"
	"github.com/hostelcast/livesession/pkg/retry"
)

// Handler serves the viewer endpoints.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a presence handler.
func NewHandler(t *Tracker) *Handler {
	return &Handler{tracker: t}
}

type joinRequest struct {
	Name string `json:"name"`
}

// Join handles POST /sessions/:id/viewers.
func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name is required")
		return
	}
	ctx := c.Request.Context()
	var v *models.Viewer
	err := retry.Busy(ctx, retry.Default, func() error {
		var err error
		v, err = h.tracker.Join(ctx, c.Param("id"), req.Name)
		return err
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{
		"viewer":            v,
		"heartbeat_seconds": int(h.tracker.Timeout() / time.Second / 3),
	})
}

// Leave handles DELETE /sessions/:id/viewers/:viewerId.
func (h *Handler) Leave(c *gin.Context) {
	ctx := c.Request.Context()
	err := retry.Busy(ctx, retry.Default, func() error {
		return h.tracker.Leave(ctx, c.Param("id"), c.Param("viewerId"))
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Heartbeat handles POST /sessions/:id/viewers/:viewerId/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now()
	err := retry.Busy(ctx, retry.Default, func() error {
		return h.tracker.Heartbeat(ctx, c.Param("id"), c.Param("viewerId"), now)
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List handles GET /sessions/:id/viewers.
func (h *Handler) List(c *gin.Context) {
	snap, err := h.tracker.Viewers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// Kick handles POST /sessions/:id/viewers/:viewerId/kick (host).
func (h *Handler) Kick(c *gin.Context) {
	ctx := c.Request.Context()
	err := retry.Busy(ctx, retry.Default, func() error {
		return h.tracker.Kick(ctx, c.Param("id"), middleware.UserID(c), c.Param("viewerId"))
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
