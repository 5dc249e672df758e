package control

import (
	"github.com/gin-gonic/gin"

	"github.com/hostelcast/livesession/internal/middleware"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/pkg/response"
	"github.com/hostelcast/livesession/pkg/retry"
)

// Handler serves the control endpoints.
type Handler struct {
	sync *Synchronizer
}

// NewHandler creates a control handler.
func NewHandler(s *Synchronizer) *Handler {
	return &Handler{sync: s}
}

// Get handles GET /sessions/:id/control.
func (h *Handler) Get(c *gin.Context) {
	snap, err := h.sync.GetControl(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// Set handles PUT /sessions/:id/control (host).
func (h *Handler) Set(c *gin.Context) {
	var change Change
	if err := c.ShouldBindJSON(&change); err != nil {
		response.BadRequest(c, "invalid control change")
		return
	}
	ctx := c.Request.Context()
	var snap models.ControlSnapshot
	err := retry.Busy(ctx, retry.Default, func() error {
		var err error
		snap, err = h.sync.SetControl(ctx, c.Param("id"), middleware.UserID(c), change)
		return err
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}
