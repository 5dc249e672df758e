package sessions

import (
	"github.com/gin-gonic/gin"

	"github.com/hostelcast/livesession/internal/middleware"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/pkg/response"
	"github.com/hostelcast/livesession/pkg/retry"
)

// Handler serves the session lifecycle endpoints.
type Handler struct {
	mgr *Manager
}

// NewHandler creates a lifecycle handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

type startRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type sessionView struct {
	*models.LiveSession
	ViewURL string `json:"view_url"`
}

// Start handles POST /sessions (host).
func (h *Handler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	host := models.Host{ID: middleware.UserID(c), Name: middleware.UserName(c)}
	s, err := h.mgr.StartSession(c.Request.Context(), req.Title, req.Description, host)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sessionView{LiveSession: s, ViewURL: h.mgr.ViewURL(s.ID)})
}

// List handles GET /sessions.
func (h *Handler) List(c *gin.Context) {
	list, err := h.mgr.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"sessions": list})
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	s, err := h.mgr.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sessionView{LiveSession: s, ViewURL: h.mgr.ViewURL(s.ID)})
}

// End handles POST /sessions/:id/end (host).
func (h *Handler) End(c *gin.Context) {
	ctx := c.Request.Context()
	var s *models.LiveSession
	err := retry.Busy(ctx, retry.Default, func() error {
		var err error
		s, err = h.mgr.EndSessionAsHost(ctx, c.Param("id"), middleware.UserID(c))
		return err
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}
