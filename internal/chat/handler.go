package chat

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hostelcast/livesession/internal/middleware"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/pkg/response"
	"github.com/hostelcast/livesession/pkg/retry"
)

// Handler serves the chat endpoints.
type Handler struct {
	ch *Channel
}

// NewHandler creates a chat handler.
func NewHandler(ch *Channel) *Handler {
	return &Handler{ch: ch}
}

type postRequest struct {
	ViewerID string `json:"viewer_id"`
	Text     string `json:"text"`
}

type moderateRequest struct {
	Reason string `json:"reason"`
}

// History handles GET /sessions/:id/messages.
func (h *Handler) History(c *gin.Context) {
	msgs, err := h.ch.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"messages": msgs})
}

// Post handles POST /sessions/:id/messages from a viewer.
func (h *Handler) Post(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ViewerID == "" {
		response.BadRequest(c, "viewer_id and text are required")
		return
	}
	h.commit(c, func() (*models.ChatMessage, error) {
		return h.ch.PostAsViewer(c.Request.Context(), c.Param("id"), req.ViewerID, req.Text)
	})
}

// Announce handles POST /sessions/:id/announcements (host).
func (h *Handler) Announce(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "text is required")
		return
	}
	h.commit(c, func() (*models.ChatMessage, error) {
		return h.ch.PostAsHost(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Text)
	})
}

// Moderate handles POST /sessions/:id/messages/:messageId/moderate (host).
func (h *Handler) Moderate(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	var req moderateRequest
	_ = c.ShouldBindJSON(&req)
	h.commit(c, func() (*models.ChatMessage, error) {
		return h.ch.Moderate(c.Request.Context(), c.Param("id"), middleware.UserID(c), messageID, req.Reason)
	})
}

func (h *Handler) commit(c *gin.Context, post func() (*models.ChatMessage, error)) {
	var msg *models.ChatMessage
	err := retry.Busy(c.Request.Context(), retry.Default, func() error {
		var err error
		msg, err = post()
		return err
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}
