package sessionlog

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/middleware"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/pkg/apperr"
	"github.com/hostelcast/livesession/pkg/response"
)

// SessionReader loads a session to check its host.
type SessionReader interface {
	Get(ctx context.Context, id string) (*models.LiveSession, error)
}

// Handler serves GET /sessions/:id/attendance.
type Handler struct {
	repo     *Repository
	sessions SessionReader
	logger   *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(repo *Repository, sessions SessionReader, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, sessions: sessions, logger: logger}
}

// GetAttendance lists a session's attendance. Host only.
func (h *Handler) GetAttendance(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	s, err := h.sessions.Get(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if s.HostID != middleware.UserID(c) {
		response.Error(c, apperr.Unauthorized("only the host can view attendance"))
		return
	}
	list, err := h.repo.ListBySession(ctx, id)
	if err != nil {
		h.logger.Error("list attendance", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to list attendance")
		return
	}
	totals, err := h.repo.Totals(ctx, id)
	if err != nil {
		h.logger.Error("attendance totals", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to list attendance")
		return
	}
	response.OK(c, gin.H{"attendees": list, "totals": totals, "peak_viewers": s.PeakViewers})
}
