package archive

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/middleware"
	"github.com/hostelcast/livesession/pkg/apperr"
	"github.com/hostelcast/livesession/pkg/response"
	"github.com/hostelcast/livesession/pkg/storage"
)

// Presigner issues time-limited download links for transcripts.
type Presigner interface {
	PresignTranscript(ctx context.Context, sessionID string) (string, error)
}

// Handler serves GET /sessions/:id/transcript.
type Handler struct {
	sessions SessionSource
	links    Presigner
	logger   *zap.Logger
}

// NewHandler creates a transcript link handler.
func NewHandler(sessions SessionSource, links Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, links: links, logger: logger}
}

// GetTranscript returns a download link for an ended session's transcript. Host only.
func (h *Handler) GetTranscript(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	s, err := h.sessions.Get(ctx, id)
	if err == nil && s == nil {
		err = apperr.NotFound("session %s not found", id)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	if s.HostID != middleware.UserID(c) {
		response.Error(c, apperr.Unauthorized("only the host can fetch the transcript"))
		return
	}
	if !s.IsEnded() {
		response.Error(c, apperr.Conflict("session %s is still active", id))
		return
	}
	url, err := h.links.PresignTranscript(ctx, id)
	if err != nil {
		h.logger.Error("presign transcript", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "failed to create transcript link")
		return
	}
	response.OK(c, gin.H{"key": storage.TranscriptKey(id), "url": url})
}
