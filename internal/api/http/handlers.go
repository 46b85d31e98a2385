package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/handoff/internal/handoff"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/logging"
	"github.com/GriffinCanCode/handoff/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/handoff/internal/shared/id"
)

// Handlers serves the session status API.
type Handlers struct {
	service handoff.Service
	breaker *resilience.Breaker
	logger  *zap.Logger
	started time.Time
}

// NewHandlers creates a new handler set. breaker may be nil.
func NewHandlers(service handoff.Service, breaker *resilience.Breaker, logger *zap.Logger) *Handlers {
	return &Handlers{
		service: service,
		breaker: breaker,
		logger:  logging.OrNop(logger),
		started: time.Now(),
	}
}

// ResizeRequest is the body of POST /sessions/:id/resize.
type ResizeRequest struct {
	Rows uint16 `json:"rows" binding:"required,min=1"`
	Cols uint16 `json:"cols" binding:"required,min=1"`
}

// Health reports liveness plus the spawn breaker state.
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"sessions": len(h.service.List()),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	}
	if h.breaker != nil {
		body["breaker"] = h.breaker.State().String()
		if remaining := h.breaker.CooldownRemaining(); remaining > 0 {
			body["breaker_cooldown"] = remaining.Round(time.Millisecond).String()
		}
	}
	c.JSON(http.StatusOK, body)
}

// ListSessions returns every live session.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.service.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one live session.
func (h *Handlers) GetSession(c *gin.Context) {
	info, err := h.service.Info(sessionID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// CancelSession cancels a live session. The response does not wait for the
// session to close.
func (h *Handlers) CancelSession(c *gin.Context) {
	hid := sessionID(c)
	if err := h.service.Cancel(hid); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("Session cancelled over API", zap.String("session_id", hid.String()))
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"id":      hid,
	})
}

// ResizeSession sets a new window size for a live session.
func (h *Handlers) ResizeSession(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rows and cols must be positive integers"})
		return
	}

	hid := sessionID(c)
	if err := h.service.Resize(hid, req.Rows, req.Cols); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"id":      hid,
		"rows":    req.Rows,
		"cols":    req.Cols,
	})
}

func sessionID(c *gin.Context) id.HandoffID {
	return id.HandoffID(c.Param("id"))
}

// fail maps handoff errors onto HTTP status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, handoff.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, handoff.ErrChannelClosed):
		status = http.StatusConflict
	case errors.Is(err, handoff.ErrInvalidSize):
		status = http.StatusBadRequest
	default:
		h.logger.Error("Status API request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
