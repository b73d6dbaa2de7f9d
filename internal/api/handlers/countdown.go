package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/bedrock-server-manager/internal/countdown"
)

// APIInitiator is recorded for workflows started over HTTP
const APIInitiator = "API"

// Countdown controls the restart/shutdown workflow
type Countdown interface {
	Start(kind countdown.Kind, initiator string) error
	Cancel() error
	Snapshot() countdown.Snapshot
}

// CountdownHandler starts and cancels restart/shutdown workflows
type CountdownHandler struct {
	runner Countdown
}

// NewCountdownHandler creates a countdown handler
func NewCountdownHandler(runner Countdown) *CountdownHandler {
	return &CountdownHandler{runner: runner}
}

// StartRestart begins a restart workflow
func (h *CountdownHandler) StartRestart(c *gin.Context) {
	h.start(c, countdown.Restart)
}

// StartShutdown begins a shutdown workflow
func (h *CountdownHandler) StartShutdown(c *gin.Context) {
	h.start(c, countdown.Shutdown)
}

func (h *CountdownHandler) start(c *gin.Context, kind countdown.Kind) {
	if err := h.runner.Start(kind, APIInitiator); err != nil {
		if errors.Is(err, countdown.ErrCountdownActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "countdown": h.runner.Snapshot()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":   kind.Title() + " countdown started",
		"countdown": h.runner.Snapshot(),
	})
}

// CancelCountdown cancels the running workflow before it commits to stopping
func (h *CountdownHandler) CancelCountdown(c *gin.Context) {
	if err := h.runner.Cancel(); err != nil {
		if errors.Is(err, countdown.ErrNoCountdown) || errors.Is(err, countdown.ErrAlreadyExecuting) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Countdown cancelled"})
}

// StatusHandler reports the combined process and workflow state
type StatusHandler struct {
	supervisor Supervisor
	runner     Countdown
}

// NewStatusHandler creates a status handler
func NewStatusHandler(supervisor Supervisor, runner Countdown) *StatusHandler {
	return &StatusHandler{supervisor: supervisor, runner: runner}
}

// GetStatus returns the process status and countdown snapshot
func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server":    h.supervisor.Status(),
		"countdown": h.runner.Snapshot(),
	})
}
