package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/bedrock-server-manager/internal/console"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/server"
	"github.com/yourusername/bedrock-server-manager/internal/status"
)

// Supervisor exposes the supervised process to the API
type Supervisor interface {
	Status() server.Status
	Send(command string) error
}

// Pinger queries the game server's status endpoint
type Pinger interface {
	Ping(ctx context.Context) (*status.Pong, error)
}

// HistorySource lists recorded lifecycle events
type HistorySource interface {
	Recent(limit int) ([]logging.HistoryEvent, error)
}

// CommandRequest is the body of POST /commands
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// CommandResponse reports the result of relaying a command
type CommandResponse struct {
	Success bool   `json:"success"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServerHandler serves process status, player counts, command relay and
// history
type ServerHandler struct {
	supervisor   Supervisor
	pinger       Pinger
	history      HistorySource
	probeTimeout time.Duration
}

// NewServerHandler creates a server handler. pinger and history may be nil.
func NewServerHandler(supervisor Supervisor, pinger Pinger, history HistorySource, probeTimeout time.Duration) *ServerHandler {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &ServerHandler{
		supervisor:   supervisor,
		pinger:       pinger,
		history:      history,
		probeTimeout: probeTimeout,
	}
}

// GetPlayers pings the server and reports its advertised player count
func (h *ServerHandler) GetPlayers(c *gin.Context) {
	if h.pinger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Status probe not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.probeTimeout)
	defer cancel()

	pong, err := h.pinger.Ping(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Server did not answer status ping", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"online":     pong.PlayersOnline,
		"max":        pong.PlayersMax,
		"motd":       pong.MOTD,
		"version":    pong.Version,
		"level_name": pong.LevelName,
		"latency_ms": pong.Latency.Milliseconds(),
	})
}

// ExecuteCommand relays a sanitised command to the server console
func (h *ServerHandler) ExecuteCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CommandResponse{Error: err.Error()})
		return
	}

	command, err := console.SanitizeCommand(req.Command)
	if err != nil {
		c.JSON(http.StatusBadRequest, CommandResponse{Error: err.Error()})
		return
	}

	if err := h.supervisor.Send(command); err != nil {
		log.Printf("[API] Failed to send command: %v", err)
		statusCode := http.StatusInternalServerError
		if errors.Is(err, server.ErrProcessUnavailable) {
			statusCode = http.StatusConflict
		}
		c.JSON(statusCode, CommandResponse{Command: command, Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, CommandResponse{Success: true, Command: command})
}

// GetHistory returns recent lifecycle events, newest first
func (h *ServerHandler) GetHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History not available"})
		return
	}

	limit := queryInt(c, "limit", 100, 1000)
	events, err := h.history.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// queryInt parses a positive integer query parameter, clamped to max
func queryInt(c *gin.Context, name string, def, max int) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil || value <= 0 {
		return def
	}
	if value > max {
		return max
	}
	return value
}
