package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/bedrock-server-manager/internal/api/middleware"
	"github.com/yourusername/bedrock-server-manager/internal/console"
	ws "github.com/yourusername/bedrock-server-manager/internal/websocket"
)

// LineSource exposes recently tailed log lines
type LineSource interface {
	Last(n int) []console.Line
}

// ConsoleHandler serves buffered log lines and the live websocket stream
type ConsoleHandler struct {
	lines          LineSource
	hub            *ws.Hub
	allowedOrigins []string
}

// NewConsoleHandler creates a new console handler
func NewConsoleHandler(lines LineSource, hub *ws.Hub, allowedOrigins []string) *ConsoleHandler {
	return &ConsoleHandler{
		lines:          lines,
		hub:            hub,
		allowedOrigins: allowedOrigins,
	}
}

// GetLines returns the newest buffered log lines, optionally filtered
// GET /api/v1/console?lines=N&filter=errors|search|regex&query=...
func (h *ConsoleHandler) GetLines(c *gin.Context) {
	limit := queryInt(c, "lines", 100, 1000)

	filter, err := console.NewOutputFilter(c.Query("filter"), c.Query("query"), c.Query("case_sensitive") == "true")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Filter the whole buffer, then keep the newest matches
	lines := filter.FilterLines(h.lines.Last(0))
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{"lines": lines, "count": len(lines)})
}

// HandleWebSocket streams a room to the client
// WS /ws/console?room=console|events
func (h *ConsoleHandler) HandleWebSocket(c *gin.Context) {
	room := c.DefaultQuery("room", ws.RoomConsole)
	if room != ws.RoomConsole && room != ws.RoomEvents {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown room"})
		return
	}

	upgrader := buildUpgrader(h.allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.Printf("[Console] Failed to upgrade WebSocket: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	client := ws.NewClient(h.hub, conn, room)

	// Replay recent output so a new viewer has context. Queued before joining
	// so the hub cannot have closed Send yet.
	if room == ws.RoomConsole {
		for _, line := range h.lines.Last(100) {
			select {
			case client.Send <- &ws.Message{Type: ws.TypeConsoleLine, Payload: line, Timestamp: line.Time}:
			default:
			}
		}
	}

	if !h.hub.Join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.IsOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}
