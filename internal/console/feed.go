package console

import (
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
	"github.com/yourusername/bedrock-server-manager/internal/websocket"
)

// Broadcaster publishes messages to websocket rooms
type Broadcaster interface {
	BroadcastToRoom(room string, message *websocket.Message)
}

// Feed distributes tailed lines to the terminal, the replay buffer and live
// websocket viewers. Presentation never affects workflow state.
type Feed struct {
	buffer    *RingBuffer
	presenter *Presenter
	hub       Broadcaster
	metrics   *metrics.Metrics
}

// NewFeed creates a feed. presenter, hub and m may be nil.
func NewFeed(buffer *RingBuffer, presenter *Presenter, hub Broadcaster, m *metrics.Metrics) *Feed {
	if buffer == nil {
		buffer = NewRingBuffer(1000)
	}
	return &Feed{
		buffer:    buffer,
		presenter: presenter,
		hub:       hub,
		metrics:   m,
	}
}

// Handle processes one tailed line
func (f *Feed) Handle(line Line) {
	line.Text = SanitizeLine(line.Text)

	f.buffer.Add(line)
	f.metrics.LogLine(string(line.Category))

	if f.presenter != nil {
		f.presenter.Present(line)
	}
	if f.hub != nil {
		f.hub.BroadcastToRoom(websocket.RoomConsole, &websocket.Message{
			Type:      websocket.TypeConsoleLine,
			Payload:   line,
			Timestamp: line.Time,
		})
	}
}

// Buffer returns the replay buffer
func (f *Feed) Buffer() *RingBuffer {
	return f.buffer
}
