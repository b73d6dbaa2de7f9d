package console

import "sync"

// RingBuffer keeps the most recent console lines
type RingBuffer struct {
	lines    []Line
	maxLines int
	current  int
	full     bool
	mu       sync.RWMutex
}

// NewRingBuffer creates a new ring buffer
func NewRingBuffer(maxLines int) *RingBuffer {
	if maxLines <= 0 {
		maxLines = 1000
	}
	return &RingBuffer{
		lines:    make([]Line, maxLines),
		maxLines: maxLines,
	}
}

// Add adds a line to the buffer
func (rb *RingBuffer) Add(line Line) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.current] = line
	rb.current = (rb.current + 1) % rb.maxLines
	if rb.current == 0 {
		rb.full = true
	}
}

// Lines returns a copy of all lines, oldest first
func (rb *RingBuffer) Lines() []Line {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		return append([]Line(nil), rb.lines[:rb.current]...)
	}

	result := make([]Line, rb.maxLines)
	for i := 0; i < rb.maxLines; i++ {
		result[i] = rb.lines[(rb.current+i)%rb.maxLines]
	}
	return result
}

// Last returns the last n lines
func (rb *RingBuffer) Last(n int) []Line {
	lines := rb.Lines()
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
