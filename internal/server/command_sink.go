package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/yourusername/bedrock-server-manager/internal/metrics"
)

// ErrProcessUnavailable is returned when no server process input is attached
var ErrProcessUnavailable = errors.New("server process not available")

// CommandSink delivers console commands to the game server
type CommandSink interface {
	Send(command string) error
}

// ProcessSink writes newline-terminated, cp1252-encoded commands to the
// attached process input. Writes are serialised so concurrent callers never
// interleave partial command text.
type ProcessSink struct {
	mu      sync.Mutex
	w       io.Writer
	encoder *encoding.Encoder
	metrics *metrics.Metrics
}

// NewProcessSink creates a detached sink. m may be nil.
func NewProcessSink(m *metrics.Metrics) *ProcessSink {
	return &ProcessSink{
		encoder: encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder()),
		metrics: m,
	}
}

// Attach points the sink at a process input stream
func (s *ProcessSink) Attach(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

// Detach drops the current input stream; later sends fail with
// ErrProcessUnavailable until the next Attach.
func (s *ProcessSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = nil
}

// Attached reports whether an input stream is attached
func (s *ProcessSink) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w != nil
}

// Send writes one command line
func (s *ProcessSink) Send(command string) error {
	err := s.send(command)
	s.metrics.CommandSent(err)
	if err != nil {
		log.Printf("[CMD] Failed to send command %q: %v", command, err)
		return err
	}
	log.Printf("[CMD] > %s", command)
	return nil
}

func (s *ProcessSink) send(command string) error {
	if err := validateCommand(command); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return ErrProcessUnavailable
	}

	encoded, err := s.encoder.String(command + "\n")
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	if _, err := io.WriteString(s.w, encoded); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

func validateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command is empty")
	}
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("command must be a single line")
	}
	return nil
}
