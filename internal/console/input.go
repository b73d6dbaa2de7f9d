package console

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// LineReader reads operator input in the background. A single reader is
// shared by the consoles of successive server instances, so each line is
// delivered to exactly one caller of Next.
type LineReader struct {
	lines chan string
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// NewLineReader starts reading lines from r
func NewLineReader(r io.Reader) *LineReader {
	lr := &LineReader{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go lr.read(r)
	return lr
}

func (lr *LineReader) read(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lr.lines <- scanner.Text()
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	lr.mu.Lock()
	lr.err = err
	lr.mu.Unlock()
	close(lr.done)
}

// Next returns the next input line. It returns io.EOF or the read error once
// input is exhausted.
func (lr *LineReader) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-lr.lines:
		return line, nil
	case <-lr.done:
		lr.mu.Lock()
		defer lr.mu.Unlock()
		return "", lr.err
	}
}
