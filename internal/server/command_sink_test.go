package server

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestProcessSinkDetached(t *testing.T) {
	sink := NewProcessSink(nil)
	if err := sink.Send("list"); !errors.Is(err, ErrProcessUnavailable) {
		t.Fatalf("expected ErrProcessUnavailable, got %v", err)
	}
}

func TestProcessSinkEncodesCP1252(t *testing.T) {
	var buf bytes.Buffer
	sink := NewProcessSink(nil)
	sink.Attach(&buf)

	if err := sink.Send("say §ecafé ✓"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte("say \xa7ecaf\xe9 \x1a\n")
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("expected %q, got %q", want, buf.Bytes())
	}
}

func TestProcessSinkRejectsMultiline(t *testing.T) {
	var buf bytes.Buffer
	sink := NewProcessSink(nil)
	sink.Attach(&buf)

	if err := sink.Send("say hi\nstop"); err == nil {
		t.Fatalf("expected error for multi-line command")
	}
	if err := sink.Send("   "); err == nil {
		t.Fatalf("expected error for empty command")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written, got %q", buf.String())
	}
}

func TestProcessSinkWriteFailure(t *testing.T) {
	sink := NewProcessSink(nil)
	sink.Attach(failingWriter{})

	if err := sink.Send("list"); err == nil {
		t.Fatalf("expected write error")
	}

	sink.Detach()
	if sink.Attached() {
		t.Fatalf("expected sink to be detached")
	}
}

func TestProcessSinkSerialisesWriters(t *testing.T) {
	buf := &lockedBuffer{}
	sink := NewProcessSink(nil)
	sink.Attach(buf)

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = sink.Send(fmt.Sprintf("say writer-%d message-%d padding-padding-padding", w, i))
			}
		}(w)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("expected %d lines, got %d", writers*perWriter, len(lines))
	}
	for _, line := range lines {
		var w, i int
		if _, err := fmt.Sscanf(line, "say writer-%d message-%d padding-padding-padding", &w, &i); err != nil {
			t.Fatalf("interleaved or corrupt line %q: %v", line, err)
		}
	}
}
