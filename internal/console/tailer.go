package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
)

// TailerConfig configures a Tailer
type TailerConfig struct {
	Path string
	// PollInterval bounds the latency between a line being appended and
	// being emitted.
	PollInterval time.Duration
	// WaitInterval is the re-check period while the file does not exist.
	WaitInterval time.Duration
}

// Tailer follows the server log from its end, emitting each complete line
// appended after attach exactly once, in file order. The read position only
// moves forward, except when the file shrinks below it: the server truncates
// its log on restart, so the position rewinds to the start of the new file.
// It implements suture.Service.
type Tailer struct {
	cfg    TailerConfig
	handle func(Line)
	now    func() time.Time

	// attached is called once the file is open and positioned at its end
	attached func()
}

// NewTailer creates a tailer delivering lines to handle
func NewTailer(cfg TailerConfig, handle func(Line)) *Tailer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 500 * time.Millisecond
	}
	return &Tailer{cfg: cfg, handle: handle, now: time.Now}
}

func (t *Tailer) String() string {
	return "log-tailer"
}

// Serve waits for the log file, then follows it until ctx is done
func (t *Tailer) Serve(ctx context.Context) error {
	f, err := t.waitForFile(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek log file: %w", err)
	}
	log.Printf("[Tail] Following %s", t.cfg.Path)
	if t.attached != nil {
		t.attached()
	}

	return t.follow(ctx, f, offset)
}

func (t *Tailer) follow(ctx context.Context, f *os.File, offset int64) error {
	reader := bufio.NewReader(f)
	var partial strings.Builder

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		chunk, err := reader.ReadString('\n')
		offset += int64(len(chunk))
		partial.WriteString(chunk)

		if err == nil {
			t.emit(partial.String())
			partial.Reset()
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read log file: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// The server truncates the log on startup; start over from the top.
		if info, statErr := f.Stat(); statErr == nil && info.Size() < offset {
			log.Printf("[Tail] Log file truncated, rewinding")
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind log file: %w", err)
			}
			offset = 0
			partial.Reset()
			reader.Reset(f)
		}
	}
}

func (t *Tailer) emit(raw string) {
	text := strings.TrimRightFunc(raw, unicode.IsSpace)
	t.handle(NewLine(text, t.now()))
}

// waitForFile blocks until the log file can be opened. Directory events wake
// it early; the wait interval covers a missing directory or a failed watcher.
func (t *Tailer) waitForFile(ctx context.Context) (*os.File, error) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
		logged bool
	)

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(t.cfg.Path)); err == nil {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(t.cfg.WaitInterval)
	defer ticker.Stop()

	for {
		f, err := os.Open(t.cfg.Path)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		if !logged {
			log.Printf("[Tail] Waiting for log file %s", t.cfg.Path)
			logged = true
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[Tail] Watcher error: %v", err)
		}
	}
}
