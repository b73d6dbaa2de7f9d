package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yourusername/bedrock-server-manager/internal/config"
)

var (
	logger    *slog.Logger
	initOnce  sync.Once
	logCloser io.Closer
)

// Init configures the process logger once: records go to stdout and, when a
// file is configured, to a rotating log file. The standard library logger is
// redirected through it so "[Component] message" lines gain a component
// attribute.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	var initErr error

	initOnce.Do(func() {
		l, closer, err := build(cfg, os.Stdout)
		if err != nil {
			initErr = err
			return
		}
		logger, logCloser = l, closer

		slog.SetDefault(logger)
		log.SetFlags(0)
		log.SetOutput(bridge{logger: logger})
	})

	if initErr != nil {
		return nil, initErr
	}
	return L(), nil
}

// L returns the process logger, discarding output until Init runs
func L() *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

// With returns a logger tagged with a component name
func With(component string) *slog.Logger {
	return L().With("component", component)
}

// Close flushes the rotating log file, if any
func Close() error {
	if logCloser == nil {
		return nil
	}
	return logCloser.Close()
}

func build(cfg config.LoggingConfig, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	out := stdout
	var closer io.Closer

	if file := strings.TrimSpace(cfg.File); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(stdout, rotating)
		closer = rotating
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

// bridge turns standard library log lines into slog records
type bridge struct {
	logger *slog.Logger
}

func (b bridge) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	if component, rest, ok := splitComponent(msg); ok {
		b.logger.Info(rest, "component", component)
	} else {
		b.logger.Info(msg)
	}
	return len(p), nil
}

// splitComponent parses a leading "[Name] " tag
func splitComponent(msg string) (component, rest string, ok bool) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg, false
	}
	end := strings.Index(msg, "] ")
	if end <= 1 || strings.ContainsAny(msg[1:end], " []") {
		return "", msg, false
	}
	return strings.ToLower(msg[1:end]), strings.TrimSpace(msg[end+2:]), true
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
