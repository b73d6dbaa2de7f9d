package idle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/countdown"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
)

// Initiator is recorded for restarts triggered by the idle monitor
const Initiator = "IdleMonitor"

// Probe reports the number of connected players
type Probe interface {
	PlayerCount(ctx context.Context) (int, error)
}

// Starter begins a countdown workflow without blocking
type Starter interface {
	Start(kind countdown.Kind, initiator string) error
}

// HistoryRecorder persists server-initiated lifecycle events
type HistoryRecorder interface {
	Record(kind, initiator, message string) error
}

// Config configures a Monitor
type Config struct {
	Threshold    time.Duration
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// Monitor restarts the server after it has been empty for the idle threshold.
// It is bound to one server instance and implements suture.Service.
type Monitor struct {
	cfg      Config
	probe    Probe
	starter  Starter
	history  HistoryRecorder
	metrics  *metrics.Metrics
	onSample func(count int)
	now      func() time.Time

	tracker *Tracker
}

// Option customises a Monitor
type Option func(*Monitor)

// WithHistory records idle restarts in the history log
func WithHistory(h HistoryRecorder) Option {
	return func(m *Monitor) { m.history = h }
}

// WithMetrics instruments probe failures and idle restarts
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithSampleHook is called with every successful player count
func WithSampleHook(fn func(count int)) Option {
	return func(m *Monitor) { m.onSample = fn }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates an idle monitor
func NewMonitor(cfg Config, probe Probe, starter Starter, opts ...Option) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	m := &Monitor{
		cfg:     cfg,
		probe:   probe,
		starter: starter,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tracker = NewTracker(cfg.Threshold, m.now())
	return m
}

// Serve polls the player count until ctx is done
func (m *Monitor) Serve(ctx context.Context) error {
	log.Printf("[Idle] Monitoring player activity every %s (threshold %s)", m.cfg.PollInterval, m.cfg.Threshold)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) String() string {
	return "idle-monitor"
}

// Check runs one monitoring iteration. Failures are logged and leave the
// tracker unchanged.
func (m *Monitor) Check(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Idle] Idle monitor failed: %v", p)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	count, err := m.probe.PlayerCount(probeCtx)
	cancel()
	if err != nil {
		// Shutting down, not a server fault
		if ctx.Err() != nil {
			return
		}
		log.Printf("[Idle] Player count query failed: %v", err)
		m.metrics.ProbeFailed()
		return
	}

	if m.onSample != nil {
		m.onSample(count)
	}

	now := m.now()
	switch m.tracker.Observe(now, count) {
	case TimerStarted:
		log.Printf("[Idle] No players online. Idle timer started.")
	case TimerReset:
		log.Printf("[Idle] Player joined. Idle timer reset.")
	case ThresholdReached:
		m.trigger(m.tracker.IdleFor(now))
	}
}

// Threshold returns the current idle threshold
func (m *Monitor) Threshold() time.Duration {
	return m.tracker.Threshold()
}

func (m *Monitor) trigger(idleFor time.Duration) {
	log.Printf("[Idle] Server is idle. Restarting... (next threshold %s)", m.tracker.Threshold())
	m.metrics.IdleRestartTriggered()

	if err := m.starter.Start(countdown.Restart, Initiator); err != nil {
		log.Printf("[Idle] Idle restart not started: %v", err)
		return
	}

	if m.history == nil {
		return
	}
	message := fmt.Sprintf("[Idle] Server idle for %s, restart triggered", idleFor.Round(time.Second))
	if err := m.history.Record(logging.HistoryIdleRestart, Initiator, message); err != nil {
		log.Printf("[Idle] Failed to record history: %v", err)
	}
}
