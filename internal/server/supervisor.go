package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
)

// HistoryRecorder persists server-initiated lifecycle events
type HistoryRecorder interface {
	Record(kind, initiator, message string) error
}

// WorkerFactory builds the workers bound to one process instance
type WorkerFactory func(proc *Process) []suture.Service

type exitIntent int

const (
	exitUnexpected exitIntent = iota
	exitStop
	exitRelaunch
)

// SupervisorConfig configures a Supervisor
type SupervisorConfig struct {
	Launcher        Launcher
	Sink            *ProcessSink
	Workers         WorkerFactory
	StopTimeout     time.Duration
	RelaunchOnCrash bool
	History         HistoryRecorder
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// Status is a point-in-time view of the supervised process
type Status struct {
	Running          bool       `json:"running"`
	PID              int        `json:"pid,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Uptime           string     `json:"uptime,omitempty"`
	Launches         int        `json:"launches"`
	LastExitCode     *int       `json:"last_exit_code,omitempty"`
	Players          *int       `json:"players,omitempty"`
	PlayersSampledAt *time.Time `json:"players_sampled_at,omitempty"`
}

// Supervisor owns the game server process lifecycle. It launches the
// process, runs the per-instance workers under a suture tree, waits for the
// process to exit and relaunches it when a restart was requested.
type Supervisor struct {
	cfg SupervisorConfig

	mu        sync.RWMutex
	current   *Process
	stopping  *Process
	intent    exitIntent
	launches  int
	lastExit  *int
	players   *int
	sampledAt time.Time
}

// NewSupervisor creates a supervisor
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Sink == nil {
		cfg.Sink = NewProcessSink(cfg.Metrics)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.With("supervisor")
	}
	return &Supervisor{cfg: cfg}
}

// Sink returns the command sink bound to the current process
func (s *Supervisor) Sink() *ProcessSink {
	return s.cfg.Sink
}

// Send relays a command to the current process
func (s *Supervisor) Send(command string) error {
	return s.cfg.Sink.Send(command)
}

// Run launches the process and keeps it running until it exits without a
// relaunch request, launching fails, or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		relaunch, err := s.runOnce(ctx)
		if err != nil {
			return err
		}
		if !relaunch || ctx.Err() != nil {
			return nil
		}
		log.Printf("[Supervisor] Relaunching server...")
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (bool, error) {
	log.Printf("[Supervisor] Starting server...")

	proc, err := s.cfg.Launcher.Launch(ctx)
	if err != nil {
		log.Printf("[Supervisor] Failed to start server: %v", err)
		s.recordHistory(logging.HistoryLaunchFailed, "Supervisor", fmt.Sprintf("[Server] Failed to start server: %v", err))
		return false, fmt.Errorf("failed to start server: %w", err)
	}

	s.attach(proc)
	s.cfg.Metrics.ProcessLaunched()
	log.Printf("[Supervisor] Server started (pid %d)", proc.PID())

	instanceCtx, cancel := context.WithCancel(ctx)
	treeErr := s.startWorkers(instanceCtx, proc)

	select {
	case <-proc.Done():
	case <-ctx.Done():
		s.stopForShutdown(proc)
	}

	cancel()
	if treeErr != nil {
		if err := <-treeErr; err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[Supervisor] Worker tree stopped: %v", err)
		}
	}

	intent := s.detach(proc)
	log.Printf("[Supervisor] Server process has terminated (exit code %d)", proc.ExitCode())

	switch {
	case ctx.Err() != nil:
		s.cfg.Metrics.ProcessExited("shutdown")
		return false, nil
	case intent == exitRelaunch:
		s.cfg.Metrics.ProcessExited("restart")
		s.recordHistory(logging.HistoryRelaunch, "Supervisor", "[Server] Relaunching server after restart")
		return true, nil
	case intent == exitStop:
		s.cfg.Metrics.ProcessExited("stop")
		return false, nil
	default:
		s.cfg.Metrics.ProcessExited("crash")
		msg := fmt.Sprintf("[Server] Server process exited unexpectedly: %v", proc.ExitErr())
		s.recordHistory(logging.HistoryCrash, "Supervisor", msg)
		return s.cfg.RelaunchOnCrash, nil
	}
}

func (s *Supervisor) startWorkers(ctx context.Context, proc *Process) <-chan error {
	if s.cfg.Workers == nil {
		return nil
	}

	services := s.cfg.Workers(proc)
	if len(services) == 0 {
		return nil
	}

	handler := &sutureslog.Handler{Logger: s.cfg.Logger}
	tree := suture.New(fmt.Sprintf("server-%d", proc.PID()), suture.Spec{
		EventHook:      handler.MustHook(),
		FailureBackoff: 5 * time.Second,
		Timeout:        10 * time.Second,
	})
	for _, svc := range services {
		tree.Add(svc)
	}

	return tree.ServeBackground(ctx)
}

func (s *Supervisor) stopForShutdown(proc *Process) {
	log.Printf("[Supervisor] Shutting down, stopping server...")
	if err := s.cfg.Sink.Send("stop"); err != nil {
		log.Printf("[Supervisor] Failed to send stop: %v", err)
	}
	if !proc.WaitExit(context.Background(), s.cfg.StopTimeout) {
		log.Printf("[Supervisor] Server did not stop within %s, killing", s.cfg.StopTimeout)
		if err := proc.Kill(); err != nil {
			log.Printf("[Supervisor] %v", err)
		}
		<-proc.Done()
	}
}

// PrepareExit records how the next process exit is handled: relaunch for a
// restart, stay stopped for a shutdown. It must be called before the stop
// command is sent.
func (s *Supervisor) PrepareExit(relaunch bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if relaunch {
		s.intent = exitRelaunch
	} else {
		s.intent = exitStop
	}
	s.stopping = s.current
}

// ClearExit drops a prepared exit disposition
func (s *Supervisor) ClearExit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intent = exitUnexpected
	s.stopping = nil
}

// AwaitExit waits up to timeout for the process captured by PrepareExit to
// exit and kills it if it is still running afterwards. A relaunched
// successor is never touched.
func (s *Supervisor) AwaitExit(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	proc := s.stopping
	s.stopping = nil
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	if proc.WaitExit(ctx, timeout) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.Printf("[Supervisor] Server did not stop within %s, killing", timeout)
	return proc.Kill()
}

// RecordPlayers stores the latest successful player count sample
func (s *Supervisor) RecordPlayers(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players = &count
	s.sampledAt = time.Now()
	s.cfg.Metrics.PlayersSampled(count)
}

// Status returns the current process state
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Launches:     s.launches,
		LastExitCode: s.lastExit,
	}
	if s.current != nil && s.current.Running() {
		started := s.current.StartedAt()
		status.Running = true
		status.PID = s.current.PID()
		status.StartedAt = &started
		status.Uptime = time.Since(started).Round(time.Second).String()
	}
	if s.players != nil {
		players := *s.players
		sampled := s.sampledAt
		status.Players = &players
		status.PlayersSampledAt = &sampled
	}
	return status
}

func (s *Supervisor) attach(proc *Process) {
	s.mu.Lock()
	s.current = proc
	s.intent = exitUnexpected
	s.launches++
	s.players = nil
	s.mu.Unlock()

	s.cfg.Sink.Attach(proc.Stdin())
}

func (s *Supervisor) detach(proc *Process) exitIntent {
	s.cfg.Sink.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()

	intent := s.intent
	s.intent = exitUnexpected
	if s.current == proc {
		s.current = nil
	}
	code := proc.ExitCode()
	s.lastExit = &code
	return intent
}

func (s *Supervisor) recordHistory(kind, initiator, message string) {
	if s.cfg.History == nil {
		return
	}
	if err := s.cfg.History.Record(kind, initiator, message); err != nil {
		log.Printf("[Supervisor] Failed to record history: %v", err)
	}
}
