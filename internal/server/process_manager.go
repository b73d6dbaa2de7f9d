package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Launcher starts a new game server process
type Launcher interface {
	Launch(ctx context.Context) (*Process, error)
}

// LauncherFunc adapts a function to the Launcher interface
type LauncherFunc func(ctx context.Context) (*Process, error)

// Launch calls f(ctx)
func (f LauncherFunc) Launch(ctx context.Context) (*Process, error) {
	return f(ctx)
}

// ExecLauncher launches the server executable as a direct child process
type ExecLauncher struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string
	Stdout     io.Writer
	Stderr     io.Writer
}

// Launch starts the configured executable with a piped stdin. The child is
// not bound to ctx; shutdown goes through the stop command.
func (l *ExecLauncher) Launch(ctx context.Context) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(l.Executable, l.Args...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = l.Env
	}
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	return StartProcess(cmd)
}

// Process is a running game server child with an open input pipe
type Process struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	startedAt time.Time
	done      chan struct{}

	mu      sync.Mutex
	exitErr error
}

// StartProcess starts cmd with a stdin pipe and begins waiting for it
func StartProcess(cmd *exec.Cmd) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	p := &Process{
		cmd:       cmd,
		stdin:     stdin,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go p.wait()

	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

// Stdin returns the process input stream
func (p *Process) Stdin() io.Writer {
	return p.stdin
}

// PID returns the operating system process ID
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns the launch time
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed once the process has exited
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Running reports whether the process has not yet exited
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the wait error once the process has exited
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// ExitCode returns the exit status, or -1 while running or when killed
func (p *Process) ExitCode() int {
	if p.Running() || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Kill forcefully terminates the process
func (p *Process) Kill() error {
	if !p.Running() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.PID(), err)
	}
	return nil
}

// WaitExit blocks until the process exits or timeout elapses. It reports
// whether the process exited.
func (p *Process) WaitExit(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return !p.Running()
	}
}
