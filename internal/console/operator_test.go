package console

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/yourusername/bedrock-server-manager/internal/countdown"
)

type fakeCountdown struct {
	mu        sync.Mutex
	started   []countdown.Kind
	cancelled int
	startErr  error
}

func (f *fakeCountdown) Start(kind countdown.Kind, initiator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, kind)
	return f.startErr
}

func (f *fakeCountdown) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

type fakeBackup struct {
	mu         sync.Mutex
	initiators []string
	err        error
}

func (f *fakeBackup) BackupWorld(ctx context.Context, initiator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiators = append(f.initiators, initiator)
	return f.err
}

type fakeSink struct {
	mu       sync.Mutex
	commands []string
}

func (f *fakeSink) Send(command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return nil
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"restart", CommandRestart},
		{"  RESTART  ", CommandRestart},
		{"Cancel", CommandCancel},
		{"shutdown", CommandShutdown},
		{"backup", CommandBackup},
		{"players", CommandPlayers},
		{"EXIT", CommandExit},
		{"restart now", CommandUnknown},
		{"list", CommandUnknown},
		{"", CommandUnknown},
	}

	for _, tt := range tests {
		if got := ParseCommand(tt.input); got != tt.want {
			t.Errorf("ParseCommand(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestDispatch(t *testing.T) {
	cd := &fakeCountdown{}
	backup := &fakeBackup{}
	sink := &fakeSink{}
	operator := NewOperator(cd, backup, sink)
	ctx := context.Background()

	for _, cmd := range []Command{CommandRestart, CommandShutdown, CommandCancel, CommandPlayers, CommandBackup, CommandUnknown} {
		if err := operator.Dispatch(ctx, cmd); err != nil {
			t.Fatalf("dispatch %s: %v", cmd, err)
		}
	}
	operator.Wait()

	if len(cd.started) != 2 || cd.started[0] != countdown.Restart || cd.started[1] != countdown.Shutdown {
		t.Fatalf("unexpected countdowns: %v", cd.started)
	}
	if cd.cancelled != 1 {
		t.Fatalf("expected one cancel, got %d", cd.cancelled)
	}
	if len(sink.commands) != 1 || sink.commands[0] != "list" {
		t.Fatalf("expected list command, got %v", sink.commands)
	}
	if len(backup.initiators) != 1 || backup.initiators[0] != Initiator {
		t.Fatalf("expected console backup, got %v", backup.initiators)
	}

	if err := operator.Dispatch(ctx, CommandExit); !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
}

func TestDispatchRejectedCountdownIsNotFatal(t *testing.T) {
	cd := &fakeCountdown{startErr: countdown.ErrCountdownActive}
	operator := NewOperator(cd, &fakeBackup{}, &fakeSink{})

	if err := operator.Dispatch(context.Background(), CommandRestart); err != nil {
		t.Fatalf("expected rejection to be logged only, got %v", err)
	}
}

func TestConsoleExitStopsOnlyTheLoop(t *testing.T) {
	cd := &fakeCountdown{}
	sink := &fakeSink{}
	input := NewLineReader(strings.NewReader("RESTART\n  cancel \nfoo\nplayers\nexit\nshutdown\n"))
	c := NewConsole(input, NewOperator(cd, &fakeBackup{}, sink))

	if err := c.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("expected ErrDoNotRestart, got %v", err)
	}
	if len(cd.started) != 1 || cd.cancelled != 1 || len(sink.commands) != 1 {
		t.Fatalf("unexpected dispatch results: started=%v cancelled=%d commands=%v", cd.started, cd.cancelled, sink.commands)
	}

	// Input after exit remains available to the next console
	line, err := input.Next(context.Background())
	if err != nil || line != "shutdown" {
		t.Fatalf("expected remaining input, got %q (%v)", line, err)
	}
	if _, err := input.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestConsoleInputFailureStopsLoop(t *testing.T) {
	pr, pw := io.Pipe()
	c := NewConsole(NewLineReader(pr), NewOperator(&fakeCountdown{}, &fakeBackup{}, &fakeSink{}))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(context.Background()) }()

	pw.CloseWithError(errors.New("terminal detached"))

	select {
	case err := <-errCh:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Fatalf("expected ErrDoNotRestart, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("console did not stop on input failure")
	}
}

func TestConsoleRespondsAfterBackupFailure(t *testing.T) {
	backup := &fakeBackup{err: errors.New("world folder not found")}
	sink := &fakeSink{}
	operator := NewOperator(&fakeCountdown{}, backup, sink)
	input := NewLineReader(strings.NewReader("backup\nplayers\n"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- NewConsole(input, operator).Serve(ctx) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Fatalf("expected ErrDoNotRestart at EOF, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("console did not finish")
	}
	operator.Wait()

	if len(sink.commands) != 1 || sink.commands[0] != "list" {
		t.Fatalf("expected list after failed backup, got %v", sink.commands)
	}
}

func TestConsoleStopsOnContextCancel(t *testing.T) {
	pr, _ := io.Pipe()
	c := NewConsole(NewLineReader(pr), NewOperator(&fakeCountdown{}, &fakeBackup{}, &fakeSink{}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("console did not stop")
	}
}
