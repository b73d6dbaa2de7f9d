package console

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/thejerf/suture/v4"

	"github.com/yourusername/bedrock-server-manager/internal/countdown"
)

// Initiator is recorded for actions requested from the operator console
const Initiator = "Console"

// ErrExit is returned by Dispatch for the exit command
var ErrExit = errors.New("operator console exited")

// Command is a recognised operator command
type Command int

const (
	CommandUnknown Command = iota
	CommandRestart
	CommandCancel
	CommandShutdown
	CommandBackup
	CommandPlayers
	CommandExit
)

var commandNames = map[string]Command{
	"restart":  CommandRestart,
	"cancel":   CommandCancel,
	"shutdown": CommandShutdown,
	"backup":   CommandBackup,
	"players":  CommandPlayers,
	"exit":     CommandExit,
}

// ParseCommand matches input case-insensitively after trimming
func ParseCommand(input string) Command {
	return commandNames[strings.ToLower(strings.TrimSpace(input))]
}

func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c {
			return name
		}
	}
	return "unknown"
}

// Countdown starts and cancels restart/shutdown workflows
type Countdown interface {
	Start(kind countdown.Kind, initiator string) error
	Cancel() error
}

// Backupper archives the world
type Backupper interface {
	BackupWorld(ctx context.Context, initiator string) error
}

// Sink relays console commands to the game server
type Sink interface {
	Send(command string) error
}

// Operator executes operator commands
type Operator struct {
	countdown Countdown
	backup    Backupper
	sink      Sink

	wg sync.WaitGroup
}

// NewOperator creates an operator command dispatcher
func NewOperator(cd Countdown, backup Backupper, sink Sink) *Operator {
	return &Operator{countdown: cd, backup: backup, sink: sink}
}

// Dispatch executes one command. Restart, shutdown and backup run in the
// background so the caller can read the next command immediately. Only exit
// returns an error.
func (o *Operator) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd {
	case CommandRestart:
		o.start(countdown.Restart)
	case CommandShutdown:
		o.start(countdown.Shutdown)
	case CommandCancel:
		if err := o.countdown.Cancel(); err != nil {
			log.Printf("[Console] Cancel: %v", err)
		}
	case CommandBackup:
		// Backups outlive the console of the instance that requested them
		bctx := context.WithoutCancel(ctx)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.backup.BackupWorld(bctx, Initiator); err != nil {
				log.Printf("[Console] Backup failed: %v", err)
			}
		}()
	case CommandPlayers:
		if err := o.sink.Send("list"); err != nil {
			log.Printf("[Console] Failed to request player list: %v", err)
		}
	case CommandExit:
		return ErrExit
	}
	return nil
}

func (o *Operator) start(kind countdown.Kind) {
	if err := o.countdown.Start(kind, Initiator); err != nil {
		log.Printf("[Console] %s not started: %v", kind.Title(), err)
	}
}

// Wait blocks until background backups started by Dispatch finish
func (o *Operator) Wait() {
	o.wg.Wait()
}

// Console is the operator read loop for one server instance. It implements
// suture.Service; exit and input failures stop only this service.
type Console struct {
	input    *LineReader
	operator *Operator
}

// NewConsole creates an operator console
func NewConsole(input *LineReader, operator *Operator) *Console {
	return &Console{input: input, operator: operator}
}

func (c *Console) String() string {
	return "operator-console"
}

// Serve reads and dispatches commands until exit, input failure or ctx done
func (c *Console) Serve(ctx context.Context) error {
	log.Printf("[Console] Operator console ready (restart, cancel, shutdown, backup, players, exit)")

	for {
		input, err := c.input.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Console] Input failed: %v", err)
			return suture.ErrDoNotRestart
		}

		cmd := ParseCommand(input)
		if cmd == CommandUnknown {
			continue
		}
		log.Printf("[Console] Got input: %s", cmd)

		if err := c.operator.Dispatch(ctx, cmd); errors.Is(err, ErrExit) {
			log.Printf("[Console] Exiting operator console.")
			return suture.ErrDoNotRestart
		}
	}
}
