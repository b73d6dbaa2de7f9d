package countdown

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/database"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
)

var (
	// ErrCountdownActive is returned when a workflow is already running
	ErrCountdownActive = errors.New("a restart or shutdown countdown is already in progress")
	// ErrNoCountdown is returned by Cancel when nothing can be cancelled
	ErrNoCountdown = errors.New("no countdown in progress")
	// ErrAlreadyExecuting is returned by Cancel once the stop command is committed
	ErrAlreadyExecuting = errors.New("countdown already executing")
)

// Kind selects the action taken when the countdown completes
type Kind int

const (
	Restart Kind = iota
	Shutdown
)

func (k Kind) String() string {
	if k == Shutdown {
		return "shutdown"
	}
	return "restart"
}

// Title returns the capitalised kind name
func (k Kind) Title() string {
	if k == Shutdown {
		return "Shutdown"
	}
	return "Restart"
}

func (k Kind) gerund() string {
	if k == Shutdown {
		return "shutting down"
	}
	return "restarting"
}

func (k Kind) progressive() string {
	if k == Shutdown {
		return "Shutting down"
	}
	return "Restarting"
}

// ParseKind parses "restart" or "shutdown"
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "restart":
		return Restart, nil
	case "shutdown":
		return Shutdown, nil
	default:
		return Restart, fmt.Errorf("unknown countdown kind: %q", value)
	}
}

// State is the workflow position
type State int32

const (
	Idle State = iota
	AwaitingBackupHold
	RunningBackup
	Counting
	Cancelled
	Executing
	Completed
	Failed
)

var stateNames = [...]string{
	Idle:               "idle",
	AwaitingBackupHold: "awaiting_backup_hold",
	RunningBackup:      "running_backup",
	Counting:           "counting",
	Cancelled:          "cancelled",
	Executing:          "executing",
	Completed:          "completed",
	Failed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", s)
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow
func (s State) Terminal() bool {
	return s == Cancelled || s == Completed || s == Failed
}

// Sink relays console commands to the game server
type Sink interface {
	Send(command string) error
}

// Backupper archives the world
type Backupper interface {
	BackupWorld(ctx context.Context, initiator string) error
}

// Controller is the supervisor side of the stop step
type Controller interface {
	PrepareExit(relaunch bool)
	ClearExit()
	AwaitExit(ctx context.Context, timeout time.Duration) error
}

// Recorder persists finished runs
type Recorder interface {
	RecordCountdownRun(run database.CountdownRun) error
}

// HistoryRecorder persists server-initiated lifecycle events
type HistoryRecorder interface {
	Record(kind, initiator, message string) error
}

// Config holds workflow timings
type Config struct {
	RestartSeconds  int
	ShutdownSeconds int
	Milestones      []int
	CueSeconds      []int
	HoldDelay       time.Duration
	QueryDelay      time.Duration
	LeadIn          time.Duration
	Tick            time.Duration
	SettleDelay     time.Duration
	StopTimeout     time.Duration
}

// NewConfig maps application settings to workflow timings
func NewConfig(cfg config.CountdownConfig, stopTimeout time.Duration) Config {
	return Config{
		RestartSeconds:  cfg.RestartSeconds,
		ShutdownSeconds: cfg.ShutdownSeconds,
		Milestones:      slices.Clone(cfg.Milestones),
		CueSeconds:      slices.Clone(cfg.CueSeconds),
		HoldDelay:       cfg.HoldDelay,
		QueryDelay:      cfg.QueryDelay,
		LeadIn:          cfg.LeadIn,
		Tick:            cfg.Tick,
		SettleDelay:     cfg.SettleDelay,
		StopTimeout:     stopTimeout,
	}
}

func (c Config) seconds(kind Kind) int {
	if kind == Shutdown {
		return c.ShutdownSeconds
	}
	return c.RestartSeconds
}

// Event describes a workflow transition or tick
type Event struct {
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Remaining int       `json:"remaining,omitempty"`
	Initiator string    `json:"initiator"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// Options wires the runner's collaborators. Sink, Backup and Controller are
// required; the rest may be nil.
type Options struct {
	Context    context.Context
	Sink       Sink
	Backup     Backupper
	Controller Controller
	Recorder   Recorder
	History    HistoryRecorder
	Metrics    *metrics.Metrics
	Observer   func(Event)
}

// Snapshot is a point-in-time view of the runner
type Snapshot struct {
	Active         bool       `json:"active"`
	RunID          string     `json:"run_id,omitempty"`
	Kind           string     `json:"kind,omitempty"`
	State          string     `json:"state"`
	Remaining      int        `json:"remaining,omitempty"`
	Initiator      string     `json:"initiator,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastOutcome    string     `json:"last_outcome,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`
}

const (
	tokenArmed int32 = iota
	tokenCancelled
	tokenCommitted
)

// token is the per-run cancellation flag
type token struct {
	v atomic.Int32
}

func (t *token) cancel() int32 {
	if t.v.CompareAndSwap(tokenArmed, tokenCancelled) {
		return tokenCancelled
	}
	return t.v.Load()
}

func (t *token) cancelled() bool {
	return t.v.Load() == tokenCancelled
}

func (t *token) commit() bool {
	return t.v.CompareAndSwap(tokenArmed, tokenCommitted)
}

type run struct {
	id        string
	kind      Kind
	initiator string
	startedAt time.Time
	token     token
	state     atomic.Int32
	remaining atomic.Int32
}

// Runner executes restart and shutdown workflows. At most one workflow runs
// at a time; each run owns a fresh cancellation token.
type Runner struct {
	cfg  Config
	opts Options

	guard  *semaphore.Weighted
	active atomic.Pointer[run]

	mu           sync.Mutex
	lastOutcome  State
	lastFinished time.Time
}

// NewRunner creates a workflow runner
func NewRunner(cfg Config, opts Options) *Runner {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &Runner{
		cfg:   cfg,
		opts:  opts,
		guard: semaphore.NewWeighted(1),
	}
}

// Start runs a workflow in the background. It returns ErrCountdownActive
// without side effects when another workflow holds the guard.
func (r *Runner) Start(kind Kind, initiator string) error {
	if !r.guard.TryAcquire(1) {
		log.Printf("[Countdown] %s requested by %s rejected: countdown already in progress", kind.Title(), initiator)
		return ErrCountdownActive
	}

	cur := r.begin(kind, initiator)
	go func() {
		defer r.guard.Release(1)
		_, _ = r.execute(r.opts.Context, cur)
	}()
	return nil
}

// Run executes a workflow synchronously and returns its terminal state.
func (r *Runner) Run(ctx context.Context, kind Kind, initiator string) (State, error) {
	if !r.guard.TryAcquire(1) {
		log.Printf("[Countdown] %s requested by %s rejected: countdown already in progress", kind.Title(), initiator)
		return Idle, ErrCountdownActive
	}
	defer r.guard.Release(1)

	return r.execute(ctx, r.begin(kind, initiator))
}

// Cancel requests cancellation of the active countdown. It takes effect at
// the next tick and has no effect once the stop command is committed.
func (r *Runner) Cancel() error {
	active := r.active.Load()
	if active == nil {
		log.Printf("[Countdown] Cancel requested but no countdown is in progress")
		return ErrNoCountdown
	}

	switch active.token.cancel() {
	case tokenCommitted:
		log.Printf("[Countdown] Cancel requested too late: %s already executing", active.kind)
		return ErrAlreadyExecuting
	default:
		log.Printf("[Countdown] Cancel requested for %s", active.kind)
		return nil
	}
}

// Active reports whether a workflow is running
func (r *Runner) Active() bool {
	return r.active.Load() != nil
}

// State returns the active run's state, or the last terminal state
func (r *Runner) State() State {
	if active := r.active.Load(); active != nil {
		return State(active.state.Load())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOutcome
}

// Snapshot reports the runner state for status endpoints
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	snap := Snapshot{State: r.lastOutcome.String()}
	if r.lastOutcome != Idle {
		snap.LastOutcome = r.lastOutcome.String()
		finished := r.lastFinished
		snap.LastFinishedAt = &finished
	}
	r.mu.Unlock()

	if active := r.active.Load(); active != nil {
		started := active.startedAt
		snap.Active = true
		snap.RunID = active.id
		snap.Kind = active.kind.String()
		snap.State = State(active.state.Load()).String()
		snap.Remaining = int(active.remaining.Load())
		snap.Initiator = active.initiator
		snap.StartedAt = &started
	}
	return snap
}

// begin publishes a fresh run while the guard is held
func (r *Runner) begin(kind Kind, initiator string) *run {
	cur := &run{
		id:        uuid.New().String(),
		kind:      kind,
		initiator: initiator,
		startedAt: time.Now(),
	}
	r.active.Store(cur)
	return cur
}

func (r *Runner) execute(ctx context.Context, current *run) (State, error) {
	kind := current.kind
	r.opts.Metrics.CountdownStarted()

	log.Printf("[Countdown] %s command issued by %s", kind.Title(), current.initiator)

	final, err := r.steps(ctx, current)

	r.active.Store(nil)
	finished := time.Now()

	r.mu.Lock()
	r.lastOutcome = final
	r.lastFinished = finished
	r.mu.Unlock()

	r.opts.Metrics.CountdownFinished(kind.String(), final.String())
	r.record(current, final, err, finished)

	return final, err
}

func (r *Runner) steps(ctx context.Context, cur *run) (final State, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow panic: %v", p)
			final = r.fail(cur, err)
		}
	}()

	kind := cur.kind

	// Hold the world, let it settle, then release it before archiving.
	r.transition(cur, AwaitingBackupHold, "")
	if err := r.announce(cur, colorNotice, pendingMessage(kind)); err != nil {
		return r.fail(cur, err), err
	}
	if err := r.send(cmdSaveHold); err != nil {
		return r.fail(cur, err), err
	}
	if err := sleep(ctx, r.cfg.HoldDelay); err != nil {
		return r.fail(cur, err), err
	}
	if err := r.send(cmdSaveQuery); err != nil {
		return r.fail(cur, err), err
	}
	if err := sleep(ctx, r.cfg.QueryDelay); err != nil {
		return r.fail(cur, err), err
	}
	if err := r.send(cmdSaveResume); err != nil {
		return r.fail(cur, err), err
	}

	r.transition(cur, RunningBackup, "")
	if err := r.opts.Backup.BackupWorld(ctx, cur.initiator); err != nil {
		log.Printf("[Countdown] Backup failed, %s aborted: %v", kind, err)
		if sendErr := r.announce(cur, colorFailure, backupFailedMessage(kind)); sendErr != nil {
			log.Printf("[Countdown] Failed to announce backup failure: %v", sendErr)
		}
		r.transition(cur, Failed, err.Error())
		return Failed, err
	}

	r.transition(cur, Counting, "")
	if err := r.announce(cur, colorSuccess, backupDoneMessage(kind, wholeSeconds(r.cfg.LeadIn))); err != nil {
		return r.fail(cur, err), err
	}
	if err := r.send(soundBackupDone); err != nil {
		return r.fail(cur, err), err
	}
	if err := sleep(ctx, r.cfg.LeadIn); err != nil {
		return r.fail(cur, err), err
	}

	for remaining := r.cfg.seconds(kind); remaining > 0; remaining-- {
		if cur.token.cancelled() {
			return r.cancelled(cur), nil
		}

		cur.remaining.Store(int32(remaining))
		r.opts.Metrics.CountdownTick(remaining)
		r.notify(cur, Counting, "")

		if slices.Contains(r.cfg.Milestones, remaining) {
			if err := r.announce(cur, colorNotice, tickMessage(kind, remaining)); err != nil {
				return r.fail(cur, err), err
			}
		}
		if slices.Contains(r.cfg.CueSeconds, remaining) {
			if err := r.send(soundTick); err != nil {
				return r.fail(cur, err), err
			}
		}

		if err := sleep(ctx, r.cfg.Tick); err != nil {
			return r.fail(cur, err), err
		}
	}

	if !cur.token.commit() {
		return r.cancelled(cur), nil
	}
	cur.remaining.Store(0)

	r.transition(cur, Executing, "")
	message := executingMessage(kind)
	log.Printf("[Countdown] %s", message)
	r.recordHistory(cur, message)

	r.opts.Controller.PrepareExit(kind == Restart)
	if err := r.send(cmdStop); err != nil {
		r.opts.Controller.ClearExit()
		r.transition(cur, Failed, err.Error())
		return Failed, err
	}

	if err := sleep(ctx, r.cfg.SettleDelay); err != nil {
		r.transition(cur, Completed, "")
		return Completed, nil
	}
	if err := r.opts.Controller.AwaitExit(ctx, r.cfg.StopTimeout); err != nil {
		log.Printf("[Countdown] Waiting for server exit: %v", err)
	}

	r.transition(cur, Completed, "")
	return Completed, nil
}

func (r *Runner) cancelled(cur *run) State {
	message := cancelledMessage(cur.kind)
	if err := r.announce(cur, colorSuccess, message); err != nil {
		log.Printf("[Countdown] Failed to announce cancellation: %v", err)
	}
	r.transition(cur, Cancelled, message)
	return Cancelled
}

func (r *Runner) fail(cur *run, cause error) State {
	log.Printf("[Countdown] %s failed: %v", cur.kind.Title(), cause)
	if err := r.announce(cur, colorFailure, failedMessage(cur.kind)); err != nil {
		log.Printf("[Countdown] Failed to announce failure: %v", err)
	}
	r.transition(cur, Failed, cause.Error())
	return Failed
}

func (r *Runner) announce(cur *run, color, message string) error {
	log.Printf("[Countdown] %s", message)
	r.notify(cur, State(cur.state.Load()), message)
	return r.send(Tellraw(color + message))
}

func (r *Runner) send(command string) error {
	return r.opts.Sink.Send(command)
}

func (r *Runner) transition(cur *run, state State, message string) {
	cur.state.Store(int32(state))
	r.notify(cur, state, message)
}

func (r *Runner) notify(cur *run, state State, message string) {
	if r.opts.Observer == nil {
		return
	}
	r.opts.Observer(Event{
		RunID:     cur.id,
		Kind:      cur.kind.String(),
		State:     state.String(),
		Remaining: int(cur.remaining.Load()),
		Initiator: cur.initiator,
		Message:   message,
		Time:      time.Now(),
	})
}

func (r *Runner) recordHistory(cur *run, message string) {
	if r.opts.History == nil {
		return
	}
	kind := logging.HistoryRestart
	if cur.kind == Shutdown {
		kind = logging.HistoryShutdown
	}
	if err := r.opts.History.Record(kind, cur.initiator, message); err != nil {
		log.Printf("[Countdown] Failed to record history: %v", err)
	}
}

func (r *Runner) record(cur *run, final State, cause error, finished time.Time) {
	if r.opts.Recorder == nil {
		return
	}
	entry := database.CountdownRun{
		ID:         cur.id,
		Kind:       cur.kind.String(),
		Initiator:  cur.initiator,
		Outcome:    final.String(),
		StartedAt:  cur.startedAt,
		FinishedAt: finished,
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	if err := r.opts.Recorder.RecordCountdownRun(entry); err != nil {
		log.Printf("[Countdown] Failed to record run: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func wholeSeconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}
