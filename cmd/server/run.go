package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/yourusername/bedrock-server-manager/internal/api"
	"github.com/yourusername/bedrock-server-manager/internal/backup"
	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/console"
	"github.com/yourusername/bedrock-server-manager/internal/countdown"
	"github.com/yourusername/bedrock-server-manager/internal/database"
	"github.com/yourusername/bedrock-server-manager/internal/idle"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
	"github.com/yourusername/bedrock-server-manager/internal/server"
	"github.com/yourusername/bedrock-server-manager/internal/status"
	"github.com/yourusername/bedrock-server-manager/internal/websocket"
)

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	store := database.NewStore(db)

	history, err := logging.NewHistoryLogger(db.DB, cfg.Logging.HistoryFile)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	m := metrics.New()

	log.Println("Initializing WebSocket hub...")
	hub := websocket.NewHub()
	events := &eventHistory{history: history, hub: hub}

	agent := backup.NewAgent(backup.ConfigFromSettings(cfg),
		backup.WithStore(store),
		backup.WithMetrics(m),
		backup.WithBroadcaster(hub),
	)

	buffer := console.NewRingBuffer(cfg.Tail.BufferLines)
	feed := console.NewFeed(buffer, console.NewPresenter(os.Stdout, cfg.Tail.Color), hub, m)
	probe := status.NewClient(cfg.Server.StatusHost, cfg.Server.StatusPort, cfg.Server.StatusTimeout)
	input := console.NewLineReader(os.Stdin)

	// Workers are built per launch, after runner and supervisor are assigned
	deps := &instanceDeps{
		agent:   agent,
		feed:    feed,
		probe:   probe,
		input:   input,
		history: events,
		metrics: m,
	}
	supervisor := server.NewSupervisor(server.SupervisorConfig{
		Launcher: &server.ExecLauncher{
			Executable: cfg.Server.Executable,
			Args:       cfg.Server.Args,
			Dir:        cfg.Server.WorkingDirectory,
		},
		StopTimeout:     cfg.Server.StopTimeout,
		RelaunchOnCrash: cfg.Server.RelaunchOnCrash,
		Workers:         instanceWorkers(cfg, deps),
		History:         events,
		Metrics:         m,
		Logger:          logging.With("supervisor"),
	})

	runner := countdown.NewRunner(countdown.NewConfig(cfg.Countdown, cfg.Server.StopTimeout), countdown.Options{
		Context:    ctx,
		Sink:       supervisor,
		Backup:     agent,
		Controller: supervisor,
		Recorder:   store,
		History:    events,
		Metrics:    m,
		Observer: func(ev countdown.Event) {
			hub.BroadcastToRoom(websocket.RoomEvents, &websocket.Message{
				Type:      websocket.TypeCountdownEvent,
				Payload:   ev,
				Timestamp: ev.Time,
			})
		},
	})

	deps.runner = runner
	deps.supervisor = supervisor

	root := suture.New("bedrock-server-manager", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logging.With("root")}).MustHook(),
	})
	root.Add(hub)

	if cfg.Backup.Schedule != "" {
		scheduler, err := backup.NewScheduleRunner(cfg.Backup.Schedule, agent)
		if err != nil {
			return err
		}
		log.Printf("[Backup] Scheduled backups enabled (%s, next at %s)",
			cfg.Backup.Schedule, scheduler.Next(time.Now()).Format(time.RFC3339))
		root.Add(scheduler)
	}

	if cfg.API.Enabled {
		apiDeps := api.Dependencies{
			Supervisor: supervisor,
			Countdown:  runner,
			Backups:    agent,
			Records:    store,
			Pinger:     probe,
			History:    history,
			Lines:      buffer,
			Hub:        hub,
		}
		if cfg.Metrics.Enabled {
			apiDeps.Metrics = m.Handler()
		}
		root.Add(api.NewServer(cfg, api.SetupRouter(cfg, apiDeps)))
	}

	treeDone := root.ServeBackground(ctx)
	log.Println("All manager components initialized successfully")

	runErr := supervisor.Run(ctx)

	// The supervised process is gone; stop the surfaces around it
	stop()
	if err := <-treeDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Component tree stopped: %v", err)
	}

	log.Println("Waiting for backup uploads to finish...")
	agent.WaitUploads()

	log.Println("Manager exited")
	return runErr
}

type instanceDeps struct {
	runner     *countdown.Runner
	agent      *backup.Agent
	supervisor *server.Supervisor
	feed       *console.Feed
	probe      *status.Client
	input      *console.LineReader
	history    idle.HistoryRecorder
	metrics    *metrics.Metrics
}

// instanceWorkers builds the tailer, operator console and idle monitor bound
// to one server instance
func instanceWorkers(cfg *config.Config, deps *instanceDeps) server.WorkerFactory {
	return func(proc *server.Process) []suture.Service {
		services := []suture.Service{
			console.NewTailer(console.TailerConfig{
				Path:         cfg.Server.LogFile,
				PollInterval: cfg.Tail.PollInterval,
				WaitInterval: cfg.Tail.WaitInterval,
			}, deps.feed.Handle),
			console.NewConsole(deps.input, console.NewOperator(deps.runner, deps.agent, deps.supervisor)),
		}

		if cfg.Idle.Enabled {
			services = append(services, idle.NewMonitor(idle.Config{
				Threshold:    cfg.Idle.Threshold,
				PollInterval: cfg.Idle.PollInterval,
				ProbeTimeout: cfg.Server.StatusTimeout,
			}, deps.probe, deps.runner,
				idle.WithHistory(deps.history),
				idle.WithMetrics(deps.metrics),
				idle.WithSampleHook(deps.supervisor.RecordPlayers),
			))
		}

		log.Printf("[Supervisor] Starting %d workers for pid %d", len(services), proc.PID())
		return services
	}
}

// eventHistory records lifecycle events and mirrors them to the events room
type eventHistory struct {
	history *logging.HistoryLogger
	hub     *websocket.Hub
}

func (e *eventHistory) Record(kind, initiator, message string) error {
	err := e.history.Record(kind, initiator, message)

	now := time.Now()
	e.hub.BroadcastToRoom(websocket.RoomEvents, &websocket.Message{
		Type: websocket.TypeServerEvent,
		Payload: logging.HistoryEvent{
			Timestamp: now,
			Kind:      kind,
			Initiator: initiator,
			Message:   message,
		},
		Timestamp: now,
	})
	return err
}
