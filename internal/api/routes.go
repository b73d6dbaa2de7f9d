package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/bedrock-server-manager/internal/api/handlers"
	"github.com/yourusername/bedrock-server-manager/internal/api/middleware"
	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/websocket"
)

// Dependencies are the components the HTTP surface drives. History, Backups
// store, Pinger and Metrics may be nil.
type Dependencies struct {
	Supervisor handlers.Supervisor
	Countdown  handlers.Countdown
	Backups    handlers.BackupStarter
	Records    handlers.BackupLister
	Pinger     handlers.Pinger
	History    handlers.HistorySource
	Lines      handlers.LineSource
	Hub        *websocket.Hub
	Metrics    http.Handler
}

// SetupRouter configures and returns the HTTP router
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.API.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	statusHandler := handlers.NewStatusHandler(deps.Supervisor, deps.Countdown)
	serverHandler := handlers.NewServerHandler(deps.Supervisor, deps.Pinger, deps.History, cfg.Server.StatusTimeout)
	countdownHandler := handlers.NewCountdownHandler(deps.Countdown)
	backupHandler := handlers.NewBackupHandler(deps.Backups, deps.Records)
	consoleHandler := handlers.NewConsoleHandler(deps.Lines, deps.Hub, cfg.API.AllowedOrigins)

	limited := middleware.RateLimit(cfg.API.RateLimit)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", statusHandler.GetStatus)
		v1.GET("/players", serverHandler.GetPlayers)
		v1.GET("/history", serverHandler.GetHistory)
		v1.GET("/console", consoleHandler.GetLines)
		v1.POST("/commands", limited, serverHandler.ExecuteCommand)

		countdown := v1.Group("/countdown", limited)
		{
			countdown.POST("/restart", countdownHandler.StartRestart)
			countdown.POST("/shutdown", countdownHandler.StartShutdown)
			countdown.POST("/cancel", countdownHandler.CancelCountdown)
		}

		v1.GET("/backups", backupHandler.ListBackups)
		v1.POST("/backups", limited, backupHandler.CreateBackup)
	}

	router.GET("/ws/console", consoleHandler.HandleWebSocket)

	if deps.Metrics != nil && cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(deps.Metrics))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Server runs the HTTP surface. It implements suture.Service.
type Server struct {
	httpServer *http.Server
}

// NewServer binds the router to the configured address
func NewServer(cfg *config.Config, router http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) String() string {
	return "http-api"
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Serve listens until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	log.Printf("[API] Listening on http://%s", listener.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}
	<-errCh
	return ctx.Err()
}
