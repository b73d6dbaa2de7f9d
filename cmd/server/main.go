package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yourusername/bedrock-server-manager/internal/backup"
	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/database"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/status"
)

// CLIInitiator is recorded for backups requested from the command line
const CLIInitiator = "CLI"

var (
	configPath      string
	migrateRollback bool

	rootCmd = &cobra.Command{
		Use:   "server",
		Short: "Supervise a Bedrock dedicated server",
		Long: `Runs the Bedrock dedicated server as a child process, follows its log,
restarts it after long idle periods and takes world backups before every
restart or shutdown.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				os.Setenv("CONFIG_PATH", configPath)
			}
		},
		RunE: runServer,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the server and supervise it until shutdown",
		RunE:  runServer,
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Take a one-off world backup and exit",
		RunE:  runBackup,
	}

	playersCmd = &cobra.Command{
		Use:   "players",
		Short: "Query the running server for its player count",
		RunE:  runPlayers,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (overrides CONFIG_PATH)")
	migrateCmd.Flags().BoolVar(&migrateRollback, "rollback", false, "revert the newest applied migration instead")
	rootCmd.AddCommand(runCmd, backupCmd, playersCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration and sets up logging
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := setupLogging(cfg); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	_, err := logging.Init(cfg.Logging)
	return err
}

// openDatabase opens the database and applies pending migrations
func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Migrations completed successfully")
	return db, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runBackup(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signalContext()
	defer stop()

	agent := backup.NewAgent(backup.ConfigFromSettings(cfg), backup.WithStore(database.NewStore(db)))
	record, err := agent.Backup(ctx, CLIInitiator)
	if err != nil {
		return err
	}
	agent.WaitUploads()

	fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s (%d bytes)\n",
		filepath.Join(agent.Directory(), record.Filename), record.SizeBytes)
	return nil
}

func runPlayers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()

	ctx, stop := signalContext()
	defer stop()

	probe := status.NewClient(cfg.Server.StatusHost, cfg.Server.StatusPort, cfg.Server.StatusTimeout)
	pong, err := probe.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", probe.Address(), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d/%d players online on %s (%s, %s)\n",
		pong.PlayersOnline, pong.PlayersMax, probe.Address(), pong.MOTD, pong.Version)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if migrateRollback {
		version, err := db.Rollback()
		if err != nil {
			return err
		}
		if version == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s\n", version)
		return nil
	}

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Database %s at schema %s\n", db.Path(), version)
	return nil
}
