package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	World     WorldConfig     `yaml:"world" json:"world"`
	Countdown CountdownConfig `yaml:"countdown" json:"countdown"`
	Idle      IdleConfig      `yaml:"idle" json:"idle"`
	Tail      TailConfig      `yaml:"tail" json:"tail"`
	Backup    BackupConfig    `yaml:"backup" json:"backup"`
	API       APIConfig       `yaml:"api" json:"api"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// ServerConfig describes the supervised game server process
type ServerConfig struct {
	Executable       string        `yaml:"executable" json:"executable"`
	Args             []string      `yaml:"args" json:"args"`
	WorkingDirectory string        `yaml:"working_directory" json:"working_directory"`
	LogFile          string        `yaml:"log_file" json:"log_file"`
	StatusHost       string        `yaml:"status_host" json:"status_host"`
	StatusPort       int           `yaml:"status_port" json:"status_port"`
	StatusTimeout    time.Duration `yaml:"status_timeout" json:"status_timeout"`
	StopTimeout      time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
	RelaunchOnCrash  bool          `yaml:"relaunch_on_crash" json:"relaunch_on_crash"`
}

// WorldConfig names the world directory that backups archive
type WorldConfig struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// CountdownConfig contains restart/shutdown workflow timings
type CountdownConfig struct {
	RestartSeconds  int           `yaml:"restart_seconds" json:"restart_seconds"`
	ShutdownSeconds int           `yaml:"shutdown_seconds" json:"shutdown_seconds"`
	Milestones      []int         `yaml:"milestones" json:"milestones"`
	CueSeconds      []int         `yaml:"cue_seconds" json:"cue_seconds"`
	HoldDelay       time.Duration `yaml:"hold_delay" json:"hold_delay"`
	QueryDelay      time.Duration `yaml:"query_delay" json:"query_delay"`
	LeadIn          time.Duration `yaml:"lead_in" json:"lead_in"`
	Tick            time.Duration `yaml:"tick" json:"tick"`
	SettleDelay     time.Duration `yaml:"settle_delay" json:"settle_delay"`
}

// IdleConfig controls the automatic idle restart
type IdleConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Threshold    time.Duration `yaml:"threshold" json:"threshold"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// TailConfig controls how the server log file is followed
type TailConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	WaitInterval time.Duration `yaml:"wait_interval" json:"wait_interval"`
	BufferLines  int           `yaml:"buffer_lines" json:"buffer_lines"`
	Color        string        `yaml:"color" json:"color"` // "auto", "always", "never"
}

// BackupConfig contains world backup settings
type BackupConfig struct {
	Directory     string              `yaml:"directory" json:"directory"`
	Retention     RetentionConfig     `yaml:"retention" json:"retention"`
	Compression   CompressionConfig   `yaml:"compression" json:"compression"`
	Schedule      string              `yaml:"schedule" json:"schedule"`
	Destinations  []BackupDestination `yaml:"destinations" json:"destinations"`
	UploadTimeout time.Duration       `yaml:"upload_timeout" json:"upload_timeout"` // per remote copy
}

// RetentionConfig specifies backup retention policy
type RetentionConfig struct {
	Count int `yaml:"count" json:"count"` // Keep last N backups
}

// CompressionConfig selects the archive compression method
type CompressionConfig struct {
	Type  string `yaml:"type" json:"type"` // "deflate" or "store"
	Level int    `yaml:"level" json:"level"`
}

// BackupDestination represents a remote copy target for archives
type BackupDestination struct {
	Type string `yaml:"type" json:"type"` // "local", "sftp", "s3"
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	Host            string `yaml:"host,omitempty" json:"host,omitempty"`
	Port            int    `yaml:"port,omitempty" json:"port,omitempty"`
	Username        string `yaml:"username,omitempty" json:"username,omitempty"`
	Password        string `yaml:"password,omitempty" json:"-"`
	KeyPath         string `yaml:"key_path,omitempty" json:"key_path,omitempty"`
	KnownHostsPath  string `yaml:"known_hosts_path,omitempty" json:"known_hosts_path,omitempty"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use,omitempty" json:"trust_on_first_use,omitempty"`

	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty" json:"-"`
	SecretKey string `yaml:"secret_key,omitempty" json:"-"`
}

// APIConfig contains HTTP control surface settings
type APIConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	// RateLimit caps requests per client IP per minute; 0 disables it
	RateLimit int `yaml:"rate_limit" json:"rate_limit"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Format      string `yaml:"format" json:"format"`
	File        string `yaml:"file" json:"file"`
	HistoryFile string `yaml:"history_file" json:"history_file"`
	MaxSize     int    `yaml:"max_size" json:"max_size"`
	MaxBackups  int    `yaml:"max_backups" json:"max_backups"`
	MaxAge      int    `yaml:"max_age" json:"max_age"`
	Compress    bool   `yaml:"compress" json:"compress"`
}

// MetricsConfig contains Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Executable:       "./bedrock_server",
			WorkingDirectory: ".",
			LogFile:          "logs/latest.log",
			StatusHost:       "localhost",
			StatusPort:       19132,
			StatusTimeout:    5 * time.Second,
			StopTimeout:      60 * time.Second,
		},
		World: WorldConfig{
			Name: "Umbrachain",
		},
		Countdown: CountdownConfig{
			RestartSeconds:  120,
			ShutdownSeconds: 120,
			Milestones:      []int{120, 60, 30, 10, 5, 3, 2, 1},
			CueSeconds:      []int{3, 2, 1},
			HoldDelay:       time.Second,
			QueryDelay:      2 * time.Second,
			LeadIn:          3 * time.Second,
			Tick:            time.Second,
			SettleDelay:     2 * time.Second,
		},
		Idle: IdleConfig{
			Enabled:      true,
			Threshold:    time.Hour,
			PollInterval: 120 * time.Second,
		},
		Tail: TailConfig{
			PollInterval: 100 * time.Millisecond,
			WaitInterval: 500 * time.Millisecond,
			BufferLines:  1000,
			Color:        "auto",
		},
		Backup: BackupConfig{
			Directory: "backups",
			Retention: RetentionConfig{Count: 10},
			Compression: CompressionConfig{
				Type:  "deflate",
				Level: 6,
			},
			UploadTimeout: 10 * time.Minute,
		},
		API: APIConfig{
			Enabled:   true,
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 120,
		},
		Database: DatabaseConfig{
			Path: "./data/manager.db",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			File:        "logs/manager.log",
			HistoryFile: "logs/server_history.log",
			MaxSize:     10,
			MaxBackups:  5,
			MaxAge:      30,
			Compress:    true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := Default()

	configPath := GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}

	if worldName := os.Getenv("WORLD_NAME"); worldName != "" {
		c.World.Name = worldName
	}

	if worldPath := os.Getenv("WORLD_PATH"); worldPath != "" {
		c.World.Path = worldPath
	}

	if backupDir := os.Getenv("BACKUP_DIR"); backupDir != "" {
		c.Backup.Directory = backupDir
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if executable := os.Getenv("SERVER_EXECUTABLE"); executable != "" {
		c.Server.Executable = executable
	}

	if threshold := os.Getenv("IDLE_THRESHOLD"); threshold != "" {
		d, err := time.ParseDuration(threshold)
		if err != nil {
			return fmt.Errorf("invalid IDLE_THRESHOLD %q: %w", threshold, err)
		}
		c.Idle.Threshold = d
	}

	if port := os.Getenv("API_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid API_PORT %q: %w", port, err)
		}
		c.API.Port = p
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Executable) == "" {
		return fmt.Errorf("server.executable is required")
	}

	if strings.TrimSpace(c.World.Name) == "" {
		return fmt.Errorf("world.name is required")
	}

	if c.Countdown.RestartSeconds <= 0 || c.Countdown.ShutdownSeconds <= 0 {
		return fmt.Errorf("countdown lengths must be positive")
	}

	if c.Countdown.Tick <= 0 {
		return fmt.Errorf("countdown.tick must be positive")
	}

	if c.Idle.Enabled && (c.Idle.Threshold <= 0 || c.Idle.PollInterval <= 0) {
		return fmt.Errorf("idle threshold and poll_interval must be positive")
	}

	if c.Tail.PollInterval <= 0 || c.Tail.WaitInterval <= 0 {
		return fmt.Errorf("tail intervals must be positive")
	}

	switch c.Tail.Color {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("tail.color must be auto, always or never")
	}

	if c.Backup.Retention.Count <= 0 {
		return fmt.Errorf("backup.retention.count must be positive")
	}

	if c.Backup.UploadTimeout <= 0 {
		return fmt.Errorf("backup.upload_timeout must be positive")
	}

	switch c.Backup.Compression.Type {
	case "", "deflate", "store":
	default:
		return fmt.Errorf("unsupported compression type: %s", c.Backup.Compression.Type)
	}

	for i, dest := range c.Backup.Destinations {
		switch dest.Type {
		case "local":
			if dest.Path == "" {
				return fmt.Errorf("backup destination %d: path is required", i)
			}
		case "sftp":
			if dest.Host == "" || dest.Username == "" {
				return fmt.Errorf("backup destination %d: host and username are required", i)
			}
		case "s3":
			if dest.Bucket == "" {
				return fmt.Errorf("backup destination %d: bucket is required", i)
			}
		default:
			return fmt.Errorf("backup destination %d: unsupported type %q", i, dest.Type)
		}
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	if c.Server.StatusPort <= 0 || c.Server.StatusPort > 65535 {
		return fmt.Errorf("server.status_port must be between 1 and 65535")
	}

	return nil
}

// CountdownSeconds returns the countdown length for the named kind
func (c CountdownConfig) CountdownSeconds(kind string) int {
	if kind == "shutdown" {
		return c.ShutdownSeconds
	}
	return c.RestartSeconds
}

func resolveConfigPath() string {
	candidates := []string{"./config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	c.Server.WorkingDirectory = resolvePath(c.Server.WorkingDirectory)
	if c.Server.WorkingDirectory == "" {
		c.Server.WorkingDirectory = rootDir
	}

	// Paths the game server owns are relative to its working directory.
	serverPath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" || filepath.IsAbs(trimmed) {
			return trimmed
		}
		return filepath.Clean(filepath.Join(c.Server.WorkingDirectory, trimmed))
	}

	if strings.TrimSpace(c.World.Path) == "" {
		c.World.Path = filepath.Join("worlds", c.World.Name)
	}
	c.World.Path = serverPath(c.World.Path)
	c.Server.LogFile = serverPath(c.Server.LogFile)

	if strings.TrimSpace(c.Backup.Directory) == "" {
		c.Backup.Directory = "backups"
	}
	c.Backup.Directory = resolvePath(c.Backup.Directory)

	c.Database.Path = resolvePath(c.Database.Path)
	c.Logging.File = resolvePath(c.Logging.File)
	c.Logging.HistoryFile = resolvePath(c.Logging.HistoryFile)

	for i := range c.Backup.Destinations {
		dest := &c.Backup.Destinations[i]
		if dest.Type == "local" {
			dest.Path = resolvePath(dest.Path)
		}
		if dest.Type == "sftp" && strings.TrimSpace(dest.KnownHostsPath) == "" {
			dest.KnownHostsPath = filepath.Join(rootDir, "data", "known_hosts")
		}
		dest.KnownHostsPath = resolvePath(dest.KnownHostsPath)
	}
}
