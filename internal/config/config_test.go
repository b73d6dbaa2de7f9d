package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveConfigPathPrefersRootConfig(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte("world:\n  name: Test\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "configs"), 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "configs", "config.yaml"), []byte("world:\n  name: Other\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	defer func() {
		_ = os.Chdir(cwd)
	}()

	if err := os.Chdir(root); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}

	resolved := resolveConfigPath()
	if resolved != "./config.yaml" {
		t.Fatalf("expected ./config.yaml, got %s", resolved)
	}
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.yaml")
	content := `
server:
  executable: ./bedrock_server
  working_directory: server
world:
  name: Umbrachain
countdown:
  restart_seconds: 30
  tick: 500ms
idle:
  threshold: 2h
  poll_interval: 1m
backup:
  directory: archives
  retention:
    count: 3
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("CONFIG_PATH", configPath)
	t.Setenv("WORLD_NAME", "Bedrock level")
	t.Setenv("API_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.World.Name != "Bedrock level" {
		t.Fatalf("expected env world name, got %q", cfg.World.Name)
	}
	if cfg.Countdown.RestartSeconds != 30 {
		t.Fatalf("expected restart seconds 30, got %d", cfg.Countdown.RestartSeconds)
	}
	if cfg.Countdown.ShutdownSeconds != 120 {
		t.Fatalf("expected default shutdown seconds, got %d", cfg.Countdown.ShutdownSeconds)
	}
	if cfg.Countdown.Tick != 500*time.Millisecond {
		t.Fatalf("expected tick 500ms, got %s", cfg.Countdown.Tick)
	}
	if cfg.Idle.Threshold != 2*time.Hour {
		t.Fatalf("expected idle threshold 2h, got %s", cfg.Idle.Threshold)
	}
	if cfg.API.Port != 9090 {
		t.Fatalf("expected API port 9090, got %d", cfg.API.Port)
	}

	wantWorld := filepath.Join(root, "server", "worlds", "Bedrock level")
	if cfg.World.Path != wantWorld {
		t.Fatalf("expected world path %s, got %s", wantWorld, cfg.World.Path)
	}
	wantLog := filepath.Join(root, "server", "logs", "latest.log")
	if cfg.Server.LogFile != wantLog {
		t.Fatalf("expected log file %s, got %s", wantLog, cfg.Server.LogFile)
	}
	if cfg.Backup.Directory != filepath.Join(root, "archives") {
		t.Fatalf("unexpected backup directory %s", cfg.Backup.Directory)
	}
	if cfg.Backup.Retention.Count != 3 {
		t.Fatalf("expected retention 3, got %d", cfg.Backup.Retention.Count)
	}
}

func TestLoadRejectsBadIdleThreshold(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("IDLE_THRESHOLD", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid IDLE_THRESHOLD")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero countdown", mutate: func(c *Config) { c.Countdown.RestartSeconds = 0 }, wantErr: true},
		{name: "zero retention", mutate: func(c *Config) { c.Backup.Retention.Count = 0 }, wantErr: true},
		{name: "zero upload timeout", mutate: func(c *Config) { c.Backup.UploadTimeout = 0 }, wantErr: true},
		{name: "idle disabled ignores threshold", mutate: func(c *Config) {
			c.Idle.Enabled = false
			c.Idle.Threshold = 0
		}},
		{name: "bad compression", mutate: func(c *Config) { c.Backup.Compression.Type = "xz" }, wantErr: true},
		{name: "sftp without host", mutate: func(c *Config) {
			c.Backup.Destinations = []BackupDestination{{Type: "sftp", Username: "backup"}}
		}, wantErr: true},
		{name: "s3 with bucket", mutate: func(c *Config) {
			c.Backup.Destinations = []BackupDestination{{Type: "s3", Bucket: "worlds"}}
		}},
		{name: "bad port", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "bad color", mutate: func(c *Config) { c.Tail.Color = "rainbow" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeStoragePathsDefaults(t *testing.T) {
	cfg := Default()
	cfg.normalizeStoragePaths("configs/config.yaml")

	if !filepath.IsAbs(cfg.Server.WorkingDirectory) {
		t.Fatalf("expected absolute working directory, got %s", cfg.Server.WorkingDirectory)
	}
	if filepath.Base(cfg.World.Path) != "Umbrachain" {
		t.Fatalf("expected world path to end with world name, got %s", cfg.World.Path)
	}
	if !filepath.IsAbs(cfg.Backup.Directory) {
		t.Fatalf("expected absolute backup directory, got %s", cfg.Backup.Directory)
	}
	if !filepath.IsAbs(cfg.Logging.HistoryFile) {
		t.Fatalf("expected absolute history file, got %s", cfg.Logging.HistoryFile)
	}
}
