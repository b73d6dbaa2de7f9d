package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/bedrock-server-manager/internal/config"
)

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("invalid JSON record %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestBuildJSONIncludesSource(t *testing.T) {
	var out bytes.Buffer
	l, closer, err := build(config.LoggingConfig{Level: "info"}, &out)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if closer != nil {
		t.Fatalf("expected no closer without a log file")
	}

	l.Debug("hidden")
	l.Info("Server started", "pid", 42)

	records := decodeRecords(t, &out)
	if len(records) != 1 {
		t.Fatalf("expected debug to be filtered, got %d records", len(records))
	}
	if records[0]["msg"] != "Server started" || records[0]["pid"] != float64(42) {
		t.Fatalf("unexpected record: %v", records[0])
	}
	if _, ok := records[0]["source"]; !ok {
		t.Fatalf("expected source location in record: %v", records[0])
	}
}

func TestBuildTextFormat(t *testing.T) {
	var out bytes.Buffer
	l, _, err := build(config.LoggingConfig{Level: "debug", Format: "TEXT"}, &out)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	l.Debug("Idle timer started")

	line := out.String()
	if !strings.Contains(line, "level=DEBUG") || !strings.Contains(line, `msg="Idle timer started"`) {
		t.Fatalf("unexpected text record: %s", line)
	}
	if !strings.Contains(line, "source=") {
		t.Fatalf("expected source location: %s", line)
	}
}

func TestBuildWritesRotatingFile(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "nested", "manager.log")

	l, closer, err := build(config.LoggingConfig{File: path, MaxSize: 1, MaxBackups: 1}, &out)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	l.Info("Backup completed")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file to be created: %v", err)
	}
	if !strings.Contains(string(data), "Backup completed") || !strings.Contains(out.String(), "Backup completed") {
		t.Fatalf("expected record on stdout and in file")
	}
}

func TestBuildRejectsUnusableLogDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := build(config.LoggingConfig{File: filepath.Join(blocker, "manager.log")}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error when the log directory cannot be created")
	}
}

func TestBridgeTagsComponent(t *testing.T) {
	var out bytes.Buffer
	l, _, err := build(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	b := bridge{logger: l}

	for _, line := range []string{
		"[Backup] Backup completed: Umbrachain_backup_2024-06-01_12-00-00.zip\n",
		"Manager exited\n",
		"\n",
		"[not a tag] kept whole\n",
	} {
		if n, err := b.Write([]byte(line)); err != nil || n != len(line) {
			t.Fatalf("write %q returned %d, %v", line, n, err)
		}
	}

	records := decodeRecords(t, &out)
	if len(records) != 3 {
		t.Fatalf("expected blank lines to be dropped, got %d records", len(records))
	}
	if records[0]["component"] != "backup" || records[0]["msg"] != "Backup completed: Umbrachain_backup_2024-06-01_12-00-00.zip" {
		t.Fatalf("unexpected tagged record: %v", records[0])
	}
	if _, ok := records[1]["component"]; ok || records[1]["msg"] != "Manager exited" {
		t.Fatalf("unexpected untagged record: %v", records[1])
	}
	if records[2]["msg"] != "[not a tag] kept whole" {
		t.Fatalf("unexpected record: %v", records[2])
	}
}

func TestWithTagsComponent(t *testing.T) {
	var out bytes.Buffer
	l, _, err := build(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	saved := logger
	logger = l
	t.Cleanup(func() { logger = saved })

	With("supervisor").Info("Starting server")

	records := decodeRecords(t, &out)
	if len(records) != 1 || records[0]["component"] != "supervisor" {
		t.Fatalf("unexpected records: %v", records)
	}
}

func TestLBeforeInitDiscards(t *testing.T) {
	saved := logger
	logger = nil
	t.Cleanup(func() { logger = saved })

	if L() == nil {
		t.Fatalf("expected a usable logger before Init")
	}
	L().Info("dropped")
}
