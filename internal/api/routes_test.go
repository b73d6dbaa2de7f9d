package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourusername/bedrock-server-manager/internal/backup"
	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/console"
	"github.com/yourusername/bedrock-server-manager/internal/countdown"
	"github.com/yourusername/bedrock-server-manager/internal/database"
	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
	"github.com/yourusername/bedrock-server-manager/internal/server"
	"github.com/yourusername/bedrock-server-manager/internal/status"
	ws "github.com/yourusername/bedrock-server-manager/internal/websocket"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	commands []string
	sendErr  error
}

func (f *fakeSupervisor) Status() server.Status {
	return server.Status{Running: true, PID: 4242, Launches: 1}
}

func (f *fakeSupervisor) Send(command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.commands = append(f.commands, command)
	return nil
}

type fakeCountdown struct {
	startErr  error
	cancelErr error
	started   []countdown.Kind
}

func (f *fakeCountdown) Start(kind countdown.Kind, initiator string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, kind)
	return nil
}

func (f *fakeCountdown) Cancel() error { return f.cancelErr }

func (f *fakeCountdown) Snapshot() countdown.Snapshot {
	return countdown.Snapshot{Active: len(f.started) > 0, State: "idle"}
}

type fakeBackups struct {
	startErr   error
	initiators []string
}

func (f *fakeBackups) Start(ctx context.Context, initiator string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.initiators = append(f.initiators, initiator)
	return nil
}

func (f *fakeBackups) LocalArchives() ([]backup.BackupFile, error) {
	return []backup.BackupFile{{Filename: "Umbrachain_backup_2024-01-01_00-00-00.zip", SizeBytes: 10}}, nil
}

type fakeRecords struct{}

func (fakeRecords) ListBackups(limit int) ([]database.BackupRecord, error) {
	return []database.BackupRecord{{ID: "backup-1", Status: database.BackupStatusCompleted}}, nil
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) (*status.Pong, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &status.Pong{PlayersOnline: 3, PlayersMax: 10, MOTD: "Umbrachain", Version: "1.21.0"}, nil
}

type fakeHistory struct{}

func (fakeHistory) Recent(limit int) ([]logging.HistoryEvent, error) {
	return []logging.HistoryEvent{{Kind: logging.HistoryRestart, Initiator: "Console", Message: "Server restarted"}}, nil
}

type testEnv struct {
	router     http.Handler
	supervisor *fakeSupervisor
	countdown  *fakeCountdown
	backups    *fakeBackups
	buffer     *console.RingBuffer
	hub        *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.API.RateLimit = 0

	env := &testEnv{
		supervisor: &fakeSupervisor{},
		countdown:  &fakeCountdown{},
		backups:    &fakeBackups{},
		buffer:     console.NewRingBuffer(50),
		hub:        ws.NewHub(),
	}

	env.router = SetupRouter(cfg, Dependencies{
		Supervisor: env.supervisor,
		Countdown:  env.countdown,
		Backups:    env.backups,
		Records:    fakeRecords{},
		Pinger:     fakePinger{},
		History:    fakeHistory{},
		Lines:      env.buffer,
		Hub:        env.hub,
		Metrics:    metrics.New().Handler(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	srv, ok := body["server"].(map[string]any)
	if !ok || srv["running"] != true || srv["pid"].(float64) != 4242 {
		t.Fatalf("unexpected status body: %v", body)
	}
	if _, ok := body["countdown"]; !ok {
		t.Fatalf("expected countdown snapshot in status")
	}
}

func TestCountdownRoutes(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/v1/countdown/restart", nil); w.Code != http.StatusAccepted {
		t.Fatalf("restart: expected 202, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/countdown/shutdown", nil); w.Code != http.StatusAccepted {
		t.Fatalf("shutdown: expected 202, got %d", w.Code)
	}
	if len(env.countdown.started) != 2 || env.countdown.started[1] != countdown.Shutdown {
		t.Fatalf("unexpected started workflows: %v", env.countdown.started)
	}

	env.countdown.startErr = countdown.ErrCountdownActive
	if w := env.do(t, http.MethodPost, "/api/v1/countdown/restart", nil); w.Code != http.StatusConflict {
		t.Fatalf("busy restart: expected 409, got %d", w.Code)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/countdown/cancel", nil); w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}
	env.countdown.cancelErr = countdown.ErrNoCountdown
	if w := env.do(t, http.MethodPost, "/api/v1/countdown/cancel", nil); w.Code != http.StatusConflict {
		t.Fatalf("cancel without run: expected 409, got %d", w.Code)
	}
	env.countdown.cancelErr = countdown.ErrAlreadyExecuting
	if w := env.do(t, http.MethodPost, "/api/v1/countdown/cancel", nil); w.Code != http.StatusConflict {
		t.Fatalf("cancel after commit: expected 409, got %d", w.Code)
	}
}

func TestCommandRoute(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/commands", map[string]string{"command": "  say hello  "})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.supervisor.commands) != 1 || env.supervisor.commands[0] != "say hello" {
		t.Fatalf("unexpected relayed commands: %v", env.supervisor.commands)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/commands", map[string]string{"command": "say hi\nstop"}); w.Code != http.StatusBadRequest {
		t.Fatalf("multi-line: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/commands", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing command: expected 400, got %d", w.Code)
	}

	env.supervisor.sendErr = server.ErrProcessUnavailable
	if w := env.do(t, http.MethodPost, "/api/v1/commands", map[string]string{"command": "list"}); w.Code != http.StatusConflict {
		t.Fatalf("no process: expected 409, got %d", w.Code)
	}
}

func TestBackupRoutes(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/v1/backups", nil); w.Code != http.StatusAccepted {
		t.Fatalf("create: expected 202, got %d", w.Code)
	}
	if len(env.backups.initiators) != 1 || env.backups.initiators[0] != "API" {
		t.Fatalf("unexpected initiators: %v", env.backups.initiators)
	}

	env.backups.startErr = backup.ErrBackupInProgress
	if w := env.do(t, http.MethodPost, "/api/v1/backups", nil); w.Code != http.StatusConflict {
		t.Fatalf("busy: expected 409, got %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/backups", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["count"].(float64) != 1 {
		t.Fatalf("unexpected archive count: %v", body)
	}
	if records, ok := body["backups"].([]any); !ok || len(records) != 1 {
		t.Fatalf("unexpected backup records: %v", body["backups"])
	}
}

func TestPlayersAndHistory(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/players", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("players: expected 200, got %d", w.Code)
	}
	if body := decode(t, w); body["online"].(float64) != 3 || body["max"].(float64) != 10 {
		t.Fatalf("unexpected players body: %v", body)
	}

	w = env.do(t, http.MethodGet, "/api/v1/history?limit=5", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Server restarted") {
		t.Fatalf("unexpected history response: %d %s", w.Code, w.Body.String())
	}
}

func TestPlayersProbeFailure(t *testing.T) {
	cfg := config.Default()
	router := SetupRouter(cfg, Dependencies{
		Supervisor: &fakeSupervisor{},
		Countdown:  &fakeCountdown{},
		Backups:    &fakeBackups{},
		Pinger:     fakePinger{err: errors.New("i/o timeout")},
		Lines:      console.NewRingBuffer(10),
		Hub:        ws.NewHub(),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/players", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without history, got %d", w.Code)
	}
}

func TestConsoleLines(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	for _, text := range []string{"[INFO] Server started.", "[ERROR] chunk failed", "Player connected: Alex", "[ERROR] again"} {
		env.buffer.Add(console.NewLine(text, now))
	}

	w := env.do(t, http.MethodGet, "/api/v1/console?lines=2", nil)
	body := decode(t, w)
	if body["count"].(float64) != 2 {
		t.Fatalf("expected 2 lines, got %v", body)
	}

	w = env.do(t, http.MethodGet, "/api/v1/console?filter=errors&lines=1", nil)
	body = decode(t, w)
	lines := body["lines"].([]any)
	if len(lines) != 1 || lines[0].(map[string]any)["text"] != "[ERROR] again" {
		t.Fatalf("unexpected filtered lines: %v", body)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/console?filter=regex&query=(", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad regex: expected 400, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestConsoleWebSocketStreamsLines(t *testing.T) {
	env := newTestEnv(t)
	env.buffer.Add(console.NewLine("earlier line", time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.hub.Serve(ctx)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/console?room=console"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readText := func() string {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg struct {
			Type    string       `json:"type"`
			Payload console.Line `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != ws.TypeConsoleLine {
			t.Fatalf("unexpected message type: %s", msg.Type)
		}
		return msg.Payload.Text
	}

	if got := readText(); got != "earlier line" {
		t.Fatalf("expected replayed line, got %q", got)
	}

	// Wait for registration before broadcasting
	deadline := time.Now().Add(5 * time.Second)
	for env.hub.RoomSize(ws.RoomConsole) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never joined the room")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.hub.BroadcastToRoom(ws.RoomConsole, &ws.Message{Type: ws.TypeConsoleLine, Payload: console.NewLine("live line", time.Now())})
	if got := readText(); got != "live line" {
		t.Fatalf("expected live line, got %q", got)
	}
}

func TestConsoleWebSocketRejectsUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/ws/console?room=admin", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
