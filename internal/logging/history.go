package logging

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HistoryLogger appends server-initiated lifecycle events to the history log
// file and, when a database is attached, to the history_events table.
type HistoryLogger struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// HistoryEvent represents a recorded lifecycle event
type HistoryEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Initiator string    `json:"initiator"`
	Message   string    `json:"message"`
}

// History event kinds
const (
	HistoryRestart      = "server.restart"
	HistoryShutdown     = "server.shutdown"
	HistoryIdleRestart  = "server.idle_restart"
	HistoryRelaunch     = "server.relaunch"
	HistoryCrash        = "server.crash"
	HistoryLaunchFailed = "server.launch_failed"
)

const historyTimeFormat = "2006-01-02 15:04:05"

// NewHistoryLogger creates a history logger writing to path. db may be nil.
func NewHistoryLogger(db *sql.DB, path string) (*HistoryLogger, error) {
	if path == "" {
		return nil, fmt.Errorf("history log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history log directory: %w", err)
	}

	log.Printf("[History] Initialized (file: %s)", path)

	return &HistoryLogger{db: db, path: path, now: time.Now}, nil
}

// Record writes a history event. Database failures are logged and do not
// prevent the file append.
func (h *HistoryLogger) Record(kind, initiator, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	event := HistoryEvent{
		Timestamp: h.now(),
		Kind:      kind,
		Initiator: initiator,
		Message:   message,
	}

	log.Printf("[History] %s", message)

	if err := h.logToDatabase(&event); err != nil {
		log.Printf("[History] Error logging to database: %v", err)
	}

	if err := h.logToFile(&event); err != nil {
		log.Printf("[History] Error logging to file: %v", err)
		return err
	}

	return nil
}

// Recent returns the newest events first. It requires a database.
func (h *HistoryLogger) Recent(limit int) ([]HistoryEvent, error) {
	if h.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT id, created_at, kind, initiator, message
		FROM history_events
		ORDER BY created_at DESC, id DESC
	`
	args := make([]interface{}, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	events := make([]HistoryEvent, 0)
	for rows.Next() {
		var event HistoryEvent
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Kind, &event.Initiator, &event.Message); err != nil {
			log.Printf("[History] Error scanning row: %v", err)
			continue
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// Path returns the history log file path
func (h *HistoryLogger) Path() string {
	return h.path
}

func (h *HistoryLogger) logToDatabase(event *HistoryEvent) error {
	if h.db == nil {
		return nil
	}

	result, err := h.db.Exec(
		`INSERT INTO history_events (created_at, kind, initiator, message) VALUES (?, ?, ?, ?)`,
		event.Timestamp, event.Kind, event.Initiator, event.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func (h *HistoryLogger) logToFile(event *HistoryEvent) error {
	file, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history log: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "[%s] %s\n", event.Timestamp.Format(historyTimeFormat), event.Message); err != nil {
		return fmt.Errorf("failed to write history log: %w", err)
	}
	return nil
}
