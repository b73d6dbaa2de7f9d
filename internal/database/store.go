package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Backup statuses
const (
	BackupStatusCreating  = "creating"
	BackupStatusCompleted = "completed"
	BackupStatusFailed    = "failed"
	BackupStatusPruned    = "pruned"
)

// BackupRecord is a persisted world archive
type BackupRecord struct {
	ID           string     `json:"id"`
	World        string     `json:"world"`
	Filename     string     `json:"filename"`
	Path         string     `json:"path"`
	SizeBytes    int64      `json:"size_bytes"`
	Initiator    string     `json:"initiator"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// CountdownRun is a finished restart or shutdown workflow
type CountdownRun struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Initiator    string    `json:"initiator"`
	Outcome      string    `json:"outcome"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Store provides typed access to manager records
type Store struct {
	db *DB
}

// NewStore wraps an open database
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// CreateBackup inserts a new backup record
func (s *Store) CreateBackup(rec *BackupRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO backups (id, world, filename, path, size_bytes, initiator, status, error_message, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.World, rec.Filename, rec.Path, rec.SizeBytes, rec.Initiator, rec.Status, rec.ErrorMessage, rec.CreatedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert backup %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateBackup stores the final state of a backup record
func (s *Store) UpdateBackup(rec *BackupRecord) error {
	_, err := s.db.Exec(`
		UPDATE backups
		SET path = ?, size_bytes = ?, status = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`, rec.Path, rec.SizeBytes, rec.Status, rec.ErrorMessage, rec.CompletedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update backup %s: %w", rec.ID, err)
	}
	return nil
}

// MarkBackupPruned flags records whose archive was removed by retention
func (s *Store) MarkBackupPruned(filename string) error {
	_, err := s.db.Exec(`UPDATE backups SET status = ? WHERE filename = ? AND status = ?`,
		BackupStatusPruned, filename, BackupStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark backup %s pruned: %w", filename, err)
	}
	return nil
}

// ListBackups returns backup records, newest first
func (s *Store) ListBackups(limit int) ([]BackupRecord, error) {
	query := `
		SELECT id, world, filename, path, size_bytes, initiator, status, error_message, created_at, completed_at
		FROM backups
		ORDER BY created_at DESC
	`
	args := make([]interface{}, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	records := make([]BackupRecord, 0)
	for rows.Next() {
		var rec BackupRecord
		var completedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.World, &rec.Filename, &rec.Path, &rec.SizeBytes,
			&rec.Initiator, &rec.Status, &rec.ErrorMessage, &rec.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// RecordUpload stores the result of copying a backup to a destination
func (s *Store) RecordUpload(backupID, destination, status, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO backup_uploads (backup_id, destination, status, error_message, uploaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(backup_id, destination) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			uploaded_at = excluded.uploaded_at
	`, backupID, destination, status, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record upload for %s: %w", backupID, err)
	}
	return nil
}

// RecordCountdownRun stores a finished workflow run
func (s *Store) RecordCountdownRun(run CountdownRun) error {
	_, err := s.db.Exec(`
		INSERT INTO countdown_runs (id, kind, initiator, outcome, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Kind, run.Initiator, run.Outcome, run.ErrorMessage, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert countdown run %s: %w", run.ID, err)
	}
	return nil
}

// ListCountdownRuns returns recorded runs, newest first
func (s *Store) ListCountdownRuns(limit int) ([]CountdownRun, error) {
	query := `
		SELECT id, kind, initiator, outcome, error_message, started_at, finished_at
		FROM countdown_runs
		ORDER BY started_at DESC
	`
	args := make([]interface{}, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query countdown runs: %w", err)
	}
	defer rows.Close()

	runs := make([]CountdownRun, 0)
	for rows.Next() {
		var run CountdownRun
		if err := rows.Scan(&run.ID, &run.Kind, &run.Initiator, &run.Outcome, &run.ErrorMessage,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan countdown run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
