package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite"
)

// Every connection gets these. WAL lets the API read while a backup or
// countdown writes.
var connectionPragmas = []string{
	"foreign_keys(ON)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// DB holds backup records, upload results, countdown runs and the lifecycle
// history
type DB struct {
	*sql.DB
	path string
}

// NewDB opens the SQLite database at path, creating its directory
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: conn, path: path}, nil
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

func sqliteDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}

	params := make([]string, 0, len(connectionPragmas))
	for _, p := range connectionPragmas {
		params = append(params, "_pragma="+p)
	}
	return "file:" + strings.ReplaceAll(abs, "\\", "/") + "?" + strings.Join(params, "&"), nil
}

// Migrate applies pending migrations in version order, one transaction each
func (db *DB) Migrate() error {
	applied, err := db.Applied()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if slices.Contains(applied, m.Version) {
			continue
		}
		err := db.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.Up); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Printf("[Database] Applied migration: %s", m.Version)
	}
	return nil
}

// Rollback reverts the newest applied migration and returns its version, or
// "" when nothing is applied
func (db *DB) Rollback() (string, error) {
	applied, err := db.Applied()
	if err != nil || len(applied) == 0 {
		return "", err
	}

	version := applied[len(applied)-1]
	idx := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == version })
	if idx < 0 {
		return "", fmt.Errorf("applied migration %s is unknown to this build", version)
	}

	err = db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(migrations[idx].Down); err != nil {
			return fmt.Errorf("failed to revert migration %s: %w", version, err)
		}
		if _, err := tx.Exec("DELETE FROM migrations WHERE version = ?", version); err != nil {
			return fmt.Errorf("failed to unrecord migration %s: %w", version, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("[Database] Rolled back migration: %s", version)
	return version, nil
}

// Applied returns the applied migration versions, oldest first
func (db *DB) Applied() ([]string, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// SchemaVersion returns the newest applied migration, or "" for a fresh
// database
func (db *DB) SchemaVersion() (string, error) {
	applied, err := db.Applied()
	if err != nil || len(applied) == 0 {
		return "", err
	}
	return applied[len(applied)-1], nil
}

func (db *DB) inTx(fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
