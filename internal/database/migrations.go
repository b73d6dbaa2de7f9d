package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- World backup archives
CREATE TABLE backups (
    id TEXT PRIMARY KEY,
    world TEXT NOT NULL,
    filename TEXT NOT NULL,
    path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    initiator TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE INDEX idx_backups_created_at ON backups(created_at);

-- Server-initiated lifecycle events (mirrors server_history.log)
CREATE TABLE history_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at DATETIME NOT NULL,
    kind TEXT NOT NULL,
    initiator TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL
);

CREATE INDEX idx_history_events_created_at ON history_events(created_at);
`,
		Down: `
DROP TABLE IF EXISTS history_events;
DROP TABLE IF EXISTS backups;
`,
	},
	{
		Version: "002_countdown_runs",
		Up: `
CREATE TABLE countdown_runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    initiator TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL
);

CREATE INDEX idx_countdown_runs_started_at ON countdown_runs(started_at);
`,
		Down: `
DROP TABLE IF EXISTS countdown_runs;
`,
	},
	{
		Version: "003_backup_uploads",
		Up: `
CREATE TABLE backup_uploads (
    backup_id TEXT NOT NULL,
    destination TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    uploaded_at DATETIME NOT NULL,
    PRIMARY KEY (backup_id, destination),
    FOREIGN KEY (backup_id) REFERENCES backups(id) ON DELETE CASCADE
);
`,
		Down: `
DROP TABLE IF EXISTS backup_uploads;
`,
	},
}
