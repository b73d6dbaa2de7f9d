package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/database"
	"github.com/yourusername/bedrock-server-manager/internal/metrics"
	"github.com/yourusername/bedrock-server-manager/internal/websocket"
)

var (
	// ErrWorldNotFound is returned when the world directory does not exist
	ErrWorldNotFound = errors.New("world folder not found")
	// ErrBackupInProgress is returned by Start while another backup runs
	ErrBackupInProgress = errors.New("backup already in progress")
)

// DefaultUploadTimeout bounds a remote copy when none is configured
const DefaultUploadTimeout = 10 * time.Minute

// Upload statuses recorded per destination
const (
	UploadCompleted = "completed"
	UploadFailed    = "failed"
)

// Store persists backup records
type Store interface {
	CreateBackup(rec *database.BackupRecord) error
	UpdateBackup(rec *database.BackupRecord) error
	MarkBackupPruned(filename string) error
	RecordUpload(backupID, destination, status, errMsg string) error
}

// Broadcaster publishes backup events to live clients
type Broadcaster interface {
	BroadcastToRoom(room string, message *websocket.Message)
}

// Event is published on each backup state change
type Event struct {
	ID        string `json:"id"`
	Initiator string `json:"initiator"`
	Status    string `json:"status"`
	Filename  string `json:"filename,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AgentConfig holds the archive inputs and policies
type AgentConfig struct {
	World         string
	WorldPath     string
	Directory     string
	Retention     int
	Compression   CompressionConfig
	Destinations  []config.BackupDestination
	UploadTimeout time.Duration // per destination, covering dial and pruning
}

// ConfigFromSettings maps loaded settings onto an AgentConfig
func ConfigFromSettings(cfg *config.Config) AgentConfig {
	return AgentConfig{
		World:     cfg.World.Name,
		WorldPath: cfg.World.Path,
		Directory: cfg.Backup.Directory,
		Retention: cfg.Backup.Retention.Count,
		Compression: CompressionConfig{
			Type:  cfg.Backup.Compression.Type,
			Level: cfg.Backup.Compression.Level,
		},
		Destinations:  cfg.Backup.Destinations,
		UploadTimeout: cfg.Backup.UploadTimeout,
	}
}

// Agent archives the world folder, prunes old archives and copies new ones to
// remote destinations. Backups are serialised. A backup is done once the
// local archive is written; remote copies continue in the background, one
// backup at a time in creation order.
type Agent struct {
	cfg      AgentConfig
	archiver *Archiver
	local    *LocalDestination
	sem      *semaphore.Weighted

	uploads    sync.WaitGroup
	lastUpload chan struct{} // guarded by sem

	store   Store
	metrics *metrics.Metrics
	hub     Broadcaster
	dial    Dialer
	now     func() time.Time
}

// AgentOption customises an Agent
type AgentOption func(*Agent)

// WithStore records backups in the database
func WithStore(store Store) AgentOption {
	return func(a *Agent) { a.store = store }
}

// WithMetrics reports backup results
func WithMetrics(m *metrics.Metrics) AgentOption {
	return func(a *Agent) { a.metrics = m }
}

// WithBroadcaster publishes backup events
func WithBroadcaster(hub Broadcaster) AgentOption {
	return func(a *Agent) { a.hub = hub }
}

// WithDialer replaces how remote destinations are opened
func WithDialer(dial Dialer) AgentOption {
	return func(a *Agent) { a.dial = dial }
}

// WithClock replaces the clock used for archive names
func WithClock(now func() time.Time) AgentOption {
	return func(a *Agent) { a.now = now }
}

// NewAgent creates a backup agent
func NewAgent(cfg AgentConfig, opts ...AgentOption) *Agent {
	a := &Agent{
		cfg:      cfg,
		archiver: NewArchiver(cfg.Compression),
		local:    NewLocalDestination(cfg.Directory),
		sem:      semaphore.NewWeighted(1),
		dial:     NewDestination,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BackupWorld runs a backup and reports only success or failure
func (a *Agent) BackupWorld(ctx context.Context, initiator string) error {
	_, err := a.Backup(ctx, initiator)
	return err
}

// Start runs a backup in the background, failing fast when one is running.
// The backup outlives ctx's cancellation but keeps its values.
func (a *Agent) Start(ctx context.Context, initiator string) error {
	if !a.sem.TryAcquire(1) {
		return ErrBackupInProgress
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer a.sem.Release(1)
		if _, err := a.run(ctx, initiator); err != nil {
			log.Printf("[Backup] Background backup failed: %v", err)
		}
	}()
	return nil
}

// Backup archives the world, waiting for any running backup to finish first
func (a *Agent) Backup(ctx context.Context, initiator string) (*database.BackupRecord, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	return a.run(ctx, initiator)
}

func (a *Agent) run(ctx context.Context, initiator string) (*database.BackupRecord, error) {
	started := a.now()
	record := &database.BackupRecord{
		ID:        "backup-" + uuid.New().String()[:8],
		World:     a.cfg.World,
		Filename:  UniqueArchiveName(a.cfg.Directory, a.cfg.World, started),
		Initiator: initiator,
		Status:    database.BackupStatusCreating,
		CreatedAt: started,
	}

	log.Printf("[Backup] Backing up world: %s", a.cfg.World)
	a.saveRecord(record, true)
	a.publish(record)

	info, err := a.archiver.CreateArchive(ctx, a.cfg.WorldPath, a.cfg.Directory, record.Filename)
	if err != nil {
		a.finish(record, nil, err, started)
		log.Printf("[Backup] Backup failed: %v", err)
		return record, err
	}

	a.finish(record, info, nil, started)
	log.Printf("[Backup] Backup completed: %s (%d files, %d bytes)", info.Filename, info.FileCount, info.SizeBytes)

	a.pruneLocal(ctx)
	a.queueUploads(ctx, record, info)

	return record, nil
}

// queueUploads copies the archive to the remotes without holding up the
// caller. Callers hold sem, so uploads chain in creation order. The archive
// is opened here so a later backup's local retention cannot pull it away.
func (a *Agent) queueUploads(ctx context.Context, record *database.BackupRecord, info *ArchiveInfo) {
	if len(a.cfg.Destinations) == 0 {
		return
	}

	archive, err := os.Open(info.Path)
	if err != nil {
		err = fmt.Errorf("failed to open archive: %w", err)
		for _, destCfg := range a.cfg.Destinations {
			a.recordUpload(record, destCfg, info, err)
		}
		return
	}

	prev := a.lastUpload
	done := make(chan struct{})
	a.lastUpload = done

	ctx = context.WithoutCancel(ctx)
	a.uploads.Add(1)
	go func() {
		defer a.uploads.Done()
		defer close(done)
		defer archive.Close()
		if prev != nil {
			<-prev
		}
		a.copyToDestinations(ctx, record, info, archive)
	}()
}

// WaitUploads blocks until every queued remote copy has finished
func (a *Agent) WaitUploads() {
	a.uploads.Wait()
}

func (a *Agent) finish(record *database.BackupRecord, info *ArchiveInfo, err error, started time.Time) {
	completed := a.now()
	record.CompletedAt = &completed

	if err != nil {
		record.Status = database.BackupStatusFailed
		record.ErrorMessage = err.Error()
	} else {
		record.Status = database.BackupStatusCompleted
		record.Path = info.Path
		record.SizeBytes = info.SizeBytes
	}

	a.metrics.BackupFinished(err == nil, completed.Sub(started), record.SizeBytes)
	a.saveRecord(record, false)
	a.publish(record)
}

func (a *Agent) pruneLocal(ctx context.Context) {
	deleted, err := EnforceRetention(ctx, a.local, a.policy())
	if err != nil {
		log.Printf("[Retention] Failed to list local backups: %v", err)
		return
	}
	for _, name := range deleted {
		if a.store == nil {
			continue
		}
		if err := a.store.MarkBackupPruned(name); err != nil {
			log.Printf("[Retention] Failed to mark %s pruned: %v", name, err)
		}
	}
}

// copyToDestinations uploads the archive to each remote. Failures are logged
// and recorded; the local archive already stands as the backup.
func (a *Agent) copyToDestinations(ctx context.Context, record *database.BackupRecord, info *ArchiveInfo, archive io.ReaderAt) {
	for _, destCfg := range a.cfg.Destinations {
		uploadCtx, cancel := context.WithTimeout(ctx, a.uploadTimeout())
		err := a.copyTo(uploadCtx, destCfg, info, archive)
		cancel()
		a.recordUpload(record, destCfg, info, err)
	}
}

func (a *Agent) recordUpload(record *database.BackupRecord, destCfg config.BackupDestination, info *ArchiveInfo, err error) {
	name := describe(destCfg)
	status, msg := UploadCompleted, ""
	if err != nil {
		status, msg = UploadFailed, err.Error()
		log.Printf("[Backup] Copy to %s failed: %v", name, err)
	} else {
		log.Printf("[Backup] Copied %s to %s", info.Filename, name)
	}

	if a.store == nil {
		return
	}
	if err := a.store.RecordUpload(record.ID, name, status, msg); err != nil {
		log.Printf("[Backup] Failed to record upload: %v", err)
	}
}

func (a *Agent) copyTo(ctx context.Context, destCfg config.BackupDestination, info *ArchiveInfo, archive io.ReaderAt) error {
	dest, err := a.dial(ctx, destCfg)
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}
	defer dest.Close()

	if err := dest.Upload(ctx, info.Filename, io.NewSectionReader(archive, 0, info.SizeBytes), info.SizeBytes); err != nil {
		return err
	}

	if _, err := EnforceRetention(ctx, dest, a.policy()); err != nil {
		log.Printf("[Retention] Failed to prune %s: %v", describe(destCfg), err)
	}
	return nil
}

func (a *Agent) uploadTimeout() time.Duration {
	if a.cfg.UploadTimeout > 0 {
		return a.cfg.UploadTimeout
	}
	return DefaultUploadTimeout
}

func (a *Agent) policy() RetentionPolicy {
	return RetentionPolicy{World: a.cfg.World, Count: a.cfg.Retention}
}

// LocalArchives lists the archives in the local backup directory, oldest first
func (a *Agent) LocalArchives() ([]BackupFile, error) {
	files, err := listDirectory(a.cfg.Directory)
	if err != nil {
		return nil, err
	}
	var archives []BackupFile
	for _, f := range files {
		if IsArchiveName(a.cfg.World, f.Filename) {
			archives = append(archives, f)
		}
	}
	return archives, nil
}

// Directory returns the local backup directory
func (a *Agent) Directory() string {
	return filepath.Clean(a.cfg.Directory)
}

func (a *Agent) saveRecord(record *database.BackupRecord, create bool) {
	if a.store == nil {
		return
	}
	var err error
	if create {
		err = a.store.CreateBackup(record)
	} else {
		err = a.store.UpdateBackup(record)
	}
	if err != nil {
		log.Printf("[Backup] Warning: failed to save backup record: %v", err)
	}
}

func (a *Agent) publish(record *database.BackupRecord) {
	if a.hub == nil {
		return
	}
	a.hub.BroadcastToRoom(websocket.RoomEvents, &websocket.Message{
		Type: websocket.TypeBackupEvent,
		Payload: Event{
			ID:        record.ID,
			Initiator: record.Initiator,
			Status:    record.Status,
			Filename:  record.Filename,
			SizeBytes: record.SizeBytes,
			Error:     record.ErrorMessage,
		},
	})
}
