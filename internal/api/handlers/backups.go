package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/bedrock-server-manager/internal/backup"
	"github.com/yourusername/bedrock-server-manager/internal/database"
)

// BackupStarter starts background backups and lists local archives
type BackupStarter interface {
	Start(ctx context.Context, initiator string) error
	LocalArchives() ([]backup.BackupFile, error)
}

// BackupLister lists persisted backup records
type BackupLister interface {
	ListBackups(limit int) ([]database.BackupRecord, error)
}

// BackupHandler handles backup-related HTTP requests
type BackupHandler struct {
	agent BackupStarter
	store BackupLister
}

// NewBackupHandler creates a new backup handler. store may be nil.
func NewBackupHandler(agent BackupStarter, store BackupLister) *BackupHandler {
	return &BackupHandler{agent: agent, store: store}
}

// CreateBackup starts a world backup in the background
// POST /api/v1/backups
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	if err := h.agent.Start(c.Request.Context(), APIInitiator); err != nil {
		if errors.Is(err, backup.ErrBackupInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Backup started"})
}

// ListBackups returns backup records and the archives present on disk
// GET /api/v1/backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	archives, err := h.agent.LocalArchives()
	if err != nil {
		log.Printf("[API] Failed to list archives: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list backups"})
		return
	}
	if archives == nil {
		archives = []backup.BackupFile{}
	}

	response := gin.H{
		"archives": archives,
		"count":    len(archives),
	}

	if h.store != nil {
		records, err := h.store.ListBackups(queryInt(c, "limit", 50, 500))
		if err != nil {
			log.Printf("[API] Failed to list backup records: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list backups"})
			return
		}
		response["backups"] = records
	}

	c.JSON(http.StatusOK, response)
}
