package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/yourusername/bedrock-server-manager/internal/config"
)

// Destination represents a remote copy target for archives
type Destination interface {
	// Upload copies an archive from reader to the destination
	Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error

	// Delete removes an archive from the destination
	Delete(ctx context.Context, filename string) error

	// List returns all archives at the destination
	List(ctx context.Context) ([]BackupFile, error)

	// GetType returns the destination type identifier
	GetType() string

	// Close releases any connection held by the destination
	Close() error
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"` // Unix timestamp
}

// Dialer opens a destination for one backup run
type Dialer func(ctx context.Context, cfg config.BackupDestination) (Destination, error)

// NewDestination opens a destination based on config
func NewDestination(ctx context.Context, cfg config.BackupDestination) (Destination, error) {
	switch cfg.Type {
	case "local":
		return NewLocalDestination(cfg.Path), nil
	case "sftp":
		return NewSFTPDestination(ctx, cfg)
	case "s3":
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.Type)
	}
}

// describe names a destination for logs and upload records
func describe(cfg config.BackupDestination) string {
	switch cfg.Type {
	case "sftp":
		return fmt.Sprintf("sftp://%s@%s:%d/%s", cfg.Username, cfg.Host, cfg.Port, cfg.Path)
	case "s3":
		return fmt.Sprintf("s3://%s/%s", cfg.Bucket, cfg.Path)
	default:
		return fmt.Sprintf("%s:%s", cfg.Type, cfg.Path)
	}
}
