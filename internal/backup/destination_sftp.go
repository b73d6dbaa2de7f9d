package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"

	"github.com/yourusername/bedrock-server-manager/internal/config"
	sshclient "github.com/yourusername/bedrock-server-manager/internal/ssh"
)

// SFTPDestination stores archives on a remote SFTP server
type SFTPDestination struct {
	config     config.BackupDestination
	sshClient  *xssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination connects to the configured SFTP server
func NewSFTPDestination(ctx context.Context, cfg config.BackupDestination) (*SFTPDestination, error) {
	dest := &SFTPDestination{
		config: cfg,
	}

	if err := dest.connect(ctx); err != nil {
		return nil, err
	}

	return dest, nil
}

func (sd *SFTPDestination) connect(ctx context.Context) error {
	log.Printf("[SFTPDest] Connecting to %s...", sd.config.Host)

	sshClient, err := sshclient.Dial(ctx, sshclient.ClientConfig{
		Host:            sd.config.Host,
		Port:            sd.config.Port,
		Username:        sd.config.Username,
		KeyPath:         sd.config.KeyPath,
		Password:        sd.config.Password,
		Timeout:         30 * time.Second,
		KnownHostsPath:  sd.config.KnownHostsPath,
		TrustOnFirstUse: sd.config.TrustOnFirstUse,
	})
	if err != nil {
		return err
	}
	sd.sshClient = sshClient

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	sd.sftpClient = sftpClient

	if sd.config.Path != "" {
		if err := sd.sftpClient.MkdirAll(sd.config.Path); err != nil {
			sd.Close()
			return fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	log.Printf("[SFTPDest] Connected successfully")
	return nil
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
	}
	if sd.sshClient != nil {
		return sd.sshClient.Close()
	}
	return nil
}

// Upload writes an archive to the remote directory
func (sd *SFTPDestination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	destPath := path.Join(sd.config.Path, filename)
	log.Printf("[SFTPDest] Uploading %s to %s (%d bytes)", filename, destPath, sizeBytes)

	file, err := sd.sftpClient.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer file.Close()

	// Closing the connection is the only way to interrupt an in-flight copy.
	stop := context.AfterFunc(ctx, func() { sd.sshClient.Close() })
	defer stop()

	written, err := file.ReadFrom(reader)
	if err != nil {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	if written != sizeBytes {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	log.Printf("[SFTPDest] Upload complete: %s", filename)
	return nil
}

// Delete removes an archive from the remote directory
func (sd *SFTPDestination) Delete(ctx context.Context, filename string) error {
	destPath := path.Join(sd.config.Path, filename)
	if err := sd.sftpClient.Remove(destPath); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns the archives in the remote directory
func (sd *SFTPDestination) List(ctx context.Context) ([]BackupFile, error) {
	dir := sd.config.Path
	if dir == "" {
		dir = "."
	}
	entries, err := sd.sftpClient.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime().Unix(),
		})
	}

	return files, nil
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}
